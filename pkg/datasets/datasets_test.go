/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package datasets

import (
	"fmt"
	"io"
	"math/rand"
	"slices"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDS yields 0, 1, ..., maxValue-1 and counts resets.
type testDS struct {
	next, maxValue int
	resets         int
}

func (ds *testDS) Name() string { return "testDS" }
func (ds *testDS) Reset() {
	ds.next = 0
	ds.resets++
}
func (ds *testDS) Yield() (int, error) {
	if ds.next >= ds.maxValue {
		return 0, io.EOF
	}
	ds.next++
	return ds.next - 1, nil
}

// readAll yields from ds until io.EOF.
func readAll[T any](t *testing.T, ds Dataset[T]) []T {
	var all []T
	for {
		e, err := ds.Yield()
		if err == io.EOF {
			return all
		}
		require.NoError(t, err)
		all = append(all, e)
	}
}

func TestTake(t *testing.T) {
	ds := Take[int](&testDS{maxValue: 10}, 3)
	assert.Equal(t, []int{0, 1, 2}, readAll(t, ds))
	ds.Reset()
	assert.Equal(t, []int{0, 1, 2}, readAll(t, ds))
	assert.Equal(t, "testDS [Take 3]", ds.Name())
}

func TestMap(t *testing.T) {
	ds := Map[int, string](&testDS{maxValue: 3}, func(v int) (string, error) {
		return fmt.Sprintf("#%d", v), nil
	})
	assert.Equal(t, []string{"#0", "#1", "#2"}, readAll(t, ds))

	failure := errors.New("odd value")
	ds = Map[int, string](&testDS{maxValue: 3}, func(v int) (string, error) {
		if v%2 == 1 {
			return "", failure
		}
		return "ok", nil
	})
	_, err := ds.Yield()
	require.NoError(t, err)
	_, err = ds.Yield()
	require.ErrorIs(t, err, failure)
}

func TestRepeat(t *testing.T) {
	source := &testDS{maxValue: 3}
	ds := Repeat[int](source, 2)
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, readAll(t, ds))
	assert.Equal(t, 1, source.resets)

	// Once exhausted, it stays exhausted.
	_, err := ds.Yield()
	require.Equal(t, io.EOF, err)

	assert.Empty(t, readAll(t, Repeat[int](&testDS{maxValue: 3}, 0)))

	// Infinite repeat.
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, readAll(t, Take(Repeat[int](&testDS{maxValue: 3}, -1), 7)))

	// Infinite repeat over an empty dataset must not loop forever.
	assert.Empty(t, readAll(t, Repeat[int](&testDS{maxValue: 0}, -1)))
}

func TestBatch(t *testing.T) {
	// Drop remainder: 5 elements, batch size 2 -> 2 batches.
	batches := readAll(t, Batch[int](&testDS{maxValue: 5}, 2, true))
	assert.Equal(t, [][]int{{0, 1}, {2, 3}}, batches)

	// Keep remainder.
	batches = readAll(t, Batch[int](&testDS{maxValue: 5}, 2, false))
	assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4}}, batches)

	// Batches span epochs.
	batches = readAll(t, Batch(Repeat[int](&testDS{maxValue: 10}, 2), 3, true))
	require.Len(t, batches, 6)
	for _, batch := range batches {
		require.Len(t, batch, 3)
	}
	assert.Equal(t, []int{9, 0, 1}, batches[3])
}

func TestShuffle(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const n = 50

	// Window larger than the dataset: same multiset.
	shuffled := readAll(t, Shuffle[int](&testDS{maxValue: n}, 1000, rng))
	require.Len(t, shuffled, n)
	assert.False(t, slices.IsSorted(shuffled), "shuffle with seed 42 returned sorted values")
	slices.Sort(shuffled)
	for ii, v := range shuffled {
		require.Equal(t, ii, v)
	}

	// Small window: still the same multiset, and each element is at most
	// windowSize-1 positions earlier than its original position.
	const window = 4
	shuffled = readAll(t, Shuffle[int](&testDS{maxValue: n}, window, rng))
	require.Len(t, shuffled, n)
	for pos, v := range shuffled {
		require.LessOrEqual(t, v, pos+window-1)
	}
	slices.Sort(shuffled)
	for ii, v := range shuffled {
		require.Equal(t, ii, v)
	}

	// Window of 1 is the identity.
	assert.Equal(t, []int{0, 1, 2, 3}, readAll(t, Shuffle[int](&testDS{maxValue: 4}, 1, rng)))
}

func TestShuffleRepeatReshuffles(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n = 20
	all := readAll(t, Repeat(Shuffle[int](&testDS{maxValue: n}, 1000, rng), 2))
	require.Len(t, all, 2*n)
	first, second := slices.Clone(all[:n]), slices.Clone(all[n:])
	assert.NotEqual(t, first, second, "each epoch should be shuffled differently")
	slices.Sort(first)
	slices.Sort(second)
	assert.Equal(t, first, second)
}

func TestFromSlice(t *testing.T) {
	ds := FromSlice("letters", []string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, readAll(t, ds))
	ds.Reset()
	assert.Equal(t, []string{"a", "b"}, readAll(t, ds))
	assert.Equal(t, "letters [Shuffle 10]", Shuffle(ds, 10, nil).Name())
}
