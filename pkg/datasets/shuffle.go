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
	"time"
)

// shuffleDataset approximates a full shuffle with a bounded buffer.
type shuffleDataset[T any] struct {
	ds         Dataset[T]
	windowSize int
	rng        *rand.Rand

	buffer    []T
	exhausted bool
}

// Shuffle returns a Dataset that yields the elements of `ds` in random order, using a
// buffer of `windowSize` elements: the buffer is filled from `ds`, a random element of
// the buffer is yielded, and its place is taken by the next element of `ds`.
//
// If windowSize is larger or equal to the number of elements in `ds`, it is a uniform
// shuffle. If rng is nil, one seeded with the current time is used.
//
// Each Reset (for instance, when wrapped by Repeat) reshuffles.
func Shuffle[T any](ds Dataset[T], windowSize int, rng *rand.Rand) Dataset[T] {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	windowSize = max(windowSize, 1)
	return &shuffleDataset[T]{
		ds:         ds,
		windowSize: windowSize,
		rng:        rng,
		buffer:     make([]T, 0, min(windowSize, 1024)),
	}
}

// Name implements Dataset.
func (ds *shuffleDataset[T]) Name() string {
	return fmt.Sprintf("%s [Shuffle %d]", ds.ds.Name(), ds.windowSize)
}

// Reset implements Dataset.
func (ds *shuffleDataset[T]) Reset() {
	clear(ds.buffer)
	ds.buffer = ds.buffer[:0]
	ds.exhausted = false
	ds.ds.Reset()
}

// Yield implements Dataset.
func (ds *shuffleDataset[T]) Yield() (element T, err error) {
	for !ds.exhausted && len(ds.buffer) < ds.windowSize {
		var e T
		e, err = ds.ds.Yield()
		if err == io.EOF {
			ds.exhausted = true
			err = nil
			break
		}
		if err != nil {
			return
		}
		ds.buffer = append(ds.buffer, e)
	}
	if len(ds.buffer) == 0 {
		err = io.EOF
		return
	}
	idx := ds.rng.Intn(len(ds.buffer))
	last := len(ds.buffer) - 1
	element = ds.buffer[idx]
	ds.buffer[idx] = ds.buffer[last]
	var zero T
	ds.buffer[last] = zero
	ds.buffer = ds.buffer[:last]
	return
}
