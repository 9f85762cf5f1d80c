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
)

// batchedDataset implements Dataset and batches results from the underlying dataset.
//
// See details in Batch, the function used to create it.
type batchedDataset[T any] struct {
	ds                  Dataset[T]
	batchSize           int
	dropIncompleteBatch bool
	buffer              []T
}

// Batch creates a dataset that groups the elements of `ds` into batches of `batchSize`.
//
// Args:
//   - `ds`: the dataset to be batched.
//   - `batchSize`: size of each batch, except when there are no more examples, in which
//     case batches can be smaller (except if `dropIncompleteBatch` was selected). It must be >= 1.
//   - `dropIncompleteBatch`: at the end of the source, if there are not enough elements to fill a
//     batch, and this is set to true, the last batch is dropped. Otherwise, it returns
//     a partial batch.
//
// Each yielded batch is a newly allocated slice, owned by the caller.
func Batch[T any](ds Dataset[T], batchSize int, dropIncompleteBatch bool) Dataset[[]T] {
	batchSize = max(batchSize, 1)
	return &batchedDataset[T]{
		ds:                  ds,
		batchSize:           batchSize,
		dropIncompleteBatch: dropIncompleteBatch,
	}
}

// Name implements Dataset. It returns the dataset name.
func (ds *batchedDataset[T]) Name() string {
	return fmt.Sprintf("%s [Batch %d]", ds.ds.Name(), ds.batchSize)
}

// Reset implements Dataset.
func (ds *batchedDataset[T]) Reset() {
	ds.buffer = nil
	ds.ds.Reset()
}

// Yield implements Dataset.
func (ds *batchedDataset[T]) Yield() (batch []T, err error) {
	if ds.buffer == nil {
		ds.buffer = make([]T, 0, ds.batchSize)
	}
	for len(ds.buffer) < ds.batchSize {
		var e T
		e, err = ds.ds.Yield()
		if err == io.EOF {
			if ds.dropIncompleteBatch || len(ds.buffer) == 0 {
				ds.buffer = ds.buffer[:0]
				return
			}
			// Else returns incomplete batch.
			err = nil
			break
		}
		if err != nil {
			// Partial batch is discarded along with the failure.
			ds.buffer = ds.buffer[:0]
			return
		}
		ds.buffer = append(ds.buffer, e)
	}
	batch = ds.buffer
	ds.buffer = nil
	return
}
