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

// Package datasets is a collection of lazy dataset combinators that can be chained for
// preprocessing: `Map`, `Shuffle`, `Repeat`, `Batch`, `Take`.
//
// Each element is pulled from the source only when Yield is called, so memory is bounded by
// the buffers of the combinators (shuffle window, batch size).
package datasets

import (
	"fmt"
	"io"
)

// Dataset yields elements of type T one at a time.
type Dataset[T any] interface {
	// Name of the dataset, used for logging and error messages.
	Name() string

	// Reset restarts the dataset from the beginning. Errors found while resetting are
	// returned by the following Yield.
	Reset()

	// Yield returns the next element, or io.EOF if the dataset is exhausted.
	Yield() (T, error)
}

// takeDataset implements a Dataset that only yields `take` elements.
type takeDataset[T any] struct {
	ds          Dataset[T]
	count, take int
}

// Take returns a wrapper to `ds`, a Dataset that only yields `n` elements.
func Take[T any](ds Dataset[T], n int) Dataset[T] {
	return &takeDataset[T]{
		ds:   ds,
		take: n,
	}
}

// Name implements Dataset. It returns the dataset name.
func (ds *takeDataset[T]) Name() string {
	return fmt.Sprintf("%s [Take %d]", ds.ds.Name(), ds.take)
}

// Reset implements Dataset.
func (ds *takeDataset[T]) Reset() {
	ds.ds.Reset()
	ds.count = 0
}

// Yield implements Dataset.
func (ds *takeDataset[T]) Yield() (element T, err error) {
	if ds.count >= ds.take {
		err = io.EOF
		return
	}
	ds.count++
	return ds.ds.Yield()
}

// sliceDataset yields the elements of a slice.
type sliceDataset[T any] struct {
	name     string
	elements []T
	next     int
}

// FromSlice creates a Dataset that yields the given elements, in order. Mostly useful for tests.
func FromSlice[T any](name string, elements []T) Dataset[T] {
	return &sliceDataset[T]{name: name, elements: elements}
}

// Name implements Dataset.
func (ds *sliceDataset[T]) Name() string { return ds.name }

// Reset implements Dataset.
func (ds *sliceDataset[T]) Reset() { ds.next = 0 }

// Yield implements Dataset.
func (ds *sliceDataset[T]) Yield() (element T, err error) {
	if ds.next >= len(ds.elements) {
		err = io.EOF
		return
	}
	element = ds.elements[ds.next]
	ds.next++
	return
}

// mapDataset applies a function to each element of the source.
type mapDataset[In, Out any] struct {
	ds Dataset[In]
	fn func(In) (Out, error)
}

// Map returns a Dataset that yields `fn` applied to each element of `ds`. If `fn` returns
// an error, it is returned by Yield.
func Map[In, Out any](ds Dataset[In], fn func(In) (Out, error)) Dataset[Out] {
	return &mapDataset[In, Out]{ds: ds, fn: fn}
}

// Name implements Dataset.
func (ds *mapDataset[In, Out]) Name() string { return fmt.Sprintf("%s [Map]", ds.ds.Name()) }

// Reset implements Dataset.
func (ds *mapDataset[In, Out]) Reset() { ds.ds.Reset() }

// Yield implements Dataset.
func (ds *mapDataset[In, Out]) Yield() (element Out, err error) {
	var in In
	in, err = ds.ds.Yield()
	if err != nil {
		return
	}
	return ds.fn(in)
}

// repeatDataset loops over the source for a number of epochs.
type repeatDataset[T any] struct {
	ds     Dataset[T]
	epochs int

	// epoch being read, and number of elements yielded in the current epoch.
	epoch, count int
}

// Repeat returns a Dataset that goes over `ds` `epochs` times, calling `ds.Reset()` at
// the end of each epoch.
//
// If epochs is negative it repeats indefinitely -- except if `ds` is empty, in which case it
// returns io.EOF. If epochs is 0 it yields nothing.
func Repeat[T any](ds Dataset[T], epochs int) Dataset[T] {
	return &repeatDataset[T]{ds: ds, epochs: epochs}
}

// Name implements Dataset.
func (ds *repeatDataset[T]) Name() string {
	if ds.epochs < 0 {
		return fmt.Sprintf("%s [Repeat]", ds.ds.Name())
	}
	return fmt.Sprintf("%s [Repeat %d]", ds.ds.Name(), ds.epochs)
}

// Reset implements Dataset.
func (ds *repeatDataset[T]) Reset() {
	ds.ds.Reset()
	ds.epoch, ds.count = 0, 0
}

// Epoch returns the current epoch, starting from 0.
func (ds *repeatDataset[T]) Epoch() int { return ds.epoch }

// Yield implements Dataset.
func (ds *repeatDataset[T]) Yield() (element T, err error) {
	for {
		if ds.epochs >= 0 && ds.epoch >= ds.epochs {
			err = io.EOF
			return
		}
		element, err = ds.ds.Yield()
		if err != io.EOF {
			if err == nil {
				ds.count++
			}
			return
		}
		if ds.count == 0 {
			// Empty epoch: looping again would yield nothing forever.
			ds.epoch = max(ds.epochs, ds.epoch+1)
			return
		}
		ds.epoch++
		ds.count = 0
		if ds.epochs < 0 || ds.epoch < ds.epochs {
			ds.ds.Reset()
		}
	}
}
