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

package imagerecords

import (
	"fmt"
	"io"
	"iter"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/gomlx/imagerecords/pkg/datasets"
	"github.com/gomlx/imagerecords/pkg/records/features"
	"github.com/gomlx/imagerecords/pkg/records/tfrecord"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// FixedSchema reads records without label: "img_shape" and "img_data".
	FixedSchema = features.Schema{
		features.FixedLen(FeatureImageShape, features.Int64, 3),
		features.FixedLen(FeatureImageData, features.Bytes),
	}

	// LabeledSchema reads records written with class labels: "img_shape", "img_data" and "img_label".
	LabeledSchema = features.Schema{
		features.FixedLen(FeatureImageShape, features.Int64, 3),
		features.FixedLen(FeatureImageData, features.Bytes),
		features.FixedLen(FeatureImageLabel, features.Int64),
	}

	// LabelImageSchema reads the records of the label images file: "shape" and "img_data".
	LabelImageSchema = features.Schema{
		features.FixedLen(FeatureLabelImageShape, features.Int64, 3),
		features.FixedLen(FeatureImageData, features.Bytes),
	}
)

// DefaultShuffleWindow is the number of records buffered for shuffling.
const DefaultShuffleWindow = 1000

// ParseRecord decodes raw according to schema, and returns one value per field, in schema order.
//
// If the schema has a shape field ("img_shape" or "shape") and "img_data", the dimensions must be
// non-negative and their product must match the number of bytes of the data. Any failure is returned
// as a *CorruptRecordError, with Index set to -1: callers that know the position of the record should set it.
func ParseRecord(raw []byte, schema features.Schema) ([]features.Value, error) {
	values, err := features.Parse(raw, schema)
	if err != nil {
		return nil, &CorruptRecordError{Index: -1, Reason: "failed to parse", Err: err}
	}
	dataIdx := schema.Index(FeatureImageData)
	if dataIdx < 0 {
		return values, nil
	}
	shapeIdx := schema.Index(FeatureImageShape)
	if shapeIdx < 0 {
		shapeIdx = schema.Index(FeatureLabelImageShape)
	}
	if shapeIdx < 0 || values[shapeIdx].Type != features.Int64 || values[dataIdx].Type != features.Uint8 {
		return values, nil
	}
	shape := values[shapeIdx].Int64s
	want, err := shapeSize(shape)
	if err != nil {
		return nil, &CorruptRecordError{Index: -1, Reason: "invalid shape", Err: err}
	}
	if got := int64(values[dataIdx].Len()); want != got {
		return nil, &CorruptRecordError{Index: -1,
			Reason: fmt.Sprintf("shape %v requires %d bytes of data, record has %d", shape, want, got)}
	}
	return values, nil
}

// shapeSize returns the product of dims, checking for negative dimensions and overflow.
func shapeSize(dims []int64) (int64, error) {
	var size int64 = 1
	for _, dim := range dims {
		if dim < 0 {
			return 0, errors.Errorf("negative dimension in shape %v", dims)
		}
		if dim != 0 && size > math.MaxInt64/dim {
			return 0, errors.Errorf("shape %v size overflows int64", dims)
		}
		size *= dim
	}
	return size, nil
}

// rawRecord is a record payload with its position in the file.
type rawRecord struct {
	index   int64
	payload []byte
}

// fileRecords is a datasets.Dataset over the records of a file. Reset seeks back to the start of the file.
type fileRecords struct {
	path   string
	f      *os.File
	reader *tfrecord.Reader
	err    error
}

func (ds *fileRecords) Name() string { return filepath.Base(ds.path) }

func (ds *fileRecords) Reset() {
	if _, err := ds.f.Seek(0, io.SeekStart); err != nil {
		ds.err = &IOError{Op: "seek", Path: ds.path, Err: err}
		return
	}
	ds.reader = tfrecord.NewReader(ds.f)
}

func (ds *fileRecords) Yield() (rec rawRecord, err error) {
	if ds.err != nil {
		return rec, ds.err
	}
	rec.index = ds.reader.Index()
	rec.payload, err = ds.reader.Next()
	if err == nil || err == io.EOF {
		return
	}
	if errors.Is(err, tfrecord.ErrCorrupt) {
		err = &CorruptRecordError{Index: rec.index, Reason: "invalid framing", Err: err}
	} else {
		err = &IOError{Op: "read", Path: ds.path, Err: err}
	}
	return
}

// ReaderConfig holds the configuration of a Reader. Create it with NewReader, and finalize it with Done.
type ReaderConfig struct {
	path                string
	batchSize, epochs   int
	shuffle             bool
	shuffleWindow       int
	rng                 *rand.Rand
	schema              features.Schema
	dropIncompleteBatch bool
	maxBatches          int
}

// NewReader starts the configuration of a Reader of the record file in path.
//
// Defaults: batch size 1, 1 epoch, no shuffling (window of DefaultShuffleWindow if enabled),
// FixedSchema. FixedSchema reads any primary record file, labeled or not: use
// Schema(LabeledSchema) to also read the class labels.
func NewReader(path string) *ReaderConfig {
	return &ReaderConfig{
		path:                path,
		batchSize:           1,
		epochs:              1,
		shuffleWindow:       DefaultShuffleWindow,
		schema:              FixedSchema,
		dropIncompleteBatch: true,
	}
}

// BatchSize sets the number of records per batch. Incomplete batches at the end are dropped.
func (c *ReaderConfig) BatchSize(batchSize int) *ReaderConfig {
	c.batchSize = batchSize
	return c
}

// Epochs sets the number of passes over the file. If negative, it loops indefinitely; if 0, nothing is read.
func (c *ReaderConfig) Epochs(epochs int) *ReaderConfig {
	c.epochs = epochs
	return c
}

// Shuffle enables shuffling the records with a buffer of ShuffleWindow records, reshuffled at every epoch.
func (c *ReaderConfig) Shuffle(shuffle bool) *ReaderConfig {
	c.shuffle = shuffle
	return c
}

// ShuffleWindow sets the size of the shuffle buffer. Default is DefaultShuffleWindow.
func (c *ReaderConfig) ShuffleWindow(window int) *ReaderConfig {
	c.shuffleWindow = window
	return c
}

// Random sets the random number generator used for shuffling, for reproducible results.
// By default, one seeded with the current time is used.
func (c *ReaderConfig) Random(rng *rand.Rand) *ReaderConfig {
	c.rng = rng
	return c
}

// Schema sets the schema used to parse the records. Default is FixedSchema.
func (c *ReaderConfig) Schema(schema features.Schema) *ReaderConfig {
	c.schema = schema
	return c
}

// MaxBatches limits the number of batches yielded. If <= 0 (the default), there is no limit.
func (c *ReaderConfig) MaxBatches(n int) *ReaderConfig {
	c.maxBatches = n
	return c
}

// Done opens the file and returns the Reader. The caller owns it and should Close it.
func (c *ReaderConfig) Done() (*Reader, error) {
	if c.batchSize < 1 {
		return nil, errors.Errorf("invalid batch size %d, it must be >= 1", c.batchSize)
	}
	if c.shuffle && c.shuffleWindow < 1 {
		return nil, errors.Errorf("invalid shuffle window %d, it must be >= 1", c.shuffleWindow)
	}
	if err := c.schema.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(c.path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: c.path, Err: err}
	}
	source := &fileRecords{path: c.path, f: f, reader: tfrecord.NewReader(f)}
	schema := c.schema
	var parsed datasets.Dataset[[]features.Value] = datasets.Map(datasets.Dataset[rawRecord](source),
		func(rec rawRecord) ([]features.Value, error) {
			values, err := ParseRecord(rec.payload, schema)
			if err != nil {
				var corrupt *CorruptRecordError
				if errors.As(err, &corrupt) {
					corrupt.Index = rec.index
				}
				return nil, err
			}
			return values, nil
		})
	if c.shuffle {
		parsed = datasets.Shuffle(parsed, c.shuffleWindow, c.rng)
	}
	parsed = datasets.Repeat(parsed, c.epochs)
	batches := datasets.Batch(parsed, c.batchSize, c.dropIncompleteBatch)
	if c.maxBatches > 0 {
		batches = datasets.Take(batches, c.maxBatches)
	}
	r := &Reader{
		path:    c.path,
		file:    f,
		schema:  schema,
		batches: batches,
	}
	klog.V(1).Infof("Reading %s", r.Name())
	return r, nil
}

// Open returns a Reader of the record file in path, with FixedSchema: it reads "img_shape" and
// "img_data" of every record, ignoring "img_label" if present.
//
// It yields batches of batchSize records (incomplete batches are dropped), going over the file epochs
// times (forever if negative). If shuffle is set, records are shuffled with a window of DefaultShuffleWindow.
func Open(path string, batchSize, epochs int, shuffle bool) (*Reader, error) {
	return NewReader(path).BatchSize(batchSize).Epochs(epochs).Shuffle(shuffle).Done()
}

// Reader yields batches of parsed records from a record file.
//
// It is not restartable: once it returns ErrEndOfSequence or an error, it keeps returning
// it. Open the file again to re-read it.
type Reader struct {
	path    string
	file    *os.File
	schema  features.Schema
	batches datasets.Dataset[[][]features.Value]
	err     error
}

// Name of the pipeline, e.g. "train.tfrecords [Map] [Shuffle 1000] [Repeat 2] [Batch 32]".
func (r *Reader) Name() string { return r.batches.Name() }

// Schema used to parse the records.
func (r *Reader) Schema() features.Schema { return r.schema }

// Yield returns the next batch, or ErrEndOfSequence when there are no more full batches.
func (r *Reader) Yield() (*Batch, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.file == nil {
		r.err = &IOError{Op: "read", Path: r.path, Err: os.ErrClosed}
		return nil, r.err
	}
	examples, err := r.batches.Yield()
	if err != nil {
		r.err = err
		return nil, err
	}
	return &Batch{Schema: r.schema, Examples: examples}, nil
}

// Batches returns an iterator over the remaining batches. Iteration ends at the end of the
// sequence, or after yielding the first error.
func (r *Reader) Batches() iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		for {
			batch, err := r.Yield()
			if err == ErrEndOfSequence {
				return
			}
			if !yield(batch, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the file. It is safe to call more than once.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	if err != nil {
		return &IOError{Op: "close", Path: r.path, Err: err}
	}
	return nil
}

// Batch of parsed records. Examples[i][j] is the value of field Schema[j] of the i-th record.
type Batch struct {
	Schema   features.Schema
	Examples [][]features.Value
}

// Size is the number of records in the batch.
func (b *Batch) Size() int { return len(b.Examples) }

// Column returns the value of the field `name` for each record of the batch, or nil if the
// field is not in the schema.
func (b *Batch) Column(name string) []features.Value {
	idx := b.Schema.Index(name)
	if idx < 0 {
		return nil
	}
	column := make([]features.Value, len(b.Examples))
	for ii, values := range b.Examples {
		column[ii] = values[idx]
	}
	return column
}

// Images converts the records of the batch to ImageRecord. The schema must have "img_data" and
// one of "img_shape" or "shape"; the label is set if it has "img_label".
func (b *Batch) Images() ([]ImageRecord, error) {
	dataIdx := b.Schema.Index(FeatureImageData)
	shapeIdx := b.Schema.Index(FeatureImageShape)
	if shapeIdx < 0 {
		shapeIdx = b.Schema.Index(FeatureLabelImageShape)
	}
	if dataIdx < 0 || shapeIdx < 0 {
		return nil, errors.Errorf("schema %s has no image fields", b.Schema)
	}
	labelIdx := b.Schema.Index(FeatureImageLabel)
	images := make([]ImageRecord, len(b.Examples))
	for ii, values := range b.Examples {
		shape, err := ShapeFromDims(values[shapeIdx].Int64s)
		if err != nil {
			return nil, errors.WithMessagef(err, "batch record #%d", ii)
		}
		images[ii] = ImageRecord{Shape: shape, Data: values[dataIdx].Bytes}
		if labelIdx >= 0 {
			images[ii].Label = values[labelIdx].Int64()
			images[ii].HasLabel = true
		}
	}
	return images, nil
}
