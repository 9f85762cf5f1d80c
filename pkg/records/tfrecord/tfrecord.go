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

// Package tfrecord reads and writes files of self-delimiting records.
//
// Each record is framed as:
//
//	uint64 length               (little-endian)
//	uint32 masked CRC32-C of the 8 length bytes
//	byte   payload[length]
//	uint32 masked CRC32-C of the payload
//
// There is no file header, footer or index: a file is just the concatenation of its records.
// The framing is the same used by TensorFlow's TFRecord files.
package tfrecord

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"iter"

	"github.com/pkg/errors"
)

const (
	lengthSize = 8
	crcSize    = 4
	headerSize = lengthSize + crcSize

	// Overhead is the number of framing bytes added to each record.
	Overhead = headerSize + crcSize

	crcMaskDelta = 0xa282ead8
)

// MaxRecordSize protects readers from allocating absurd amounts of memory when reading
// a corrupted length.
var MaxRecordSize uint64 = 1 << 32

// ErrCorrupt is returned (wrapped) when a record is truncated or fails its checksum.
var ErrCorrupt = errors.New("corrupt record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// MaskedCRC returns the masked CRC32-C checksum of data.
func MaskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + crcMaskDelta
}

// Writer appends framed records to an io.Writer. It buffers, so Flush must be called
// before closing the underlying writer.
type Writer struct {
	w          *bufio.Writer
	numRecords int64
	numBytes   int64
}

// NewWriter creates a Writer appending to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write appends one record with the given payload.
func (w *Writer) Write(payload []byte) error {
	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[:lengthSize], uint64(len(payload)))
	binary.LittleEndian.PutUint32(header[lengthSize:], MaskedCRC(header[:lengthSize]))
	var footer [crcSize]byte
	binary.LittleEndian.PutUint32(footer[:], MaskedCRC(payload))
	for _, part := range [][]byte{header[:], payload, footer[:]} {
		n, err := w.w.Write(part)
		w.numBytes += int64(n)
		if err != nil {
			return errors.Wrapf(err, "writing record #%d", w.numRecords)
		}
	}
	w.numRecords++
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return errors.Wrap(w.w.Flush(), "flushing records")
}

// NumRecords written so far.
func (w *Writer) NumRecords() int64 { return w.numRecords }

// NumBytes written so far, including framing.
func (w *Writer) NumBytes() int64 { return w.numBytes }

// Reader reads framed records from an io.Reader.
type Reader struct {
	r     *bufio.Reader
	index int64
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Index of the next record to be read.
func (r *Reader) Index() int64 { return r.index }

// Next returns the payload of the next record.
//
// It returns io.EOF if there are no more records, and an error wrapping ErrCorrupt if the
// record is truncated or fails a checksum.
func (r *Reader) Next() ([]byte, error) {
	var header [headerSize]byte
	n, err := io.ReadFull(r.r, header[:])
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, r.readError(err, "header", n)
	}
	length := binary.LittleEndian.Uint64(header[:lengthSize])
	if MaskedCRC(header[:lengthSize]) != binary.LittleEndian.Uint32(header[lengthSize:]) {
		return nil, errors.Wrapf(ErrCorrupt, "record #%d: length checksum mismatch", r.index)
	}
	if length > MaxRecordSize {
		return nil, errors.Wrapf(ErrCorrupt, "record #%d: length %d larger than MaxRecordSize=%d",
			r.index, length, MaxRecordSize)
	}
	payload := make([]byte, length)
	if n, err = io.ReadFull(r.r, payload); err != nil {
		return nil, r.readError(err, "payload", n)
	}
	var footer [crcSize]byte
	if n, err = io.ReadFull(r.r, footer[:]); err != nil {
		return nil, r.readError(err, "payload checksum", n)
	}
	if MaskedCRC(payload) != binary.LittleEndian.Uint32(footer[:]) {
		return nil, errors.Wrapf(ErrCorrupt, "record #%d: payload checksum mismatch", r.index)
	}
	r.index++
	return payload, nil
}

func (r *Reader) readError(err error, part string, n int) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrapf(ErrCorrupt, "record #%d: truncated %s (%d bytes read)", r.index, part, n)
	}
	return errors.Wrapf(err, "reading record #%d %s", r.index, part)
}

// All returns an iterator over the remaining records. Iteration stops after the first error,
// which is yielded. io.EOF is not yielded.
func (r *Reader) All() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			payload, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(payload, err) || err != nil {
				return
			}
		}
	}
}
