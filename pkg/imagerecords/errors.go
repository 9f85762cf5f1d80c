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
)

// ErrEndOfSequence is returned by Reader.Yield once all batches have been yielded.
var ErrEndOfSequence = io.EOF

// IOError reports a failure to access a directory or file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// DecodeError reports a file that could not be decoded as an image.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image %q: %v", e.Path, e.Err)
}
func (e *DecodeError) Unwrap() error { return e.Err }

// LabelParseError reports a filename that doesn't encode a label.
type LabelParseError struct {
	Filename string
	Err      error
}

func (e *LabelParseError) Error() string {
	return fmt.Sprintf("failed to parse label from filename %q: %v", e.Filename, e.Err)
}
func (e *LabelParseError) Unwrap() error { return e.Err }

// CorruptRecordError reports a stored record that can't be decoded, or whose declared
// shape disagrees with the length of its data.
type CorruptRecordError struct {
	// Index of the record in the file, starting from 0.
	Index  int64
	Reason string
	Err    error
}

func (e *CorruptRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt record #%d: %s: %v", e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt record #%d: %s", e.Index, e.Reason)
}
func (e *CorruptRecordError) Unwrap() error { return e.Err }
