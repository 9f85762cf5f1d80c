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
	"path/filepath"
	"strconv"
	"strings"
)

// LabelFunc derives the class label of an image from its filename.
type LabelFunc func(filename string) (int64, error)

// DeriveLabel is the default LabelFunc: the label is the integer after the last "_" and before
// the first "." that follows it. E.g.: "cat_3.jpg" -> 3, "a_b_12.png" -> 12.
//
// If there is no "_", the integer is read from the start of the name ("7.jpg" -> 7). Any directory
// part of filename is ignored. It returns a *LabelParseError if there is no integer to parse.
func DeriveLabel(filename string) (int64, error) {
	base := filepath.Base(filename)
	segment := base
	if idx := strings.LastIndex(base, "_"); idx >= 0 {
		segment = base[idx+1:]
	}
	segment, _, _ = strings.Cut(segment, ".")
	label, err := strconv.ParseInt(segment, 10, 64)
	if err != nil {
		return 0, &LabelParseError{Filename: filename, Err: err}
	}
	return label, nil
}
