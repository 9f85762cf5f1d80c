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

// Package imagerecords converts a directory of images to a record file, and reads it back in batches.
//
// Each image is stored as one record (a tf.train.Example, framed as in TFRecord files) with the
// features:
//
//   - "img_shape": int64 list [height, width, channels].
//   - "img_data": the raw pixels, row-major, one byte per channel.
//   - "img_label": int64, only if class labels are enabled. It is parsed from the filename, see DeriveLabel.
//
// Pixels are stored in RGB order by default. Files generated with OpenCV (cv2.imread) hold BGR
// pixels: use Generator.Format(BGR) to produce files compatible with them.
//
// Optionally a second file, "label.tfrecords", is generated with a label image (e.g. a segmentation
// mask) per input, with the features "shape" and "img_data".
//
// To generate:
//
//	summary, err := imagerecords.NewGenerator(inputDir, outputDir).
//		ClassLabels(true).
//		Generate("train.tfrecords")
//
// To read:
//
//	reader, err := imagerecords.NewReader(path).BatchSize(32).Epochs(10).Shuffle(true).
//		Schema(imagerecords.LabeledSchema).Done()
//	if err != nil { ... }
//	defer reader.Close()
//	for batch, err := range reader.Batches() {
//		if err != nil { ... }
//		images, err := batch.Images()
//		...
//	}
//
// The default schema, FixedSchema, reads "img_shape" and "img_data" of any primary file, labeled
// or not. LabeledSchema also reads "img_label", and requires it in every record.
//
// Reading is a pipeline of datasets: records are parsed, optionally shuffled in a window of
// DefaultShuffleWindow records, repeated for the number of epochs, and batched, dropping the
// last incomplete batch.
package imagerecords
