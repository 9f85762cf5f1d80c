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
	"os"
	"path/filepath"

	"github.com/gomlx/imagerecords/pkg/records/example"
	"github.com/gomlx/imagerecords/pkg/records/tfrecord"
	"github.com/gomlx/imagerecords/pkg/support/fsutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Names of the features stored in the records.
const (
	FeatureImageShape = "img_shape"
	FeatureImageData  = "img_data"
	FeatureImageLabel = "img_label"

	// FeatureLabelImageShape is the shape feature of the records in the label images file.
	FeatureLabelImageShape = "shape"
)

const (
	// DefaultRecordFileName is used by Generate when no name is given.
	DefaultRecordFileName = "train.tfrecords"

	// LabelRecordFileName is the name of the label images record file, created in the output directory.
	LabelRecordFileName = "label.tfrecords"
)

// ListInputs returns the names of the files in dir, sorted by name. Sub-directories are not included.
//
// It returns an *IOError if dir can't be read.
func ListInputs(dir string) ([]string, error) {
	names, err := fsutil.ListFiles(dir)
	if err != nil {
		return nil, &IOError{Op: "list", Path: dir, Err: err}
	}
	return names, nil
}

func encodeRecord(shapeKey string, rec ImageRecord) ([]byte, error) {
	e := example.New().
		Set(shapeKey, example.Int64List(rec.Shape.Dims()...)).
		Set(FeatureImageData, example.BytesList(rec.Data))
	if rec.HasLabel {
		e.Set(FeatureImageLabel, example.Int64List(rec.Label))
	}
	return e.Marshal()
}

// WriteRecord appends rec to w, with the features "img_shape", "img_data" and, if rec.HasLabel,
// "img_label".
//
// The length of rec.Data is not checked against the shape: mismatches are only detected when reading.
func WriteRecord(w *tfrecord.Writer, rec ImageRecord) error {
	payload, err := encodeRecord(FeatureImageShape, rec)
	if err != nil {
		return err
	}
	return w.Write(payload)
}

// WriteLabelImageRecord appends a label image record to w, with the features "shape" and "img_data".
// rec.Label is ignored.
func WriteLabelImageRecord(w *tfrecord.Writer, rec ImageRecord) error {
	rec.HasLabel = false
	payload, err := encodeRecord(FeatureLabelImageShape, rec)
	if err != nil {
		return err
	}
	return w.Write(payload)
}

// Summary of a generation pass.
type Summary struct {
	// Path of the record file, and LabelPath of the label images file (empty if not generated).
	Path, LabelPath string

	NumRecords, NumLabelRecords int64

	// NumBytes written to all files.
	NumBytes int64

	// Skipped holds the inputs skipped, only if Generator.SkipInvalid is set.
	Skipped []string
}

// Generator converts a directory of images to a record file. Create it with NewGenerator,
// configure it with the chained methods, and call Generate.
type Generator struct {
	inputDir, outputDir string

	classLabels bool
	labelFn     LabelFunc

	imageLabels bool
	labelDir    string

	format        PixelFormat
	width, height int

	skipInvalid, atomicRename, verbose bool
}

// NewGenerator creates a Generator that reads the images in inputDir and writes the records to outputDir.
//
// By default, no labels are generated, images are stored as RGB in their original size, and any
// failure aborts the generation.
func NewGenerator(inputDir, outputDir string) *Generator {
	return &Generator{
		inputDir:  inputDir,
		outputDir: outputDir,
		labelFn:   DeriveLabel,
		format:    RGB,
	}
}

// ClassLabels configures whether to store a class label ("img_label") in each record, derived from
// the filename with the LabelFunc (DeriveLabel by default).
//
// It returns the Generator, so configuration calls can be cascaded.
func (g *Generator) ClassLabels(enabled bool) *Generator {
	g.classLabels = enabled
	return g
}

// LabelFunc sets the function used to derive class labels from filenames. It defaults to DeriveLabel.
func (g *Generator) LabelFunc(fn LabelFunc) *Generator {
	g.labelFn = fn
	return g
}

// ImageLabels configures whether to generate a separate label images file (LabelRecordFileName): for
// each input image, the image with the same name in labelDir is stored in it.
//
// Enabling both ClassLabels and ImageLabels is allowed: they produce two independent label sources.
func (g *Generator) ImageLabels(enabled bool, labelDir string) *Generator {
	g.imageLabels = enabled
	g.labelDir = labelDir
	return g
}

// Format sets the pixel format of the stored images. Default is RGB.
// Use BGR to match files generated with OpenCV.
func (g *Generator) Format(format PixelFormat) *Generator {
	g.format = format
	return g
}

// Resize configures images (and label images) to be resized to width x height before being stored,
// keeping their proportions and padding the remainder. Set both to 0 (the default) to store images
// in their original size.
func (g *Generator) Resize(width, height int) *Generator {
	g.width, g.height = width, height
	return g
}

// SkipInvalid configures the generator to skip, with a warning, inputs that are not decodable images
// or whose filename doesn't encode a label. The default is to abort on the first failure.
//
// It can't be used with ImageLabels, since it would break the pairing between images and labels.
func (g *Generator) SkipInvalid(skip bool) *Generator {
	g.skipInvalid = skip
	return g
}

// AtomicRename configures files to be written to a temporary file in the output directory, and only
// renamed to their final name once complete. On failure the temporary file is removed.
//
// The default is to write directly to the final file, which is left partially written on failure.
func (g *Generator) AtomicRename(atomic bool) *Generator {
	g.atomicRename = atomic
	return g
}

// Verbose configures whether to display a progress bar.
func (g *Generator) Verbose(verbose bool) *Generator {
	g.verbose = verbose
	return g
}

func (g *Generator) validate() error {
	if g.inputDir == "" {
		return errors.New("no input directory given")
	}
	if g.outputDir == "" {
		return errors.New("no output directory given")
	}
	if g.classLabels && g.labelFn == nil {
		return errors.New("class labels enabled, but LabelFunc is nil")
	}
	if g.imageLabels {
		if g.labelDir == "" {
			return errors.New("image labels enabled, but no label directory given")
		}
		if g.skipInvalid {
			return errors.New("SkipInvalid can't be used with image labels: it would break the pairing of images and label images")
		}
		isDir, err := fsutil.IsDir(g.labelDir)
		if err != nil {
			return &IOError{Op: "stat", Path: g.labelDir, Err: err}
		}
		if !isDir {
			return &IOError{Op: "stat", Path: g.labelDir, Err: errors.New("label directory doesn't exist")}
		}
	}
	if (g.width == 0) != (g.height == 0) || g.width < 0 || g.height < 0 {
		return errors.Errorf("invalid resize dimensions %dx%d: both must be positive, or both 0", g.width, g.height)
	}
	if g.format > Gray {
		return errors.Errorf("invalid pixel format %s", g.format)
	}
	return nil
}

// Generate creates the record file `name` (DefaultRecordFileName if empty) in the output directory,
// with one record per file in the input directory, in the order returned by ListInputs.
//
// If ImageLabels is enabled, the label images file is generated first, for the same list of inputs.
//
// Any failure aborts the pass (except the ones SkipInvalid allows), and the error is returned: one of
// *IOError, *DecodeError or *LabelParseError, or a configuration error.
func (g *Generator) Generate(name string) (*Summary, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	if name == "" {
		name = DefaultRecordFileName
	}

	// Inputs are listed before any output is created, so outputs are never read as inputs.
	inputs, err := ListInputs(g.inputDir)
	if err != nil {
		return nil, err
	}
	inputs = g.excludeOutputs(inputs, name)
	if err = os.MkdirAll(g.outputDir, 0777); err != nil {
		return nil, &IOError{Op: "mkdir", Path: g.outputDir, Err: err}
	}
	if g.classLabels && g.imageLabels {
		klog.Warningf("Both class labels and image labels enabled: %q will hold class labels and %q label images, "+
			"two independent label sources", name, LabelRecordFileName)
	}

	summary := &Summary{Path: filepath.Join(g.outputDir, name)}
	if g.imageLabels {
		summary.LabelPath = filepath.Join(g.outputDir, LabelRecordFileName)
		stats, err := g.writeFile(summary.LabelPath, g.labelDir, inputs, true)
		if err != nil {
			return nil, err
		}
		summary.NumLabelRecords = stats.numRecords
		summary.NumBytes += stats.numBytes
	}

	stats, err := g.writeFile(summary.Path, g.inputDir, inputs, false)
	if err != nil {
		return nil, err
	}
	summary.NumRecords = stats.numRecords
	summary.NumBytes += stats.numBytes
	summary.Skipped = stats.skipped
	klog.V(1).Infof("Wrote %d records (%d bytes) to %q", summary.NumRecords, summary.NumBytes, summary.Path)
	return summary, nil
}

// excludeOutputs removes from inputs the files Generate is about to write, in case the output
// directory is the input directory and holds the results of a previous run.
func (g *Generator) excludeOutputs(inputs []string, name string) []string {
	if filepath.Clean(g.inputDir) != filepath.Clean(g.outputDir) {
		return inputs
	}
	filtered := make([]string, 0, len(inputs))
	for _, input := range inputs {
		if input == name || (g.imageLabels && input == LabelRecordFileName) {
			klog.V(1).Infof("Not using %q as input: it is an output of the generation", input)
			continue
		}
		filtered = append(filtered, input)
	}
	return filtered
}

type fileStats struct {
	numRecords, numBytes int64
	skipped              []string
}

// writeFile writes one record per input, read from srcDir, to outputPath.
func (g *Generator) writeFile(outputPath, srcDir string, inputs []string, labelImages bool) (stats fileStats, err error) {
	target := outputPath
	if g.atomicRename {
		target = fmt.Sprintf("%s.%s.tmp", outputPath, uuid.NewString())
	}
	f, err := os.Create(target)
	if err != nil {
		return stats, &IOError{Op: "create", Path: target, Err: err}
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
		if err != nil && g.atomicRename {
			_ = os.Remove(target)
		}
	}()

	var bar *progressbar.ProgressBar
	if g.verbose {
		bar = progressbar.NewOptions(len(inputs),
			progressbar.OptionSetDescription(filepath.Base(outputPath)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}

	w := tfrecord.NewWriter(f)
	for _, input := range inputs {
		var rec ImageRecord
		rec, err = g.readRecord(srcDir, input, g.classLabels && !labelImages)
		if err != nil {
			if g.skipInvalid && isSkippable(err) {
				klog.Warningf("Skipping %q: %v", input, err)
				stats.skipped = append(stats.skipped, input)
				err = nil
				continue
			}
			return
		}
		if labelImages {
			err = WriteLabelImageRecord(w, rec)
		} else {
			err = WriteRecord(w, rec)
		}
		if err != nil {
			err = &IOError{Op: "write", Path: target, Err: err}
			return
		}
		klog.V(2).Infof("%s: %s -> record #%d, shape %s", filepath.Base(outputPath), input, w.NumRecords()-1, rec.Shape)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if err = w.Flush(); err != nil {
		err = &IOError{Op: "write", Path: target, Err: err}
		return
	}
	closeErr := f.Close()
	f = nil
	if closeErr != nil {
		err = &IOError{Op: "close", Path: target, Err: closeErr}
		return
	}
	if bar != nil {
		_ = bar.Close()
		fmt.Fprintln(os.Stderr)
	}
	if g.atomicRename {
		if err = os.Rename(target, outputPath); err != nil {
			err = &IOError{Op: "rename", Path: target, Err: err}
			return
		}
	}
	stats.numRecords = w.NumRecords()
	stats.numBytes = w.NumBytes()
	return
}

// readRecord reads and converts one input image.
func (g *Generator) readRecord(srcDir, name string, withLabel bool) (rec ImageRecord, err error) {
	img, err := decodeImage(filepath.Join(srcDir, name))
	if err != nil {
		return
	}
	if g.width > 0 {
		img = ResizeWithPadding(img, g.width, g.height)
	}
	rec.Data, rec.Shape = ToPixels(img, g.format)
	if withLabel {
		rec.Label, err = g.labelFn(name)
		if err != nil {
			var labelErr *LabelParseError
			if !errors.As(err, &labelErr) {
				err = &LabelParseError{Filename: name, Err: err}
			}
			return
		}
		rec.HasLabel = true
	}
	return
}

func isSkippable(err error) bool {
	var decodeErr *DecodeError
	var labelErr *LabelParseError
	return errors.As(err, &decodeErr) || errors.As(err, &labelErr)
}

// Generate converts the images in inputDir to the record file `name` in outputDir.
//
// If classLabels is set, each record includes the label derived from the filename with DeriveLabel. If
// imageLabels is set, the label images file is also generated from the images of the same names in labelDir.
//
// See Generator for more options.
func Generate(inputDir, outputDir, name string, classLabels, imageLabels bool, labelDir string) error {
	_, err := NewGenerator(inputDir, outputDir).
		ClassLabels(classLabels).
		ImageLabels(imageLabels, labelDir).
		Generate(name)
	return err
}
