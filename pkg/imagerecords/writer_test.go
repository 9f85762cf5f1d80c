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
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/imagerecords/pkg/records/tfrecord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeImages creates one 3x2 png per name in dir, with base color 10*i for the i-th name.
func makeImages(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for ii, name := range names {
		writePNG(t, filepath.Join(dir, name), gradientImage(3, 2, uint8(10*ii)))
	}
}

// countRecords returns the number of records in the file, failing on corruption.
func countRecords(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	count := 0
	for _, err := range tfrecord.NewReader(f).All() {
		require.NoError(t, err)
		count++
	}
	return count
}

func TestListInputs(t *testing.T) {
	dir := t.TempDir()
	makeImages(t, dir, "b_2.png", "a_1.png")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
	names, err := ListInputs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_1.png", "b_2.png"}, names)

	_, err = ListInputs(filepath.Join(dir, "missing"))
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "list", ioErr.Op)
}

func TestGenerate(t *testing.T) {
	inputDir := filepath.Join(t.TempDir(), "images")
	outputDir := filepath.Join(t.TempDir(), "out", "records")
	makeImages(t, inputDir, "a_1.png", "b_2.png")

	summary, err := NewGenerator(inputDir, outputDir).ClassLabels(true).Verbose(true).Generate("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outputDir, DefaultRecordFileName), summary.Path)
	assert.Empty(t, summary.LabelPath)
	assert.Equal(t, int64(2), summary.NumRecords)
	assert.Empty(t, summary.Skipped)
	info, err := os.Stat(summary.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), summary.NumBytes)

	r, err := NewReader(summary.Path).Schema(LabeledSchema).Done()
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	for ii, wantLabel := range []int64{1, 2} {
		batch, err := r.Yield()
		require.NoError(t, err)
		images, err := batch.Images()
		require.NoError(t, err)
		require.Len(t, images, 1)
		assert.Equal(t, Shape{Height: 2, Width: 3, Channels: 3}, images[0].Shape)
		assert.Equal(t, gradientPixels(3, 2, uint8(10*ii)), images[0].Data)
		assert.True(t, images[0].HasLabel)
		assert.Equal(t, wantLabel, images[0].Label)
	}
	_, err = r.Yield()
	require.ErrorIs(t, err, ErrEndOfSequence)
}

func TestGenerateFunction(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	makeImages(t, inputDir, "x_5.png")
	require.NoError(t, Generate(inputDir, outputDir, "data.tfrecords", true, false, ""))
	assert.Equal(t, 1, countRecords(t, filepath.Join(outputDir, "data.tfrecords")))

	err := Generate(filepath.Join(inputDir, "missing"), outputDir, "data.tfrecords", true, false, "")
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
}

func TestGenerateWithoutLabels(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	makeImages(t, inputDir, "nolabel.png", "other.png")
	summary, err := NewGenerator(inputDir, outputDir).Generate("plain.tfrecords")
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.NumRecords)

	// Default reader settings read what the generator writes by default.
	r, err := Open(summary.Path, 2, 1, false)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	batch, err := r.Yield()
	require.NoError(t, err)
	images, err := batch.Images()
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.False(t, images[0].HasLabel)
	assert.Equal(t, gradientPixels(3, 2, 0), images[0].Data)
	assert.Equal(t, gradientPixels(3, 2, 10), images[1].Data)
	_, err = r.Yield()
	require.ErrorIs(t, err, ErrEndOfSequence)

	// Asking for labels that were not written fails.
	r2, err := NewReader(summary.Path).Schema(LabeledSchema).Done()
	require.NoError(t, err)
	defer func() { _ = r2.Close() }()
	_, err = r2.Yield()
	var corrupt *CorruptRecordError
	require.ErrorAs(t, err, &corrupt)
}

func TestGenerateInvalidInputs(t *testing.T) {
	inputDir := t.TempDir()
	makeImages(t, inputDir, "a_1.png", "c_3.png", "nolabel.png")
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "b_2.txt"), []byte("not an image"), 0o644))

	// Default: the first failure aborts, in listing order.
	_, err := NewGenerator(inputDir, t.TempDir()).ClassLabels(true).Generate("")
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)

	require.NoError(t, os.Remove(filepath.Join(inputDir, "b_2.txt")))
	_, err = NewGenerator(inputDir, t.TempDir()).ClassLabels(true).Generate("")
	var labelErr *LabelParseError
	require.ErrorAs(t, err, &labelErr)
	assert.Equal(t, "nolabel.png", labelErr.Filename)

	// Without class labels, "nolabel.png" is fine.
	summary, err := NewGenerator(inputDir, t.TempDir()).Generate("")
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.NumRecords)

	// SkipInvalid.
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "b_2.txt"), []byte("not an image"), 0o644))
	summary, err = NewGenerator(inputDir, t.TempDir()).ClassLabels(true).SkipInvalid(true).Generate("")
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.NumRecords)
	assert.Equal(t, []string{"b_2.txt", "nolabel.png"}, summary.Skipped)
	assert.Equal(t, 2, countRecords(t, summary.Path))
}

func TestGenerateLabelFunc(t *testing.T) {
	inputDir := t.TempDir()
	makeImages(t, inputDir, "cat.png", "dog.png")
	classes := map[string]int64{"cat.png": 0, "dog.png": 1}
	summary, err := NewGenerator(inputDir, t.TempDir()).
		ClassLabels(true).
		LabelFunc(func(filename string) (int64, error) {
			label, found := classes[filename]
			if !found {
				return 0, fmt.Errorf("unknown class %q", filename)
			}
			return label, nil
		}).
		Generate("")
	require.NoError(t, err)

	r, err := NewReader(summary.Path).BatchSize(2).Schema(LabeledSchema).Done()
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	batch, err := r.Yield()
	require.NoError(t, err)
	labels := batch.Column(FeatureImageLabel)
	require.Len(t, labels, 2)
	assert.Equal(t, int64(0), labels[0].Int64())
	assert.Equal(t, int64(1), labels[1].Int64())
}

func TestGenerateImageLabels(t *testing.T) {
	inputDir := filepath.Join(t.TempDir(), "images")
	labelDir := filepath.Join(t.TempDir(), "masks")
	outputDir := t.TempDir()
	makeImages(t, inputDir, "a_1.png", "b_2.png")
	require.NoError(t, os.MkdirAll(labelDir, 0o755))
	writePNG(t, filepath.Join(labelDir, "a_1.png"), gradientImage(3, 2, 100))
	writePNG(t, filepath.Join(labelDir, "b_2.png"), gradientImage(3, 2, 200))

	summary, err := NewGenerator(inputDir, outputDir).ClassLabels(true).ImageLabels(true, labelDir).Generate("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outputDir, LabelRecordFileName), summary.LabelPath)
	assert.Equal(t, int64(2), summary.NumRecords)
	assert.Equal(t, int64(2), summary.NumLabelRecords)

	r, err := NewReader(summary.LabelPath).Schema(LabelImageSchema).BatchSize(2).Done()
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	batch, err := r.Yield()
	require.NoError(t, err)
	images, err := batch.Images()
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, gradientPixels(3, 2, 100), images[0].Data)
	assert.Equal(t, gradientPixels(3, 2, 200), images[1].Data)
	assert.False(t, images[0].HasLabel)

	// A missing label image aborts the generation.
	require.NoError(t, os.Remove(filepath.Join(labelDir, "b_2.png")))
	_, err = NewGenerator(inputDir, t.TempDir()).ImageLabels(true, labelDir).Generate("")
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
}

func TestGeneratorConfigErrors(t *testing.T) {
	inputDir := t.TempDir()
	makeImages(t, inputDir, "a_1.png")

	_, err := NewGenerator(inputDir, t.TempDir()).ImageLabels(true, "").Generate("")
	require.Error(t, err)
	_, err = NewGenerator(inputDir, t.TempDir()).ImageLabels(true, inputDir).SkipInvalid(true).Generate("")
	require.Error(t, err)
	_, err = NewGenerator(inputDir, t.TempDir()).ImageLabels(true, filepath.Join(inputDir, "missing")).Generate("")
	require.Error(t, err)
	_, err = NewGenerator(inputDir, t.TempDir()).Resize(10, 0).Generate("")
	require.Error(t, err)
	_, err = NewGenerator(inputDir, t.TempDir()).ClassLabels(true).LabelFunc(nil).Generate("")
	require.Error(t, err)
	_, err = NewGenerator("", t.TempDir()).Generate("")
	require.Error(t, err)
}

func TestGenerateResizeAndFormat(t *testing.T) {
	inputDir := t.TempDir()
	makeImages(t, inputDir, "a_1.png")
	summary, err := NewGenerator(inputDir, t.TempDir()).Resize(4, 4).Format(Gray).Generate("")
	require.NoError(t, err)

	r, err := NewReader(summary.Path).Schema(FixedSchema).Done()
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	batch, err := r.Yield()
	require.NoError(t, err)
	images, err := batch.Images()
	require.NoError(t, err)
	assert.Equal(t, Shape{Height: 4, Width: 4, Channels: 1}, images[0].Shape)
	assert.Len(t, images[0].Data, 16)
}

func TestGenerateBGR(t *testing.T) {
	inputDir := t.TempDir()
	makeImages(t, inputDir, "a_1.png")
	summary, err := NewGenerator(inputDir, t.TempDir()).Format(BGR).Generate("")
	require.NoError(t, err)

	r, err := Open(summary.Path, 1, 1, false)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	batch, err := r.Yield()
	require.NoError(t, err)
	images, err := batch.Images()
	require.NoError(t, err)
	assert.Equal(t, Shape{Height: 2, Width: 3, Channels: 3}, images[0].Shape)
	// Pixel (0, 0) of gradientImage is {R: 0, G: 0, B: 7}, stored blue first.
	assert.Equal(t, []byte{7, 0, 0}, images[0].Data[:3])
	// Pixel (1, 1) is {R: 1, G: 1, B: 7}.
	assert.Equal(t, []byte{7, 1, 1}, images[0].Data[12:15])
}

func TestGenerateAtomicRename(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	makeImages(t, inputDir, "a_1.png", "b_2.png")

	summary, err := NewGenerator(inputDir, outputDir).ClassLabels(true).AtomicRename(true).Generate("")
	require.NoError(t, err)
	assert.Equal(t, 2, countRecords(t, summary.Path))
	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, DefaultRecordFileName, entries[0].Name())

	// On failure nothing is left behind.
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "c_3.png"), []byte("corrupted"), 0o644))
	failedDir := t.TempDir()
	_, err = NewGenerator(inputDir, failedDir).ClassLabels(true).AtomicRename(true).Generate("")
	require.Error(t, err)
	entries, err = os.ReadDir(failedDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerateInPlace(t *testing.T) {
	dir := t.TempDir()
	makeImages(t, dir, "a_1.png", "b_2.png")
	for range 2 {
		summary, err := NewGenerator(dir, dir).ClassLabels(true).Generate("")
		require.NoError(t, err)
		assert.Equal(t, int64(2), summary.NumRecords)
	}
}

func TestWriteRecordMismatchedShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.tfrecords")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := tfrecord.NewWriter(f)
	require.NoError(t, WriteRecord(w, ImageRecord{
		Shape: Shape{Height: 10, Width: 10, Channels: 3},
		Data:  make([]byte, 299),
	}))
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	r, err := NewReader(path).Schema(FixedSchema).Done()
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	_, err = r.Yield()
	var corrupt *CorruptRecordError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, int64(0), corrupt.Index)

	// Errors are sticky.
	_, err2 := r.Yield()
	assert.Equal(t, err, err2)
	assert.NotErrorIs(t, err2, io.EOF)
}
