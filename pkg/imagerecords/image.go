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
	"image"
	"io/fs"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	// Extra formats, on top of the ones registered by imaging (jpeg, png, gif, tiff and bmp).
	_ "golang.org/x/image/webp"
)

// Shape of an image: height, width and channels (depth).
type Shape struct {
	Height, Width, Channels int
}

// ShapeFromDims converts a 3-dimensions list (as stored in the records) to a Shape.
func ShapeFromDims(dims []int64) (Shape, error) {
	if len(dims) != 3 {
		return Shape{}, errors.Errorf("image shape must have 3 dimensions, got %v", dims)
	}
	for _, dim := range dims {
		if dim < 0 {
			return Shape{}, errors.Errorf("image shape with negative dimension %v", dims)
		}
	}
	return Shape{Height: int(dims[0]), Width: int(dims[1]), Channels: int(dims[2])}, nil
}

// Dims returns the shape as [height, width, channels], the format stored in the records.
func (s Shape) Dims() []int64 {
	return []int64{int64(s.Height), int64(s.Width), int64(s.Channels)}
}

// Size returns the number of bytes of an image with this shape: one byte per pixel channel.
func (s Shape) Size() int {
	return s.Height * s.Width * s.Channels
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.Height, s.Width, s.Channels)
}

// ImageRecord is one image with its shape, raw pixels and optional label.
type ImageRecord struct {
	Shape Shape

	// Data holds the pixels in row-major order (height, width, channels), one byte per channel.
	Data []byte

	// Label is only valid if HasLabel is set.
	Label    int64
	HasLabel bool
}

// PixelFormat defines which channels, and in which order, are extracted from an image.
type PixelFormat uint8

const (
	// RGB extracts 3 channels: red, green, blue.
	RGB PixelFormat = iota

	// BGR extracts 3 channels in the order used by OpenCV: blue, green, red.
	BGR

	// RGBA extracts 4 channels, including alpha (not premultiplied).
	RGBA

	// Gray extracts 1 channel with the luma (ITU-R 601) of the image.
	Gray
)

// Channels returns the number of channels extracted with the format.
func (f PixelFormat) Channels() int {
	switch f {
	case RGBA:
		return 4
	case Gray:
		return 1
	}
	return 3
}

// String implements fmt.Stringer.
func (f PixelFormat) String() string {
	switch f {
	case RGB:
		return "rgb"
	case BGR:
		return "bgr"
	case RGBA:
		return "rgba"
	case Gray:
		return "gray"
	}
	return fmt.Sprintf("PixelFormat(%d)", uint8(f))
}

// ParsePixelFormat converts the name of a format ("rgb", "bgr", "rgba" or "gray") to a PixelFormat.
func ParsePixelFormat(name string) (PixelFormat, error) {
	for _, f := range []PixelFormat{RGB, BGR, RGBA, Gray} {
		if strings.EqualFold(name, f.String()) {
			return f, nil
		}
	}
	return RGB, errors.Errorf("unknown pixel format %q, valid values are rgb, bgr, rgba and gray", name)
}

// ReadImage decodes the image file in path and returns its pixels in the given format, and its shape.
//
// The EXIF orientation, if present, is applied. It returns an *IOError if the file can't be opened,
// and a *DecodeError if it is not an image in one of the supported formats.
func ReadImage(path string, format PixelFormat) (pixels []byte, shape Shape, err error) {
	img, err := decodeImage(path)
	if err != nil {
		return
	}
	pixels, shape = ToPixels(img, format)
	return
}

// decodeImage opens and decodes path, classifying the errors into *IOError and *DecodeError.
func decodeImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, &IOError{Op: "open", Path: path, Err: err}
		}
		return nil, &DecodeError{Path: path, Err: err}
	}
	return img, nil
}

// ToPixels converts img to raw pixels in the given format.
func ToPixels(img image.Image, format PixelFormat) (pixels []byte, shape Shape) {
	var nrgba *image.NRGBA
	if format == Gray {
		nrgba = imaging.Grayscale(img)
	} else {
		nrgba = imaging.Clone(img)
	}
	size := nrgba.Bounds().Size()
	shape = Shape{Height: size.Y, Width: size.X, Channels: format.Channels()}
	pixels = make([]byte, 0, shape.Size())
	for y := 0; y < size.Y; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+4*size.X]
		for x := 0; x < size.X; x++ {
			r, g, b, a := row[4*x], row[4*x+1], row[4*x+2], row[4*x+3]
			switch format {
			case RGB:
				pixels = append(pixels, r, g, b)
			case BGR:
				pixels = append(pixels, b, g, r)
			case RGBA:
				pixels = append(pixels, r, g, b, a)
			case Gray:
				pixels = append(pixels, r)
			}
		}
	}
	return
}

// ToImage converts raw pixels back to an image. It is the inverse of ToPixels.
func ToImage(pixels []byte, shape Shape, format PixelFormat) (*image.NRGBA, error) {
	if shape.Channels != format.Channels() {
		return nil, errors.Errorf("shape %s has %d channels, but format %s has %d",
			shape, shape.Channels, format, format.Channels())
	}
	if len(pixels) != shape.Size() {
		return nil, errors.Errorf("shape %s requires %d bytes, got %d", shape, shape.Size(), len(pixels))
	}
	img := image.NewNRGBA(image.Rect(0, 0, shape.Width, shape.Height))
	pos := 0
	for ii := 0; ii < shape.Height*shape.Width; ii++ {
		pix := img.Pix[4*ii : 4*ii+4]
		switch format {
		case RGB:
			pix[0], pix[1], pix[2], pix[3] = pixels[pos], pixels[pos+1], pixels[pos+2], 0xFF
		case BGR:
			pix[0], pix[1], pix[2], pix[3] = pixels[pos+2], pixels[pos+1], pixels[pos], 0xFF
		case RGBA:
			copy(pix, pixels[pos:pos+4])
		case Gray:
			pix[0], pix[1], pix[2], pix[3] = pixels[pos], pixels[pos], pixels[pos], 0xFF
		}
		pos += shape.Channels
	}
	return img, nil
}

// ResizeWithPadding resizes img to width x height without distorting its proportions: the
// image is scaled to fit and centered, and the extra space is padded with transparent black.
func ResizeWithPadding(img image.Image, width, height int) image.Image {
	imgSize := img.Bounds().Size()
	wRatio := float64(width) / float64(imgSize.X)
	hRatio := float64(height) / float64(imgSize.Y)

	adjustedWidth, adjustedHeight := width, height
	if wRatio < hRatio {
		adjustedHeight = max(int(wRatio*float64(imgSize.Y)), 1)
	} else if hRatio < wRatio {
		adjustedWidth = max(int(hRatio*float64(imgSize.X)), 1)
	}
	img = imaging.Resize(img, adjustedWidth, adjustedHeight, imaging.Lanczos)
	if adjustedWidth != width || adjustedHeight != height {
		bgImg := image.NewNRGBA(image.Rect(0, 0, width, height))
		img = imaging.PasteCenter(bgImg, img)
	}
	return img
}
