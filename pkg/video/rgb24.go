// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package video

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math/bits"
)

// RGB color.
type RGB struct {
	R, G, B uint8
}

// RGBA .
func (c RGB) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8

	g = uint32(c.G)
	g |= g << 8

	b = uint32(c.B)
	b |= b << 8

	a = 0xffff
	return
}

// RGB24Model converts any color to RGB.
var RGB24Model color.Model = color.ModelFunc(rgbModel)

func rgbModel(c color.Color) color.Color {
	if _, ok := c.(RGB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}
}

// RGB24 is a packed image with 3 bytes per pixel and no row padding.
type RGB24 struct {
	// Pix holds the image's pixels, in R, G, B order. The pixel at
	// (x, y) starts at Pix[y*Stride + x*3].
	Pix []uint8

	// Stride is the Pix stride in bytes between vertically adjacent pixels.
	Stride int

	Rect image.Rectangle
}

// ErrInvalidSize pixel buffer does not match the dimensions.
var ErrInvalidSize = errors.New("invalid image size")

// NewRGB24 allocates a black w*h image.
func NewRGB24(w, h int) *RGB24 {
	return &RGB24{
		Pix:    make([]uint8, pixelBufferLength(w, h)),
		Stride: 3 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
}

// FromPix wraps an existing pixel buffer.
func FromPix(w, h int, pix []byte) (*RGB24, error) {
	n := mul3NonNeg(3, w, h)
	if n < 0 || len(pix) != n {
		return nil, fmt.Errorf("%w: %dx%d needs %d bytes, got %d",
			ErrInvalidSize, w, h, n, len(pix))
	}
	return &RGB24{Pix: pix, Stride: 3 * w, Rect: image.Rect(0, 0, w, h)}, nil
}

// ColorModel .
func (p *RGB24) ColorModel() color.Model { return RGB24Model }

// Bounds .
func (p *RGB24) Bounds() image.Rectangle { return p.Rect }

// Width in pixels.
func (p *RGB24) Width() int { return p.Rect.Dx() }

// Height in pixels.
func (p *RGB24) Height() int { return p.Rect.Dy() }

// At .
func (p *RGB24) At(x, y int) color.Color {
	return p.RGBAt(x, y)
}

// RGBAt returns the color at (x, y), black outside the image.
func (p *RGB24) RGBAt(x, y int) RGB {
	if !(image.Point{x, y}.In(p.Rect)) {
		return RGB{}
	}
	i := p.PixOffset(x, y)
	return RGB{p.Pix[i], p.Pix[i+1], p.Pix[i+2]}
}

// SetRGB sets the color at (x, y).
func (p *RGB24) SetRGB(x, y int, c RGB) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	p.Pix[i] = c.R
	p.Pix[i+1] = c.G
	p.Pix[i+2] = c.B
}

// PixOffset returns the index of the first element of Pix that corresponds to
// the pixel at (x, y).
func (p *RGB24) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

// Resize returns a w*h nearest neighbor copy of p.
// p is returned unchanged if it already has the requested size.
func (p *RGB24) Resize(w, h int) (*RGB24, error) {
	if w <= 0 || h <= 0 || p.Width() <= 0 || p.Height() <= 0 {
		return nil, fmt.Errorf("%w: %dx%d to %dx%d",
			ErrInvalidSize, p.Width(), p.Height(), w, h)
	}
	if w == p.Width() && h == p.Height() {
		return p, nil
	}

	dst := NewRGB24(w, h)
	for y := 0; y < h; y++ {
		sy := p.Rect.Min.Y + y*p.Height()/h
		for x := 0; x < w; x++ {
			sx := p.Rect.Min.X + x*p.Width()/w
			si := p.PixOffset(sx, sy)
			di := dst.PixOffset(x, y)
			copy(dst.Pix[di:di+3], p.Pix[si:si+3])
		}
	}
	return dst, nil
}

// pixelBufferLength returns 3*w*h, it panics on
// negative dimensions or if the computation overflows.
func pixelBufferLength(w, h int) int {
	n := mul3NonNeg(3, w, h)
	if n < 0 {
		panic("video: NewRGB24 has huge or negative dimensions")
	}
	return n
}

// mul3NonNeg returns (x * y * z), unless at least one argument is negative or
// if the computation overflows the int type, in which case it returns -1.
func mul3NonNeg(x int, y int, z int) int {
	if (x < 0) || (y < 0) || (z < 0) {
		return -1
	}
	hi, lo := bits.Mul64(uint64(x), uint64(y))
	if hi != 0 {
		return -1
	}
	hi, lo = bits.Mul64(lo, uint64(z))
	if hi != 0 {
		return -1
	}
	a := int(lo)
	if (a < 0) || (uint64(a) != lo) {
		return -1
	}
	return a
}
