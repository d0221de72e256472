package escpos

import (
	"bytes"
	"fmt"
	"image"

	qrcode "github.com/skip2/go-qrcode"
)

// Raster converts an image to ESC/POS bit-image bands (ESC * in 24-dot
// double-density mode), one band per pixel row, thresholded at 50% gray.
func Raster(img image.Image) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	bitmap := imageToBitmap(img)
	bytesPerLine := (width + 7) / 8

	var b bytes.Buffer
	for y := 0; y < height; y++ {
		b.WriteByte(ESC)
		b.WriteByte('*')
		b.WriteByte(33)
		b.WriteByte(byte(bytesPerLine & 0xFF))
		b.WriteByte(byte((bytesPerLine >> 8) & 0xFF))
		b.Write(bitmap[y*bytesPerLine : (y+1)*bytesPerLine])
		b.WriteByte('\n')
	}

	return b.Bytes()
}

// QRCode renders text as a QR symbol and returns it as a centered raster
// block, used for the machine-readable footer on test pages.
func QRCode(text string, size int) ([]byte, error) {
	q, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to build QR code: %w", err)
	}

	var b bytes.Buffer
	b.Write(centerOn)
	b.Write(Raster(q.Image(size)))
	b.Write(centerOff)
	return b.Bytes(), nil
}

// imageToBitmap converts an image to a 1-bit bitmap, one bit per pixel,
// most significant bit first.
func imageToBitmap(img image.Image) []byte {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	bytesPerLine := (width + 7) / 8
	bitmap := make([]byte, bytesPerLine*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			gray := (r + g + b) / 3

			if gray < 32768 {
				byteIndex := y*bytesPerLine + x/8
				bitIndex := 7 - (x % 8)
				bitmap[byteIndex] |= 1 << bitIndex
			}
		}
	}

	return bitmap
}
