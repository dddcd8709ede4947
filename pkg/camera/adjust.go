package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// jpegQuality balances file size against timelapse frame fidelity.
const jpegQuality = 90

// Adjust applies the software brightness/contrast pass and resolution scaling
// to a JPEG frame and re-encodes it. Neutral settings at the source resolution
// return the input untouched.
func Adjust(frame []byte, settings Settings) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	width, height, err := settings.Size()
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	atSize := bounds.Dx() == width && bounds.Dy() == height
	if settings.IsNeutral() && atSize {
		return frame, nil
	}

	out := adjustImage(img, settings, width, height)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG runs the adjustment pass on an in-memory image and encodes it,
// used by providers that capture raw pixels rather than JPEG streams.
func EncodeJPEG(img image.Image, settings Settings) ([]byte, error) {
	width, height, err := settings.Size()
	if err != nil {
		return nil, err
	}
	out := adjustImage(img, settings, width, height)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// adjustImage scales the frame to the target resolution and applies the
// brightness/contrast transfer: brightness shifts pixel values by
// (b-0.5)*2*100 on the 0-255 scale, contrast stretches them around mid-gray
// by the contrast factor. Exposure is a device-side control and is not
// reapplied in software.
func adjustImage(src image.Image, settings Settings, width, height int) image.Image {
	bounds := src.Bounds()

	scaled := src
	if bounds.Dx() != width || bounds.Dy() != height {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		scaled = dst
	}

	if settings.IsNeutral() {
		return scaled
	}

	delta := (settings.Brightness - 0.5) * 2 * 100
	contrast := settings.Contrast

	sb := scaled.Bounds()
	out := image.NewRGBA(sb)
	for y := sb.Min.Y; y < sb.Max.Y; y++ {
		for x := sb.Min.X; x < sb.Max.X; x++ {
			r, g, b, a := scaled.At(x, y).RGBA()
			i := out.PixOffset(x, y)
			out.Pix[i+0] = transfer(uint8(r>>8), contrast, delta)
			out.Pix[i+1] = transfer(uint8(g>>8), contrast, delta)
			out.Pix[i+2] = transfer(uint8(b>>8), contrast, delta)
			out.Pix[i+3] = uint8(a >> 8)
		}
	}
	return out
}

func transfer(v uint8, contrast, delta float64) uint8 {
	f := float64(v) / 255.0
	f = (f-0.5)*contrast + 0.5
	adjusted := f*255.0 + delta
	if adjusted < 0 {
		return 0
	}
	if adjusted > 255 {
		return 255
	}
	return uint8(adjusted + 0.5)
}
