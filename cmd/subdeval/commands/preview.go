package commands

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"
)

// atlas lays the per-face sample grids out as tiles, one pixel per
// sample, colored by the surface normal.
func atlas(res evalResult) *image.NRGBA {
	cols := int(math.Ceil(math.Sqrt(float64(res.faces))))
	rows := (res.faces + cols - 1) / cols
	img := image.NewNRGBA(image.Rect(0, 0, cols*res.n, rows*res.n))
	for face := range res.faces {
		ox, oy := (face%cols)*res.n, (face/cols)*res.n
		for j := range res.n {
			for i := range res.n {
				nrm := res.normal((face*res.n+j)*res.n + i)
				// v grows upwards.
				img.SetNRGBA(ox+i, oy+res.n-1-j, color.NRGBA{
					R: channel(nrm[0]),
					G: channel(nrm[1]),
					B: channel(nrm[2]),
					A: 255,
				})
			}
		}
	}
	return img
}

func channel(x float32) uint8 {
	return uint8(math.Round(float64(x*0.5+0.5) * 255))
}

// writePreview scales the atlas to width pixels and writes it as PNG.
func writePreview(path string, res evalResult, width int) error {
	if width < 1 {
		return fmt.Errorf("preview width must be positive, got %d", width)
	}
	src := atlas(res)
	b := src.Bounds()
	height := max(1, width*b.Dy()/b.Dx())
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, dst); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode preview: %w", err)
	}
	return f.Close()
}
