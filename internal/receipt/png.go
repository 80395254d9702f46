package receipt

import (
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PNG layout in pixels.
const (
	Width       = 480
	margin      = 24
	lineHeight  = 18
	valueColumn = 190
)

var (
	background = color.White
	ink        = color.RGBA{0x11, 0x18, 0x27, 0xff}
	muted      = color.RGBA{0x6b, 0x72, 0x80, 0xff}
	accent     = color.RGBA{0x10, 0xb9, 0x81, 0xff}
)

// Render draws the receipt. logo, when non-nil, is placed in the top right corner.
func Render(r Receipt, logo image.Image) *image.NRGBA {
	lines := 3 // title, reference, total
	for _, sec := range r.Sections {
		lines += len(sec.Rows) + 2
	}
	canvas := imaging.New(Width, margin*2+lines*lineHeight, background)

	y := margin + lineHeight
	drawText(canvas, margin, y, r.Title, accent)
	y += lineHeight
	drawText(canvas, margin, y, "Ref: "+r.Reference, muted)
	y += lineHeight

	for _, sec := range r.Sections {
		y += lineHeight
		drawText(canvas, margin, y, sec.Title, ink)
		y += lineHeight
		for _, row := range sec.Rows {
			drawText(canvas, margin, y, row.Label, muted)
			drawText(canvas, valueColumn, y, row.Value, ink)
			y += lineHeight
		}
	}

	y += lineHeight
	drawText(canvas, margin, y, r.TotalLabel, ink)
	drawText(canvas, valueColumn, y, r.TotalValue, accent)

	if logo != nil {
		b := logo.Bounds()
		canvas = imaging.Overlay(canvas, logo, image.Pt(Width-margin-b.Dx(), margin/2), 1.0)
	}
	return canvas
}

// WritePNG renders the receipt and encodes it as PNG.
func WritePNG(w io.Writer, r Receipt, logo image.Image) error {
	return imaging.Encode(w, Render(r, logo), imaging.PNG)
}

func drawText(dst *image.NRGBA, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
