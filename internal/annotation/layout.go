// Package annotation renders the red and black summary block stamped on the
// first page of processed invoices.
package annotation

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Geometry constants, in PDF points.
const (
	FontFamily = "Helvetica"
	FontSize   = 12.0
	LineHeight = 14.0
	Padding    = 5.0
	CharWidth  = 7.0

	// firstBaseline is the distance from the top edge to the first baseline.
	firstBaseline = Padding + 10.0
)

// Color is an RGB triple in 0..255.
type Color struct {
	R, G, B int
}

var (
	Red   = Color{R: 255}
	Black = Color{}
)

// Rect is an area measured from the top-left corner of the page.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsZero reports whether the rectangle covers nothing.
func (r Rect) IsZero() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Covers reports whether r fully contains o.
func (r Rect) Covers(o Rect) bool {
	if o.IsZero() {
		return true
	}
	return r.X <= o.X && r.Y <= o.Y &&
		r.X+r.Width >= o.X+o.Width &&
		r.Y+r.Height >= o.Y+o.Height
}

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	if o.IsZero() {
		return r
	}
	if r.IsZero() {
		return o
	}
	x := math.Min(r.X, o.X)
	y := math.Min(r.Y, o.Y)
	return Rect{
		X:      x,
		Y:      y,
		Width:  math.Max(r.X+r.Width, o.X+o.Width) - x,
		Height: math.Max(r.Y+r.Height, o.Y+o.Height) - y,
	}
}

// Block is the content of one stamp.
type Block struct {
	Red   []string
	Black []string
}

// NewBlock splits both texts into lines. An empty text contributes no line.
func NewBlock(redText, blackText string) Block {
	return Block{Red: splitLines(redText), Black: splitLines(blackText)}
}

// LineCount is the total number of rendered lines.
func (b Block) LineCount() int {
	return len(b.Red) + len(b.Black)
}

// MaxLineLength is the longest line, in characters, across both colors.
func (b Block) MaxLineLength() int {
	longest := 0
	for _, lines := range [][]string{b.Red, b.Black} {
		for _, l := range lines {
			if n := utf8.RuneCountInString(l); n > longest {
				longest = n
			}
		}
	}
	return longest
}

// PlacedLine is a line of text with its baseline position.
type PlacedLine struct {
	Text  string
	X     float64
	Y     float64
	Color Color
}

// Layout is the computed geometry of a stamp.
type Layout struct {
	Background Rect
	Lines      []PlacedLine
}

// ComputeLayout places the block at the top-left corner. The background is
// sized from the current content only.
func ComputeLayout(b Block) Layout {
	l := Layout{
		Background: Rect{
			Width:  float64(b.MaxLineLength())*CharWidth + 2*Padding,
			Height: float64(b.LineCount())*LineHeight + 2*Padding,
		},
	}

	y := firstBaseline
	for _, text := range b.Red {
		l.Lines = append(l.Lines, PlacedLine{Text: text, X: Padding, Y: y, Color: Red})
		y += LineHeight
	}
	for _, text := range b.Black {
		l.Lines = append(l.Lines, PlacedLine{Text: text, X: Padding, Y: y, Color: Black})
		y += LineHeight
	}
	return l
}

// Cover extends the background so it also hides an earlier footprint.
func (l Layout) Cover(previous Rect) Layout {
	l.Background = l.Background.Union(previous)
	return l
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
