// Package render draws the discovery schematic: the walker at the center of a
// fixed-size canvas with nearby posts placed around them at true scale.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"

	"github.com/locial/locial/internal/config"
	"github.com/locial/locial/internal/discovery"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/post"
)

// Options sizes the canvas and its annotations.
type Options struct {
	Width          int
	Height         int
	PixelsPerMeter float64
	GridMeters     float64
	ScaleBarMeters float64

	// CullMargin multiplies the visible radius to get the cull radius.
	CullMargin float64

	ShowThreshold bool
}

// OptionsFrom converts the render section of the configuration.
func OptionsFrom(cfg config.RenderConfig) Options {
	return Options{
		Width:          cfg.Width,
		Height:         cfg.Height,
		PixelsPerMeter: cfg.PixelsPerMeter,
		GridMeters:     cfg.GridMeters,
		ScaleBarMeters: cfg.ScaleBarMeters,
		CullMargin:     cfg.CullMargin,
		ShowThreshold:  cfg.ShowThreshold,
	}
}

// MarkerKind selects how a post is drawn.
type MarkerKind int

const (
	// MarkerActive is a post in the active category not yet narrated.
	MarkerActive MarkerKind = iota
	// MarkerSpoken is a post in the active category already narrated.
	MarkerSpoken
	// MarkerOther is a post in another category.
	MarkerOther
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerActive:
		return "active"
	case MarkerSpoken:
		return "spoken"
	default:
		return "other"
	}
}

// Scene is everything one frame depends on.
type Scene struct {
	Location        *geo.Coordinate
	Posts           []post.Post
	ActiveCategory  string
	Spoken          []string
	SpeakingPostID  string
	ThresholdMeters float64
}

// SceneFrom builds the scene for a session snapshot.
func SceneFrom(s discovery.Snapshot) Scene {
	return Scene{
		Location:        s.CurrentLocation,
		Posts:           s.Posts,
		ActiveCategory:  s.ActiveCategory,
		Spoken:          s.Spoken,
		SpeakingPostID:  s.SpeakingPostID,
		ThresholdMeters: s.ThresholdMeters,
	}
}

// Placement is a post's position on the canvas.
type Placement struct {
	Post post.Post
	X, Y float64
	Kind MarkerKind
}

var (
	colorBackground = color.RGBA{0xf7, 0xf5, 0xf0, 0xff}
	colorGrid       = color.RGBA{0xe2, 0xde, 0xd5, 0xff}
	colorUser       = color.RGBA{0x1f, 0x6f, 0xeb, 0xff}
	colorThreshold  = color.RGBA{0x10, 0x38, 0x76, 0x80} // premultiplied
	colorActive     = color.RGBA{0xe8, 0x59, 0x0c, 0xff}
	colorSpoken     = color.RGBA{0xf4, 0xb8, 0x95, 0xff}
	colorOther      = color.RGBA{0xa8, 0xa8, 0xa8, 0xff}
	colorSpeaking   = color.RGBA{0xc9, 0x2a, 0x2a, 0xff}
	colorText       = color.RGBA{0x33, 0x33, 0x33, 0xff}
)

const (
	userRadius   = 6.0
	markerRadius = 5.0
	labelSize    = 12.0
	barMargin    = 12
)

// Schematic renders scenes with a fixed set of options. It is safe for
// concurrent use.
type Schematic struct {
	opts Options
	font *truetype.Font
}

const defaultCullMargin = 1.5

// New creates a Schematic.
func New(opts Options) (*Schematic, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", opts.Width, opts.Height)
	}
	if opts.PixelsPerMeter <= 0 {
		return nil, fmt.Errorf("pixels per meter must be positive")
	}
	// Posts just past the canvas edge must still be laid out.
	if opts.CullMargin <= 1 {
		opts.CullMargin = defaultCullMargin
	}
	f, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return &Schematic{opts: opts, font: f}, nil
}

// Options returns the options the schematic was built with.
func (s *Schematic) Options() Options { return s.opts }

// Center returns the canvas center, where the walker is drawn.
func (s *Schematic) Center() (x, y float64) {
	return float64(s.opts.Width) / 2, float64(s.opts.Height) / 2
}

// Project maps target to canvas coordinates with user at the center. North
// is up.
func (s *Schematic) Project(user, target geo.Coordinate) (x, y float64) {
	east, north := geo.Offset(user, target)
	cx, cy := s.Center()
	return cx + east*s.opts.PixelsPerMeter, cy - north*s.opts.PixelsPerMeter
}

// VisibleRadius is the distance in meters from the center to a canvas corner.
func (s *Schematic) VisibleRadius() float64 {
	cx, cy := s.Center()
	return math.Hypot(cx, cy) / s.opts.PixelsPerMeter
}

// CullRadius is the distance in meters beyond which posts are not drawn.
func (s *Schematic) CullRadius() float64 {
	return s.VisibleRadius() * s.opts.CullMargin
}

// Layout places the scene's posts, skipping those past the cull radius.
// Without a location nothing is placed.
func (s *Schematic) Layout(scene Scene) []Placement {
	if scene.Location == nil {
		return nil
	}
	spoken := make(map[string]bool, len(scene.Spoken))
	for _, id := range scene.Spoken {
		spoken[id] = true
	}

	cull := s.CullRadius()
	var out []Placement
	for _, p := range scene.Posts {
		east, north := geo.Offset(*scene.Location, p.Coordinate())
		if math.Hypot(east, north) > cull {
			continue
		}
		x, y := s.Project(*scene.Location, p.Coordinate())

		kind := MarkerOther
		if scene.ActiveCategory != "" && post.SameCategory(p.Category, scene.ActiveCategory) {
			kind = MarkerActive
			if spoken[p.ID] {
				kind = MarkerSpoken
			}
		}
		out = append(out, Placement{Post: p, X: x, Y: y, Kind: kind})
	}
	return out
}

// Render draws one frame.
func (s *Schematic) Render(scene Scene) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.opts.Width, s.opts.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(colorBackground), image.Point{}, draw.Src)

	s.drawGrid(img)
	cx, cy := s.Center()

	if scene.Location == nil {
		s.drawLabel(img, "waiting for location", barMargin, barMargin+labelSize)
	} else {
		if s.opts.ShowThreshold && scene.ThresholdMeters > 0 {
			ring(img, cx, cy, scene.ThresholdMeters*s.opts.PixelsPerMeter, 1.5, colorThreshold)
		}

		// Other categories first so active markers stay on top.
		placements := s.Layout(scene)
		for _, kind := range []MarkerKind{MarkerOther, MarkerSpoken, MarkerActive} {
			for _, pl := range placements {
				if pl.Kind != kind {
					continue
				}
				disc(img, pl.X, pl.Y, markerRadius, markerColor(kind))
				if pl.Post.ID == scene.SpeakingPostID {
					ring(img, pl.X, pl.Y, markerRadius+3, 1.5, colorSpeaking)
				}
			}
		}
		disc(img, cx, cy, userRadius, colorUser)
	}

	s.drawScaleBar(img)
	return img
}

// EncodePNG renders scene and writes it as PNG.
func (s *Schematic) EncodePNG(w io.Writer, scene Scene) error {
	if err := png.Encode(w, s.Render(scene)); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

func markerColor(k MarkerKind) color.RGBA {
	switch k {
	case MarkerActive:
		return colorActive
	case MarkerSpoken:
		return colorSpoken
	default:
		return colorOther
	}
}

// drawGrid draws lines every GridMeters, anchored on the center.
func (s *Schematic) drawGrid(img *image.RGBA) {
	step := s.opts.GridMeters * s.opts.PixelsPerMeter
	if step < 4 {
		return
	}
	cx, cy := s.Center()
	b := img.Bounds()
	src := image.NewUniform(colorGrid)

	for x := math.Mod(cx, step); x < float64(b.Max.X); x += step {
		xi := int(math.Round(x))
		draw.Draw(img, image.Rect(xi, b.Min.Y, xi+1, b.Max.Y), src, image.Point{}, draw.Src)
	}
	for y := math.Mod(cy, step); y < float64(b.Max.Y); y += step {
		yi := int(math.Round(y))
		draw.Draw(img, image.Rect(b.Min.X, yi, b.Max.X, yi+1), src, image.Point{}, draw.Src)
	}
}

// ScaleBarPixels is the drawn length of the scale bar.
func (s *Schematic) ScaleBarPixels() int {
	return int(math.Round(s.opts.ScaleBarMeters * s.opts.PixelsPerMeter))
}

// ScaleBarOrigin is the left end of the scale bar, in the bottom-left corner.
func (s *Schematic) ScaleBarOrigin() image.Point {
	return image.Pt(barMargin, s.opts.Height-barMargin)
}

func (s *Schematic) drawScaleBar(img *image.RGBA) {
	o := s.ScaleBarOrigin()
	n := s.ScaleBarPixels()
	src := image.NewUniform(colorText)

	draw.Draw(img, image.Rect(o.X, o.Y-1, o.X+n, o.Y+1), src, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(o.X, o.Y-5, o.X+1, o.Y+1), src, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(o.X+n-1, o.Y-5, o.X+n, o.Y+1), src, image.Point{}, draw.Src)

	s.drawLabel(img, formatMeters(s.opts.ScaleBarMeters), o.X+n+6, o.Y+3)
}

func (s *Schematic) drawLabel(img *image.RGBA, text string, x, y int) {
	face := truetype.NewFace(s.font, &truetype.Options{
		Size:    labelSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	defer face.Close()

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(colorText),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func formatMeters(m float64) string {
	if m >= 1000 {
		return fmt.Sprintf("%g km", m/1000)
	}
	return fmt.Sprintf("%g m", m)
}

// disc fills a circle of radius r centered on (cx, cy).
func disc(img *image.RGBA, cx, cy, r float64, c color.RGBA) {
	b := image.Rect(int(cx-r)-1, int(cy-r)-1, int(cx+r)+2, int(cy+r)+2).Intersect(img.Bounds())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy) <= r {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// ring strokes a circle of radius r with the given width, blending c over
// what is already drawn.
func ring(img *image.RGBA, cx, cy, r, width float64, c color.RGBA) {
	outer := r + width/2
	b := image.Rect(int(cx-outer)-1, int(cy-outer)-1, int(cx+outer)+2, int(cy+outer)+2).Intersect(img.Bounds())
	src := image.NewUniform(c)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			d := math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy)
			if math.Abs(d-r) <= width/2 {
				draw.Draw(img, image.Rect(x, y, x+1, y+1), src, image.Point{}, draw.Over)
			}
		}
	}
}
