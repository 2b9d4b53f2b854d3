package tracker

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kwv/rigidreg/geom"
	"github.com/kwv/rigidreg/registration"
)

// Plane selects the two coordinates a 3D point is drawn with
type Plane int

const (
	PlaneXY Plane = iota
	PlaneXZ
	PlaneYZ
)

func (p Plane) String() string {
	switch p {
	case PlaneXY:
		return "xy"
	case PlaneXZ:
		return "xz"
	case PlaneYZ:
		return "yz"
	}
	return fmt.Sprintf("Plane(%d)", int(p))
}

// ParsePlane parses "xy", "xz" or "yz"
func ParsePlane(s string) (Plane, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "xy":
		return PlaneXY, nil
	case "xz":
		return PlaneXZ, nil
	case "yz":
		return PlaneYZ, nil
	}
	return PlaneXY, fmt.Errorf("unknown projection plane %q", s)
}

// Project drops the coordinate orthogonal to p
func (p Plane) Project(v geom.Vec) orb.Point {
	switch p {
	case PlaneXZ:
		return orb.Point{v.X, v.Z}
	case PlaneYZ:
		return orb.Point{v.Y, v.Z}
	default:
		return orb.Point{v.X, v.Y}
	}
}

// OverlayLayer is one labelled, colored point set
type OverlayLayer struct {
	Label   string
	Points  []geom.Vec
	Hidden  []bool // parallel to Points; hidden points are drawn hollow
	Color   color.RGBA
	Outline bool // draw squares instead of dots
}

// Overlay draws registered point sets on top of each other, projected on a
// plane. Layers are drawn in order.
type Overlay struct {
	Layers  []OverlayLayer
	Plane   Plane
	Size    int     // longest image side in pixels, padding excluded
	Padding int     // pixels around the drawing
	Radius  int     // dot radius in pixels
	Title   string  // optional first legend line
	Grid    float64 // grid spacing in point units; 0 disables
}

// NewOverlay shows the model moved by t (model -> data) over the data
// points, the view used to judge an ICP result.
func NewOverlay(model, data registration.PointList, t registration.RigidTransform, dataColor string) *Overlay {
	return &Overlay{
		Layers: []OverlayLayer{
			pointLayer("model", t.TransformPoints(model), color.RGBA{100, 149, 237, 255}, true),
			pointLayer("data", data, parseHexColor(dataColor), false),
		},
		Plane:   PlaneXY,
		Size:    800,
		Padding: 30,
		Radius:  3,
	}
}

func pointLayer(label string, pl registration.PointList, c color.RGBA, outline bool) OverlayLayer {
	l := OverlayLayer{Label: label, Color: c, Outline: outline}
	for _, p := range pl {
		l.Points = append(l.Points, p.Coord)
		l.Hidden = append(l.Hidden, !p.Visible)
	}
	return l
}

// Bound returns the projected bounds of all layers
func (o *Overlay) Bound() (orb.Bound, bool) {
	var mp orb.MultiPoint
	for _, l := range o.Layers {
		for _, v := range l.Points {
			mp = append(mp, o.Plane.Project(v))
		}
	}
	if len(mp) == 0 {
		return orb.Bound{}, false
	}
	return mp.Bound(), true
}

// frame maps projected points to pixel/canvas coordinates with the y axis
// pointing up. The drawing extent is at least one unit wide.
type frame struct {
	min     orb.Point
	scale   float64
	width   float64
	height  float64
	padding float64
}

func (o *Overlay) frame(size, padding float64) (frame, error) {
	b, ok := o.Bound()
	if !ok {
		return frame{}, fmt.Errorf("nothing to render: %w", registration.ErrEmptyPointSet)
	}
	w := math.Max(b.Max[0]-b.Min[0], 1e-9)
	h := math.Max(b.Max[1]-b.Min[1], 1e-9)
	scale := size / math.Max(w, h)
	if size <= 0 {
		scale = 1
	}
	return frame{
		min:     b.Min,
		scale:   scale,
		width:   w*scale + 2*padding,
		height:  h*scale + 2*padding,
		padding: padding,
	}, nil
}

// toImage returns pixel coordinates, y down
func (f frame) toImage(p orb.Point) (int, int) {
	x := (p[0]-f.min[0])*f.scale + f.padding
	y := f.height - ((p[1]-f.min[1])*f.scale + f.padding)
	return int(math.Round(x)), int(math.Round(y))
}

// toCanvas returns canvas coordinates, y up
func (f frame) toCanvas(p orb.Point) (float64, float64) {
	return (p[0]-f.min[0])*f.scale + f.padding, (p[1]-f.min[1])*f.scale + f.padding
}

// Render draws the overlay into a new image
func (o *Overlay) Render() (*image.RGBA, error) {
	f, err := o.frame(float64(o.Size), float64(o.Padding))
	if err != nil {
		return nil, err
	}

	width, height := int(math.Ceil(f.width))+1, int(math.Ceil(f.height))+1
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 255, 255, 255
	}

	if o.Grid > 0 {
		o.drawGrid(img, f)
	}

	for _, l := range o.Layers {
		for i, v := range l.Points {
			x, y := f.toImage(o.Plane.Project(v))
			hidden := i < len(l.Hidden) && l.Hidden[i]
			switch {
			case hidden:
				drawRing(img, x, y, o.Radius+1, l.Color)
			case l.Outline:
				drawSquare(img, x, y, 2*o.Radius+1, l.Color)
			default:
				drawCircle(img, x, y, o.Radius, l.Color)
			}
		}
	}

	o.drawLegend(img)
	return img, nil
}

// EncodePNG renders the overlay as PNG into w
func (o *Overlay) EncodePNG(w io.Writer) error {
	img, err := o.Render()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// SavePNG renders the overlay to a PNG file
func (o *Overlay) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := o.EncodePNG(f); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}

func (o *Overlay) drawGrid(img *image.RGBA, f frame) {
	b, _ := o.Bound()
	grey := color.RGBA{220, 220, 220, 255}
	for x := math.Floor(b.Min[0]/o.Grid) * o.Grid; x <= b.Max[0]; x += o.Grid {
		px, _ := f.toImage(orb.Point{x, b.Min[1]})
		for y := 0; y < img.Bounds().Max.Y; y++ {
			img.Set(px, y, grey)
		}
	}
	for y := math.Floor(b.Min[1]/o.Grid) * o.Grid; y <= b.Max[1]; y += o.Grid {
		_, py := f.toImage(orb.Point{b.Min[0], y})
		for x := 0; x < img.Bounds().Max.X; x++ {
			img.Set(x, py, grey)
		}
	}
}

func inside(img *image.RGBA, x, y int) bool {
	return x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius && inside(img, cx+dx, cy+dy) {
				img.Set(cx+dx, cy+dy, c)
			}
		}
	}
}

// drawRing draws a one pixel circle outline
func drawRing(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	inner := (radius - 1) * (radius - 1)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d := dx*dx + dy*dy
			if d <= radius*radius && d > inner && inside(img, cx+dx, cy+dy) {
				img.Set(cx+dx, cy+dy, c)
			}
		}
	}
}

// drawSquare draws a square outline
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for d := -half; d <= half; d++ {
		for _, p := range [][2]int{{cx + d, cy - half}, {cx + d, cy + half}, {cx - half, cy + d}, {cx + half, cy + d}} {
			if inside(img, p[0], p[1]) {
				img.Set(p[0], p[1], c)
			}
		}
	}
}

// drawLegend adds the title and one swatch per layer in the top-left corner
func (o *Overlay) drawLegend(img *image.RGBA) {
	y := 15
	if o.Title != "" {
		drawText(img, 10, y, o.Title, color.RGBA{0, 0, 0, 255})
		y += 18
	}
	for _, l := range o.Layers {
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				if inside(img, 10+dx, y+dy-10) {
					img.Set(10+dx, y+dy-10, l.Color)
				}
			}
		}
		drawText(img, 28, y, fmt.Sprintf("%s (%d)", l.Label, len(l.Points)), color.RGBA{0, 0, 0, 255})
		y += 18
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses a hex color string like "#FF6B6B", red on failure
func parseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}

	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}
