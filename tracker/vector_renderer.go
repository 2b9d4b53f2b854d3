package tracker

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer draws an Overlay as vector graphics. Canvas units are
// millimetres; the drawing is scaled so its longest side is Size mm.
type VectorRenderer struct {
	*Overlay
	Resolution  canvas.Resolution // PNG output resolution
	StrokeWidth float64
}

// NewVectorRenderer wraps o with a 300 DPI PNG resolution
func NewVectorRenderer(o *Overlay) *VectorRenderer {
	return &VectorRenderer{
		Overlay:     o,
		Resolution:  canvas.DPI(300),
		StrokeWidth: 0.5,
	}
}

// canvasRenderer is implemented by the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the overlay as an SVG document
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	f, err := r.frame(r.sizeMM(), r.paddingMM())
	if err != nil {
		return err
	}
	svgRenderer := svg.New(w, f.width, f.height, nil)
	r.renderToCanvas(svgRenderer, f)
	return svgRenderer.Close()
}

// RenderToPNG rasterizes the overlay at Resolution and writes a PNG
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	f, err := r.frame(r.sizeMM(), r.paddingMM())
	if err != nil {
		return err
	}
	rast := rasterizer.New(f.width, f.height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, f)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) sizeMM() float64 {
	if r.Size <= 0 {
		return 200
	}
	return float64(r.Size) / 4 // 800 px -> 200 mm
}

func (r *VectorRenderer) paddingMM() float64 {
	return float64(r.Padding) / 4
}

func (r *VectorRenderer) dotRadius() float64 {
	return math.Max(float64(r.Radius)/4, 0.5)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, f frame) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(f.width, f.height), bgStyle, canvas.Identity)

	if r.Grid > 0 {
		r.renderGrid(renderer, f)
	}

	radius := r.dotRadius()
	for _, l := range r.Layers {
		c := l.Color

		filled := canvas.DefaultStyle
		filled.Fill = canvas.Paint{Color: c}
		filled.Stroke = canvas.Paint{Color: canvas.Transparent}

		outlined := canvas.DefaultStyle
		outlined.Fill = canvas.Paint{Color: canvas.Transparent}
		outlined.Stroke = canvas.Paint{Color: c}
		outlined.StrokeWidth = r.StrokeWidth

		for i, v := range l.Points {
			x, y := f.toCanvas(r.Plane.Project(v))
			hidden := i < len(l.Hidden) && l.Hidden[i]
			switch {
			case hidden:
				renderer.RenderPath(canvas.Circle(radius*1.5).Translate(x, y), outlined, canvas.Identity)
			case l.Outline:
				sq := canvas.Rectangle(2*radius, 2*radius).Translate(x-radius, y-radius)
				renderer.RenderPath(sq, outlined, canvas.Identity)
			default:
				renderer.RenderPath(canvas.Circle(radius).Translate(x, y), filled, canvas.Identity)
			}
		}
	}

	r.renderLegend(renderer, f)
}

func (r *VectorRenderer) renderGrid(renderer canvasRenderer, f frame) {
	b, _ := r.Bound()

	gridStyle := canvas.DefaultStyle
	gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
	gridStyle.StrokeWidth = r.StrokeWidth / 2
	gridStyle.Dashes = []float64{2.0, 2.0}

	line := func(a, b orb.Point) {
		x1, y1 := f.toCanvas(a)
		x2, y2 := f.toCanvas(b)
		p := &canvas.Path{}
		p.MoveTo(x1, y1)
		p.LineTo(x2, y2)
		renderer.RenderPath(p, gridStyle, canvas.Identity)
	}
	for x := math.Floor(b.Min[0]/r.Grid) * r.Grid; x <= b.Max[0]; x += r.Grid {
		line(orb.Point{x, b.Min[1]}, orb.Point{x, b.Max[1]})
	}
	for y := math.Floor(b.Min[1]/r.Grid) * r.Grid; y <= b.Max[1]; y += r.Grid {
		line(orb.Point{b.Min[0], y}, orb.Point{b.Max[0], y})
	}
}

// renderLegend draws one swatch per layer along the top edge. Labels are
// left to the raster renderer: text needs a loaded font family.
func (r *VectorRenderer) renderLegend(renderer canvasRenderer, f frame) {
	const swatch = 3.0
	x := swatch
	y := f.height - 2*swatch
	for _, l := range r.Layers {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: l.Color}
		style.Stroke = canvas.Paint{Color: color.RGBA{0, 0, 0, 255}}
		style.StrokeWidth = r.StrokeWidth / 2
		renderer.RenderPath(canvas.Rectangle(swatch, swatch).Translate(x, y), style, canvas.Identity)
		x += 2 * swatch
	}
}
