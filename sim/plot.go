package sim

import (
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// New2DPlot creates new plot of a SLAM run from three data sources:
// truth:     ground truth robot trajectory, one (x, y, ...) row per step
// estimate:  estimated robot trajectory, one (x, y, ...) row per step
// landmarks: estimated landmark positions, one (x, y) row per landmark
// It returns error if either of the supplied data matrices is nil, the
// trajectories have fewer than 2 columns or landmarks does not have exactly 2.
func New2DPlot(truth, estimate, landmarks *mat.Dense) (*plot.Plot, error) {
	if truth == nil || estimate == nil || landmarks == nil {
		return nil, fmt.Errorf("invalid data supplied")
	}

	_, ct := truth.Dims()
	_, ce := estimate.Dims()
	_, cl := landmarks.Dims()

	if ct < 2 || ce < 2 || cl != 2 {
		return nil, fmt.Errorf("invalid data dimensions")
	}

	p := plot.New()

	p.Title.Text = "SLAM"
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"

	legend := plot.NewLegend()
	legend.Top = true
	p.Legend = legend

	// ground truth trajectory
	truthScatter, err := plotter.NewScatter(makePoints(truth))
	if err != nil {
		return nil, err
	}
	truthScatter.GlyphStyle.Color = color.RGBA{R: 255, B: 128, A: 255}
	truthScatter.Shape = draw.PyramidGlyph{}
	truthScatter.GlyphStyle.Radius = vg.Points(2)

	p.Add(truthScatter)
	p.Legend.Add("truth", truthScatter)

	// estimated trajectory
	estScatter, err := plotter.NewScatter(makePoints(estimate))
	if err != nil {
		return nil, err
	}
	estScatter.GlyphStyle.Color = color.RGBA{G: 255, A: 128}
	estScatter.GlyphStyle.Radius = vg.Points(2)

	p.Add(estScatter)
	p.Legend.Add("estimate", estScatter)

	// estimated landmark positions
	lmScatter, err := plotter.NewScatter(makePoints(landmarks))
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %v", err)
	}
	lmScatter.GlyphStyle.Color = color.RGBA{R: 169, G: 169, B: 169}
	lmScatter.Shape = draw.CrossGlyph{}
	lmScatter.GlyphStyle.Radius = vg.Points(3)

	p.Add(lmScatter)
	p.Legend.Add("landmarks", lmScatter)

	return p, nil
}

func makePoints(m *mat.Dense) plotter.XYs {
	r, _ := m.Dims()
	pts := make(plotter.XYs, r)
	for i := 0; i < r; i++ {
		pts[i].X = m.At(i, 0)
		pts[i].Y = m.At(i, 1)
	}

	return pts
}
