package neural_network

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/featurepipe/pkg/errors"
)

// SaveLossCurve renders the per-epoch loss of history to filename.
// The image format follows the extension (.png, .svg, .pdf).
func SaveLossCurve(history *History, filename string) error {
	if history == nil || len(history.Loss) == 0 {
		return errors.NewValueError("SaveLossCurve", "history has no recorded epochs")
	}

	p := plot.New()
	p.Title.Text = "Training loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "binary cross-entropy"

	pts := make(plotter.XYs, len(history.Loss))
	for i, loss := range history.Loss {
		pts[i].X = float64(i + 1)
		pts[i].Y = loss
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "failed to build loss line")
	}
	line.LineStyle.Width = vg.Points(2)
	p.Add(line, plotter.NewGrid())

	if err := p.Save(6*vg.Inch, 4*vg.Inch, filename); err != nil {
		return errors.Wrapf(err, "failed to save loss curve to %s", filename)
	}
	return nil
}
