package training

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// GraphsFile is the per-run training curve image, regenerated every epoch.
const GraphsFile = "graphs.png"

// curveSeries converts a per-epoch history into line coordinates, epochs
// numbered from 1. Non-finite entries, which diverged epochs produce, are
// left out of the curve.
func curveSeries(history []float64) plotter.XYs {
	var xys plotter.XYs
	for i, v := range history {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: float64(i + 1), Y: v})
	}
	return xys
}

func curvePanel(yLabel string, names []string, histories [][]float64) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = yLabel

	for i, history := range histories {
		line, err := plotter.NewLine(curveSeries(history))
		if err != nil {
			return nil, fmt.Errorf("plot %s: %w", names[i], err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(names[i], line)
	}
	return p, nil
}

// WriteGraphs renders the loss and rmetric histories as two stacked panels
// and writes them as a PNG at path.
func WriteGraphs(path string, trainLoss, testLoss, trainRmetric, testRmetric []float64) error {
	lossPanel, err := curvePanel("Loss",
		[]string{"Train loss", "Valid loss"},
		[][]float64{trainLoss, testLoss})
	if err != nil {
		return err
	}
	rmetricPanel, err := curvePanel("rmetric",
		[]string{"Train rmetric", "Test rmetric"},
		[][]float64{trainRmetric, testRmetric})
	if err != nil {
		return err
	}

	img := vgimg.New(8*vg.Inch, 12*vg.Inch)
	dc := draw.New(img)
	panels := [][]*plot.Plot{{lossPanel}, {rmetricPanel}}
	canvases := plot.Align(panels, draw.Tiles{Rows: 2, Cols: 1}, dc)
	for row := range panels {
		for col := range panels[row] {
			panels[row][col].Draw(canvases[row][col])
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create graphs file: %w", err)
	}
	defer file.Close()

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(file); err != nil {
		return fmt.Errorf("write graphs file: %w", err)
	}
	return nil
}
