// Package vis renders class-map heatmaps of model predictions and ground
// truth to PNG files under the run's visualization directory.
package vis

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/geodl/segtrain/tensor"
)

// DefaultMaxSamples caps how many samples of one batch are rendered.
const DefaultMaxSamples = 4

// Renderer writes prediction and label heatmaps for visualized batches.
type Renderer struct {
	fs         afero.Fs
	dir        string
	numClasses int
	maxSamples int
	logger     *zap.Logger
}

// NewRenderer creates a renderer writing under dir/visualization.
func NewRenderer(fs afero.Fs, dir string, numClasses int, logger *zap.Logger) (*Renderer, error) {
	visDir := filepath.Join(dir, "visualization")
	if err := fs.MkdirAll(visDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating visualization directory %s", visDir)
	}
	return &Renderer{
		fs:         fs,
		dir:        visDir,
		numClasses: numClasses,
		maxSamples: DefaultMaxSamples,
		logger:     logger,
	}, nil
}

// Render writes one prediction heatmap and one label heatmap per sample of
// the batch, up to the renderer's sample cap.
func (r *Renderer) Render(split string, epoch, batchIndex int, images, logits, labels *tensor.Tensor) error {
	preds, err := tensor.ArgMaxClasses(logits)
	if err != nil {
		return err
	}
	truth, err := tensor.FlattenLabels(labels)
	if err != nil {
		return err
	}

	n, h, w := labels.Shape[0], labels.Shape[1], labels.Shape[2]
	count := n
	if count > r.maxSamples {
		count = r.maxSamples
	}
	pixels := h * w
	for s := 0; s < count; s++ {
		base := fmt.Sprintf("%s_ep%03d_batch%03d_sample%02d", split, epoch, batchIndex, s)
		predGrid := &classGrid{values: preds[s*pixels : (s+1)*pixels], h: h, w: w}
		if err := r.savePlot(base+"_pred.png", fmt.Sprintf("%s predictions", split), predGrid); err != nil {
			return err
		}
		labelGrid := &classGrid{values: truth[s*pixels : (s+1)*pixels], h: h, w: w}
		if err := r.savePlot(base+"_label.png", fmt.Sprintf("%s labels", split), labelGrid); err != nil {
			return err
		}
	}
	r.logger.Debug("visualization written",
		zap.String("split", split),
		zap.Int("epoch", epoch),
		zap.Int("batch", batchIndex),
		zap.Int("samples", count))
	return nil
}

func (r *Renderer) savePlot(name, title string, grid *classGrid) error {
	p := plot.New()
	p.Title.Text = title
	p.HideAxes()

	colors := r.numClasses
	if colors < 2 {
		colors = 2
	}
	p.Add(plotter.NewHeatMap(grid, palette.Heat(colors, 1)))

	writer, err := p.WriterTo(4*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return errors.Wrap(err, "rendering heatmap")
	}
	f, err := r.fs.Create(filepath.Join(r.dir, name))
	if err != nil {
		return errors.Wrapf(err, "creating visualization file %s", name)
	}
	defer f.Close()
	if _, err := writer.WriteTo(f); err != nil {
		return errors.Wrapf(err, "writing visualization file %s", name)
	}
	return nil
}

// classGrid adapts one sample's flattened class indices to the heatmap grid
// interface. Row 0 of the tensor is drawn at the top of the image.
type classGrid struct {
	values []int64
	h, w   int
}

func (g *classGrid) Dims() (int, int)   { return g.w, g.h }
func (g *classGrid) X(c int) float64    { return float64(c) }
func (g *classGrid) Y(r int) float64    { return float64(r) }
func (g *classGrid) Z(c, r int) float64 { return float64(g.values[(g.h-1-r)*g.w+c]) }
