package vis

import (
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/geodl/segtrain/tensor"
)

func renderBatch(t *testing.T, r *Renderer, n int) {
	t.Helper()
	h, w := 2, 2
	logits, err := tensor.Zeros([]int{n, 2, h, w}, tensor.Float32)
	if err != nil {
		t.Fatalf("building logits: %v", err)
	}
	labels, err := tensor.Zeros([]int{n, h, w}, tensor.Int64)
	if err != nil {
		t.Fatalf("building labels: %v", err)
	}
	// Alternate predicted and true classes so the heatmaps are not constant.
	lg := logits.Float32s()
	lb := labels.Int64s()
	pixels := h * w
	for s := 0; s < n; s++ {
		for p := 0; p < pixels; p++ {
			if p%2 == 1 {
				lg[s*2*pixels+pixels+p] = 1 // class-1 channel wins
				lb[s*pixels+p] = 1
			}
		}
	}
	if err := r.Render("val", 3, 1, nil, logits, labels); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
}

func TestRenderWritesFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	r, err := NewRenderer(fs, "/run/output", 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	renderBatch(t, r, 2)

	for s := 0; s < 2; s++ {
		for _, kind := range []string{"pred", "label"} {
			name := fmt.Sprintf("/run/output/visualization/val_ep003_batch001_sample%02d_%s.png", s, kind)
			ok, err := afero.Exists(fs, name)
			if err != nil || !ok {
				t.Errorf("missing visualization file %s (err=%v)", name, err)
			}
			if info, err := fs.Stat(name); err == nil && info.Size() == 0 {
				t.Errorf("visualization file %s is empty", name)
			}
		}
	}
}

func TestRenderCapsSamples(t *testing.T) {
	fs := afero.NewMemMapFs()
	r, err := NewRenderer(fs, "/run/output", 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	renderBatch(t, r, DefaultMaxSamples+3)

	files, err := afero.ReadDir(fs, "/run/output/visualization")
	if err != nil {
		t.Fatalf("listing visualization dir: %v", err)
	}
	if len(files) != DefaultMaxSamples*2 {
		t.Errorf("wrote %d files, want %d (pred and label per capped sample)", len(files), DefaultMaxSamples*2)
	}
}

func TestClassGridOrientation(t *testing.T) {
	// values laid out row-major: top row [0 1], bottom row [2 3].
	g := &classGrid{values: []int64{0, 1, 2, 3}, h: 2, w: 2}

	cols, rows := g.Dims()
	if cols != 2 || rows != 2 {
		t.Fatalf("Dims() = (%d, %d), want (2, 2)", cols, rows)
	}
	// Row 0 of the grid is the bottom of the plot, so it must read the last
	// tensor row.
	if got := g.Z(0, 0); got != 2 {
		t.Errorf("Z(0,0) = %v, want 2 (bottom-left)", got)
	}
	if got := g.Z(1, 1); got != 1 {
		t.Errorf("Z(1,1) = %v, want 1 (top-right)", got)
	}
}
