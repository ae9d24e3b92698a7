package samples

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/geodl/segtrain/errdefs"
)

// Inventory records, per split, how many samples the run will use, and the
// per-sample class-balance weight for the training split. It is computed once
// at startup and immutable afterward.
type Inventory struct {
	// Counts maps split name to the sample count used for that split.
	Counts map[string]int
	// Weights holds one inverse-frequency weight per training sample,
	// aligned with the training archive order.
	Weights []float64
}

// TakeInventory inspects the archive of every split under dir. A non-zero
// override caps the split's sample count; overrides exceeding the archive's
// actual record count are a ConfigurationError. Missing archive files are a
// MissingDataError.
func TakeInventory(fs afero.Fs, dir string, overrides map[string]int, open Opener, logger *zap.Logger) (*Inventory, error) {
	inv := &Inventory{Counts: make(map[string]int, len(Splits))}

	for _, split := range Splits {
		path := filepath.Join(dir, ArchiveFilename(split))
		if ok, err := afero.Exists(fs, path); err != nil {
			return nil, errors.Wrapf(err, "checking archive for split %s", split)
		} else if !ok {
			return nil, &errdefs.MissingDataError{Path: path}
		}

		archive, err := open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "opening archive for split %s", split)
		}

		actual := archive.Len()
		count := actual
		if override, ok := overrides[split]; ok && override > 0 {
			if override > actual {
				archive.Close()
				return nil, errdefs.Configf(
					"the configured number of %s samples (%d) exceeds the number of samples in the archive (%d)",
					split, override, actual)
			}
			count = override
		}
		inv.Counts[split] = count

		if split == SplitTrain {
			weights, err := trainingWeights(archive, count)
			if err != nil {
				archive.Close()
				return nil, errors.Wrap(err, "computing training sample weights")
			}
			inv.Weights = weights
		}

		if err := archive.Close(); err != nil {
			return nil, errors.Wrapf(err, "closing archive for split %s", split)
		}
	}

	logger.Info("sample inventory complete",
		zap.Int("trn", inv.Counts[SplitTrain]),
		zap.Int("val", inv.Counts[SplitValidation]),
		zap.Int("tst", inv.Counts[SplitTest]))
	return inv, nil
}

// trainingWeights derives one balanced weight per training sample from its
// class signature: the sorted set of distinct label values present.
func trainingWeights(archive Archive, count int) ([]float64, error) {
	keys := make([]string, 0, count)
	for i := 0; i < count; i++ {
		label, err := archive.Label(i)
		if err != nil {
			return nil, errors.Wrapf(err, "reading label %d", i)
		}
		keys = append(keys, classSignature(label.Int64s()))
	}
	return BalancedWeights(keys), nil
}

// classSignature serializes the distinct values of a label tensor into a
// sortable key, e.g. labels {0, 2, 2, 5} become "025".
func classSignature(values []int64) string {
	seen := make(map[int64]struct{})
	distinct := make([]int64, 0, 8)
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			distinct = append(distinct, v)
		}
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i] < distinct[j] })

	var sb strings.Builder
	for _, v := range distinct {
		sb.WriteString(strconv.FormatInt(v, 10))
	}
	return sb.String()
}

// BalancedWeights computes one weight per key, inversely proportional to the
// key's frequency: n_samples / (n_distinct_keys * freq(key)). Weights are
// strictly positive.
func BalancedWeights(keys []string) []float64 {
	if len(keys) == 0 {
		return nil
	}
	freq := make(map[string]int, len(keys))
	for _, k := range keys {
		freq[k]++
	}

	n := float64(len(keys))
	classes := float64(len(freq))
	weights := make([]float64, len(keys))
	for i, k := range keys {
		weights[i] = n / (classes * float64(freq[k]))
	}
	return weights
}
