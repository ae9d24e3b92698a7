package tensor

import "fmt"

// ArgMaxClasses reduces per-class logits of shape [N, C, H, W] to per-pixel
// class indices, flattened to length N*H*W. This is the form the metric
// functions consume.
func ArgMaxClasses(logits *Tensor) ([]int64, error) {
	if logits.DType != Float32 {
		return nil, fmt.Errorf("argmax requires Float32 logits, got %s", logits.DType)
	}
	if len(logits.Shape) != 4 {
		return nil, fmt.Errorf("argmax requires [N, C, H, W] logits, got shape %v", logits.Shape)
	}

	n, c, h, w := logits.Shape[0], logits.Shape[1], logits.Shape[2], logits.Shape[3]
	data := logits.Float32s()
	pixels := h * w
	out := make([]int64, n*pixels)

	for i := 0; i < n; i++ {
		base := i * c * pixels
		for p := 0; p < pixels; p++ {
			maxIdx := 0
			maxVal := data[base+p]
			for j := 1; j < c; j++ {
				if v := data[base+j*pixels+p]; v > maxVal {
					maxVal = v
					maxIdx = j
				}
			}
			out[i*pixels+p] = int64(maxIdx)
		}
	}
	return out, nil
}

// FlattenLabels returns the label tensor's values as a flat slice.
func FlattenLabels(labels *Tensor) ([]int64, error) {
	if labels.DType != Int64 {
		return nil, fmt.Errorf("labels must be Int64, got %s", labels.DType)
	}
	return labels.Int64s(), nil
}
