package training

import (
	"fmt"
	"math"

	"github.com/geodl/segtrain/checkpoints"
)

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer interface {
	Step() error
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
	// State exports the optimizer buffers for checkpointing.
	State() checkpoints.OptimizerState
	// LoadState restores previously exported buffers.
	LoadState(state checkpoints.OptimizerState) error
}

// SGD implements stochastic gradient descent with optional momentum and
// weight decay.
type SGD struct {
	parameters   []*Parameter
	learningRate float64
	momentum     float64
	weightDecay  float64
	velocities   map[string][]float32
	steps        int
}

// NewSGD creates an SGD optimizer over the given parameters.
func NewSGD(parameters []*Parameter, lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		velocities:   make(map[string][]float32),
	}
}

// Step performs a single optimization step.
func (sgd *SGD) Step() error {
	for _, param := range sgd.parameters {
		velocity := sgd.velocities[param.Name]
		if sgd.momentum > 0 && velocity == nil {
			velocity = make([]float32, len(param.Data))
			sgd.velocities[param.Name] = velocity
		}
		for i := range param.Data {
			grad := float64(param.Grad[i])
			if sgd.weightDecay > 0 {
				grad += sgd.weightDecay * float64(param.Data[i])
			}
			if sgd.momentum > 0 {
				v := sgd.momentum*float64(velocity[i]) + grad
				velocity[i] = float32(v)
				grad = v
			}
			param.Data[i] -= float32(sgd.learningRate * grad)
		}
	}
	sgd.steps++
	return nil
}

// ZeroGrad resets all parameter gradients.
func (sgd *SGD) ZeroGrad() {
	for _, param := range sgd.parameters {
		param.ZeroGrad()
	}
}

func (sgd *SGD) GetLR() float64   { return sgd.learningRate }
func (sgd *SGD) SetLR(lr float64) { sgd.learningRate = lr }

// State exports the momentum buffers.
func (sgd *SGD) State() checkpoints.OptimizerState {
	buffers := make(map[string][]float32, len(sgd.velocities))
	for name, v := range sgd.velocities {
		copied := make([]float32, len(v))
		copy(copied, v)
		buffers[name] = copied
	}
	return checkpoints.OptimizerState{Type: "sgd", LR: sgd.learningRate, Steps: sgd.steps, Buffers: buffers}
}

// LoadState restores momentum buffers from a checkpoint.
func (sgd *SGD) LoadState(state checkpoints.OptimizerState) error {
	if state.Type != "sgd" {
		return fmt.Errorf("cannot load %q state into SGD optimizer", state.Type)
	}
	sgd.learningRate = state.LR
	sgd.steps = state.Steps
	sgd.velocities = make(map[string][]float32, len(state.Buffers))
	for name, v := range state.Buffers {
		copied := make([]float32, len(v))
		copy(copied, v)
		sgd.velocities[name] = copied
	}
	return nil
}

// Adam implements the Adam optimizer.
type Adam struct {
	parameters   []*Parameter
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	weightDecay  float64
	m            map[string][]float32
	v            map[string][]float32
	steps        int
}

// NewAdam creates an Adam optimizer with the usual defaults for zero-valued
// hyperparameters (beta1=0.9, beta2=0.999, eps=1e-8).
func NewAdam(parameters []*Parameter, lr, beta1, beta2, epsilon, weightDecay float64) *Adam {
	if beta1 == 0 {
		beta1 = 0.9
	}
	if beta2 == 0 {
		beta2 = 0.999
	}
	if epsilon == 0 {
		epsilon = 1e-8
	}
	return &Adam{
		parameters:   parameters,
		learningRate: lr,
		beta1:        beta1,
		beta2:        beta2,
		epsilon:      epsilon,
		weightDecay:  weightDecay,
		m:            make(map[string][]float32),
		v:            make(map[string][]float32),
	}
}

// Step performs a single optimization step.
func (a *Adam) Step() error {
	a.steps++
	bc1 := 1 - math.Pow(a.beta1, float64(a.steps))
	bc2 := 1 - math.Pow(a.beta2, float64(a.steps))

	for _, param := range a.parameters {
		m := a.m[param.Name]
		v := a.v[param.Name]
		if m == nil {
			m = make([]float32, len(param.Data))
			v = make([]float32, len(param.Data))
			a.m[param.Name] = m
			a.v[param.Name] = v
		}
		for i := range param.Data {
			grad := float64(param.Grad[i])
			if a.weightDecay > 0 {
				grad += a.weightDecay * float64(param.Data[i])
			}
			mi := a.beta1*float64(m[i]) + (1-a.beta1)*grad
			vi := a.beta2*float64(v[i]) + (1-a.beta2)*grad*grad
			m[i] = float32(mi)
			v[i] = float32(vi)

			mHat := mi / bc1
			vHat := vi / bc2
			param.Data[i] -= float32(a.learningRate * mHat / (math.Sqrt(vHat) + a.epsilon))
		}
	}
	return nil
}

// ZeroGrad resets all parameter gradients.
func (a *Adam) ZeroGrad() {
	for _, param := range a.parameters {
		param.ZeroGrad()
	}
}

func (a *Adam) GetLR() float64   { return a.learningRate }
func (a *Adam) SetLR(lr float64) { a.learningRate = lr }

// State exports the first and second moment buffers.
func (a *Adam) State() checkpoints.OptimizerState {
	buffers := make(map[string][]float32, 2*len(a.m))
	for name, m := range a.m {
		copied := make([]float32, len(m))
		copy(copied, m)
		buffers[name+".m"] = copied
	}
	for name, v := range a.v {
		copied := make([]float32, len(v))
		copy(copied, v)
		buffers[name+".v"] = copied
	}
	return checkpoints.OptimizerState{Type: "adam", LR: a.learningRate, Steps: a.steps, Buffers: buffers}
}

// LoadState restores moment buffers from a checkpoint.
func (a *Adam) LoadState(state checkpoints.OptimizerState) error {
	if state.Type != "adam" {
		return fmt.Errorf("cannot load %q state into Adam optimizer", state.Type)
	}
	a.learningRate = state.LR
	a.steps = state.Steps
	a.m = make(map[string][]float32)
	a.v = make(map[string][]float32)
	for name, buf := range state.Buffers {
		copied := make([]float32, len(buf))
		copy(copied, buf)
		switch {
		case len(name) > 2 && name[len(name)-2:] == ".m":
			a.m[name[:len(name)-2]] = copied
		case len(name) > 2 && name[len(name)-2:] == ".v":
			a.v[name[:len(name)-2]] = copied
		default:
			return fmt.Errorf("unrecognized adam buffer %q", name)
		}
	}
	return nil
}
