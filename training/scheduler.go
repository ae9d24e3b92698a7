package training

import (
	"math"
)

// LRPolicy computes the learning rate for an epoch. Policies are pure
// functions of the epoch index and the base rate.
type LRPolicy interface {
	GetLR(epoch int, baseLR float64) float64
	GetName() string
}

// StepLRPolicy reduces the learning rate by a factor every stepSize epochs.
type StepLRPolicy struct {
	StepSize int
	Gamma    float64
}

// NewStepLRPolicy creates a step policy. Non-positive stepSize defaults to
// 30; gamma outside (0, 1) defaults to 0.1.
func NewStepLRPolicy(stepSize int, gamma float64) *StepLRPolicy {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRPolicy{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLRPolicy) GetLR(epoch int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRPolicy) GetName() string { return "StepLR" }

// ExponentialLRPolicy decays the learning rate exponentially per epoch.
type ExponentialLRPolicy struct {
	Gamma float64
}

// NewExponentialLRPolicy creates an exponential policy; gamma outside (0, 1)
// defaults to 0.95.
func NewExponentialLRPolicy(gamma float64) *ExponentialLRPolicy {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRPolicy{Gamma: gamma}
}

func (s *ExponentialLRPolicy) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRPolicy) GetName() string { return "ExponentialLR" }

// ConstantLRPolicy keeps the learning rate fixed.
type ConstantLRPolicy struct{}

func (ConstantLRPolicy) GetLR(epoch int, baseLR float64) float64 { return baseLR }
func (ConstantLRPolicy) GetName() string                         { return "ConstantLR" }

// Scheduler applies an LRPolicy to an optimizer, advancing one step per
// training epoch.
type Scheduler struct {
	policy    LRPolicy
	optimizer Optimizer
	baseLR    float64
	epoch     int
}

// NewScheduler wraps policy around the optimizer, using the optimizer's
// current rate as the base rate.
func NewScheduler(policy LRPolicy, optimizer Optimizer) *Scheduler {
	return &Scheduler{
		policy:    policy,
		optimizer: optimizer,
		baseLR:    optimizer.GetLR(),
	}
}

// Step advances the schedule by one epoch and applies the resulting learning
// rate.
func (s *Scheduler) Step() {
	s.epoch++
	s.optimizer.SetLR(s.policy.GetLR(s.epoch, s.baseLR))
}

// Epoch returns the number of completed schedule steps.
func (s *Scheduler) Epoch() int { return s.epoch }

// Name returns the underlying policy name for logging.
func (s *Scheduler) Name() string { return s.policy.GetName() }
