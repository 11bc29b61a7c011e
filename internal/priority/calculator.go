// Package priority computes the scheduler's scalar ordering key from a
// task's base priority, dependency depth, deadline urgency, transitive
// blocking weight, and submission source.
package priority

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/odgrim/abathur/internal/dependency"
	"github.com/odgrim/abathur/internal/task"
)

// Weights holds the five priority factor weights. They must sum to 1.0;
// Calculator does not enforce this itself (config validation does) so
// callers that construct Weights directly are responsible.
type Weights struct {
	Base     float64
	Depth    float64
	Urgency  float64
	Blocking float64
	Source   float64
}

var DefaultWeights = Weights{Base: 0.3, Depth: 0.15, Urgency: 0.25, Blocking: 0.2, Source: 0.1}

// Params holds the tunable constants referenced by the five score formulas.
type Params struct {
	Weights Weights

	// DepthMax is D_MAX: the dependency depth at which the depth score saturates.
	DepthMax int
	// BlockingMax is B_MAX: the transitive-dependent count at which the blocking score saturates.
	BlockingMax int
	// UrgencyScale is T: the slack-to-urgency time scale.
	UrgencyScale time.Duration
}

var DefaultParams = Params{
	Weights:      DefaultWeights,
	DepthMax:     10,
	BlockingMax:  64,
	UrgencyScale: 24 * time.Hour,
}

// Calculator computes calculated_priority for a task given the current
// dependency graph state.
type Calculator struct {
	resolver *dependency.Resolver
	params   Params
}

// NewCalculator builds a Calculator using resolver for depth/blocking
// lookups and params for the weighting constants.
func NewCalculator(resolver *dependency.Resolver, params Params) *Calculator {
	return &Calculator{resolver: resolver, params: params}
}

// Compute returns calculated_priority for t, evaluated at now.
func (c *Calculator) Compute(ctx context.Context, t *task.Task, now time.Time) (float64, error) {
	depth, err := c.resolver.DependencyDepth(ctx, t.ID)
	if err != nil {
		return 0, fmt.Errorf("compute priority for %s: %w", t.ID, err)
	}
	dependents, err := c.resolver.TransitiveDependents(ctx, t.ID)
	if err != nil {
		return 0, fmt.Errorf("compute priority for %s: %w", t.ID, err)
	}

	base := float64(t.BasePriority)
	depthScore := depthScore(depth, c.params.DepthMax)
	urgencyScore := urgencyScore(t, now, c.params.UrgencyScale)
	blockingScore := blockingScore(len(dependents), c.params.BlockingMax)
	sourceScore := t.Source.Score()

	w := c.params.Weights
	return w.Base*base + w.Depth*depthScore + w.Urgency*urgencyScore +
		w.Blocking*blockingScore + w.Source*sourceScore, nil
}

func depthScore(depth, depthMax int) float64 {
	if depthMax <= 0 {
		return 0
	}
	d := depth
	if d > depthMax {
		d = depthMax
	}
	return float64(d) / float64(depthMax) * 10
}

// urgencyScore grows exponentially as slack (time between deadline and the
// point the task would need to start, given its estimated duration) shrinks.
// Negative slack saturates at 10; no deadline scores 0.
func urgencyScore(t *task.Task, now time.Time, scale time.Duration) float64 {
	if t.Deadline == nil {
		return 0
	}
	var estimated time.Duration
	if t.EstimatedDuration != nil {
		estimated = *t.EstimatedDuration
	}

	slack := t.Deadline.Sub(now) - estimated
	if slack <= 0 {
		return 10
	}
	if scale <= 0 {
		return 10
	}
	return 10 * math.Exp(-slack.Seconds()/scale.Seconds())
}

func blockingScore(dependentCount, blockingMax int) float64 {
	if blockingMax <= 0 {
		return 0
	}
	numerator := math.Log2(1 + float64(dependentCount))
	denominator := math.Log2(1 + float64(blockingMax))
	if denominator == 0 {
		return 0
	}
	return numerator * 10 / denominator
}
