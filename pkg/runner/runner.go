// Package runner assembles Self-Evolve engines for the two run modes: basic
// (generator/evaluator/refiner triple) and enhanced (professor orchestrator as
// generator). Runners are constructed per job and translate engine and
// orchestrator progress into a single normalized callback.
package runner

import (
	"context"

	"github.com/sagekit/sage/pkg/engine"
	"github.com/sagekit/sage/pkg/models"
)

// Role temperatures shared by both runners.
const (
	generatorTemperature = 0.7
	evaluatorTemperature = 0.3
	refinerTemperature   = 0.5
)

// Progress is the normalized progress report delivered to callbacks.
// Fraction is the overall completion estimate in [0,1]. Phase is set only in
// enhanced mode.
type Progress struct {
	Fraction      float64
	Phase         string
	Iteration     int
	MaxIterations int
	TotalTokens   int
}

// ProgressFunc observes runner progress.
type ProgressFunc func(Progress)

// Options binds a runner invocation to a job for partial-result persistence.
type Options struct {
	JobID         string
	Store         engine.PartialStore
	PartialWrites bool
}

// Runner solves problems in one of the run modes.
type Runner interface {
	// Mode identifies the runner for job records.
	Mode() models.RunMode

	// Solve runs a fresh loop on the problem.
	Solve(ctx context.Context, question, context_, constraints string, metadata map[string]any, progress ProgressFunc) (*models.Solution, error)

	// ResumeSolve continues from an existing history with an extended
	// iteration budget: engine max iterations = len(history) + additional.
	ResumeSolve(ctx context.Context, question string, history models.EvolutionHistory, additional int, progress ProgressFunc) (*models.Solution, error)
}

// clampFraction keeps progress estimates inside [0,1].
func clampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
