// Package cost implements the pure cost-estimation function (spec C10):
// no I/O, consulted before dispatch for admission and after each stage to
// emit cost_estimated events.
package cost

import (
	"math"

	"github.com/ultraai/orchestrator/model"
	"github.com/ultraai/orchestrator/provider"
)

// DefaultOutputTokensPerStage is the configurable default used to project
// output tokens before a stage has actually run (spec §4.9).
const DefaultOutputTokensPerStage = 512

// Projection is the result of a pre-dispatch cost estimate.
type Projection struct {
	InputTokensEst  int
	OutputTokensEst int
	EstimatedUsd    float64
	CapExceeded     bool
}

// Estimate projects the USD cost of dispatching prompt to each of
// descriptors, using provider.EstimateTokens for the prompt-size-derived
// input estimate and outputTokensPerStage as the per-model output estimate.
// Returns a number rounded to 4-decimal USD precision.
func Estimate(prompt string, descriptors []model.ModelDescriptor, outputTokensPerStage int, costCapUsd *float64) Projection {
	if outputTokensPerStage <= 0 {
		outputTokensPerStage = DefaultOutputTokensPerStage
	}
	inputTokens := provider.EstimateTokens(prompt)

	var total float64
	for _, d := range descriptors {
		total += float64(inputTokens)/1000.0*d.CostPer1kInputTokens + float64(outputTokensPerStage)/1000.0*d.CostPer1kOutputTokens
	}
	total = round4(total)

	capExceeded := false
	if costCapUsd != nil && total > *costCapUsd {
		capExceeded = true
	}

	return Projection{
		InputTokensEst:  inputTokens * len(descriptors),
		OutputTokensEst: outputTokensPerStage * len(descriptors),
		EstimatedUsd:    total,
		CapExceeded:     capExceeded,
	}
}

// Actual computes the realized USD cost from a set of StageOutputs against
// their descriptors, for the post-stage cost_estimated event.
func Actual(outputs []model.StageOutput, descriptorOf func(model.ModelId) (model.ModelDescriptor, bool)) float64 {
	var total float64
	for _, o := range outputs {
		d, ok := descriptorOf(o.ModelID)
		if !ok {
			continue
		}
		total += float64(o.InputTokens)/1000.0*d.CostPer1kInputTokens + float64(o.OutputTokens)/1000.0*d.CostPer1kOutputTokens
	}
	return round4(total)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
