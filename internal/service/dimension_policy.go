package service

import (
	"fmt"
	"strings"
	"wellness_backend/internal/model"
)

// EMA weights: 70% retained profile, 30% new signal. Fixed policy, not configuration.
const (
	retainWeight = 0.7
	signalWeight = 0.3

	// MaxQuestions is the number of answered turns after which a session completes.
	MaxQuestions = 5

	InitialQuestionPlaceholder = "Initial Context"
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ApplyDimensionUpdates blends every known dimension present in updates into dims.
// Unknown keys and absent dimensions are left alone.
func ApplyDimensionUpdates(dims model.Dimensions, updates map[string]float64) {
	for name, impact := range updates {
		if !model.IsDimension(name) {
			continue
		}
		old, ok := dims[name]
		if !ok {
			old = model.DefaultDimensionScore
		}
		// impact is blended raw; only the result is bounded
		dims[name] = clamp01(old*retainWeight + impact*signalWeight)
	}
}

// FocusDimension returns the lowest-scoring dimension; ties go to the earlier name in DimensionOrder.
func FocusDimension(dims model.Dimensions) string {
	focus := model.DimensionOrder[0]
	for _, name := range model.DimensionOrder[1:] {
		if dims[name] < dims[focus] {
			focus = name
		}
	}
	return focus
}

// StrengthDimension returns the highest-scoring dimension with the same tie-break as FocusDimension.
func StrengthDimension(dims model.Dimensions) string {
	strength := model.DimensionOrder[0]
	for _, name := range model.DimensionOrder[1:] {
		if dims[name] > dims[strength] {
			strength = name
		}
	}
	return strength
}

func humanizeDimension(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

const crisisFeedback = "I'm noticing you might be going through a very difficult time. I want to prioritize your safety. " +
	"Please consider reaching out to a mental health professional or a crisis line right now. You are not alone."

func completionFeedback(dims model.Dimensions) string {
	strength := StrengthDimension(dims)
	focus := FocusDimension(dims)
	if strength == focus {
		return fmt.Sprintf("Thank you for sharing. I've gathered a good sense of where you're at. "+
			"Your profile looks fairly balanced, and %s is a good place for us to keep building together.",
			humanizeDimension(focus))
	}
	return fmt.Sprintf("Thank you for sharing. I've gathered a good sense of where you're at. "+
		"Your %s is a notable strength, and we can work on %s together.",
		humanizeDimension(strength), humanizeDimension(focus))
}
