package service

import (
	"testing"
	"wellness_backend/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestApplyDimensionUpdates(t *testing.T) {
	tests := []struct {
		name    string
		start   model.Dimensions
		updates map[string]float64
		want    map[string]float64
	}{
		{
			name:    "ema blend",
			start:   model.NewDimensions(),
			updates: map[string]float64{model.DimEmotionalRegulation: 0.9},
			want:    map[string]float64{model.DimEmotionalRegulation: 0.62, model.DimStressResilience: 0.5},
		},
		{
			name:    "clamps low",
			start:   model.NewDimensions(),
			updates: map[string]float64{model.DimSocialSupport: -5},
			want:    map[string]float64{model.DimSocialSupport: 0},
		},
		{
			name:    "clamps high",
			start:   model.NewDimensions(),
			updates: map[string]float64{model.DimSocialSupport: 5},
			want:    map[string]float64{model.DimSocialSupport: 1},
		},
		{
			name:    "unknown keys ignored",
			start:   model.NewDimensions(),
			updates: map[string]float64{"mood": 1},
			want:    map[string]float64{model.DimSelfAwareness: 0.5},
		},
		{
			name:    "missing dimension starts from default",
			start:   model.Dimensions{},
			updates: map[string]float64{model.DimCopingConfidence: 1},
			want:    map[string]float64{model.DimCopingConfidence: 0.65},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ApplyDimensionUpdates(tt.start, tt.updates)
			for k, v := range tt.want {
				assert.InDelta(t, v, tt.start[k], 1e-9, k)
			}
			assert.NotContains(t, tt.start, "mood")
		})
	}
}

func TestFocusAndStrengthTieBreak(t *testing.T) {
	dims := model.NewDimensions()
	assert.Equal(t, model.DimEmotionalRegulation, FocusDimension(dims))
	assert.Equal(t, model.DimEmotionalRegulation, StrengthDimension(dims))

	dims[model.DimSelfAwareness] = 0.2
	dims[model.DimCopingConfidence] = 0.2
	dims[model.DimStressResilience] = 0.9
	dims[model.DimSocialSupport] = 0.9
	assert.Equal(t, model.DimSelfAwareness, FocusDimension(dims))
	assert.Equal(t, model.DimStressResilience, StrengthDimension(dims))
}

func TestCompletionFeedback(t *testing.T) {
	balanced := completionFeedback(model.NewDimensions())
	assert.Contains(t, balanced, "balanced")
	assert.Contains(t, balanced, "emotional regulation")

	dims := model.NewDimensions()
	dims[model.DimSocialSupport] = 0.8
	dims[model.DimStressResilience] = 0.1
	msg := completionFeedback(dims)
	assert.Contains(t, msg, "social support is a notable strength")
	assert.Contains(t, msg, "work on stress resilience")
}
