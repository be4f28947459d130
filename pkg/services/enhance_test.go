package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntensityLevel(t *testing.T) {
	assert.Equal(t, "low", IntensityLevel(0))
	assert.Equal(t, "low", IntensityLevel(33))
	assert.Equal(t, "medium", IntensityLevel(34))
	assert.Equal(t, "medium", IntensityLevel(66))
	assert.Equal(t, "high", IntensityLevel(67))
	assert.Equal(t, "high", IntensityLevel(100))
}

func TestBuildEnhancementPrompt(t *testing.T) {
	p := BuildEnhancementPrompt("hola que tal", "formal", 80)
	assert.Contains(t, p, "altamente formal")
	assert.Contains(t, p, "\"hola que tal\"")
	assert.Contains(t, p, "Texto mejorado:")

	for _, s := range EnhanceStyles {
		assert.True(t, ValidEnhanceStyle(s), s)
	}
	assert.False(t, ValidEnhanceStyle("pirata"))
}

func TestCalculateTextDiff(t *testing.T) {
	d := CalculateTextDiff("hola mundo", "hola a todo el mundo")
	assert.Equal(t, 2, d.WordChanges.OriginalCount)
	assert.Equal(t, 5, d.WordChanges.EnhancedCount)
	assert.Equal(t, 3, d.WordChanges.Added)
	assert.Equal(t, 10, d.CharChanges.OriginalCount)
	assert.Equal(t, 10, d.CharChanges.Added)
}

func TestCalculateTextMetrics(t *testing.T) {
	m := CalculateTextMetrics("Hola. Adiós!", "Buenos días, estimado cliente.")
	assert.Equal(t, 2, m.Structure.OriginalSentences)
	assert.Equal(t, 1, m.Structure.EnhancedSentences)
	assert.Equal(t, -1, m.Structure.SentenceChange)
	assert.InDelta(t, 6.0, m.Readability.OriginalAvgSentenceLength, 0.001)
	assert.Greater(t, m.Complexity.EnhancedAvgWordLength, 0.0)

	empty := CalculateTextMetrics("", "")
	assert.Zero(t, empty.Readability.OriginalAvgSentenceLength)
	assert.Zero(t, empty.Complexity.EnhancedAvgWordLength)
}
