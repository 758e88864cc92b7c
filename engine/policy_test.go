package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuidelineMatchingBatchSizeLadder(t *testing.T) {
	p := BasicOptimizationPolicy{}
	assert.Equal(t, 1, p.GuidelineMatchingBatchSize(1))
	assert.Equal(t, 1, p.GuidelineMatchingBatchSize(10))
	assert.Equal(t, 2, p.GuidelineMatchingBatchSize(11))
	assert.Equal(t, 2, p.GuidelineMatchingBatchSize(20))
	assert.Equal(t, 3, p.GuidelineMatchingBatchSize(21))
	assert.Equal(t, 3, p.GuidelineMatchingBatchSize(30))
	assert.Equal(t, 5, p.GuidelineMatchingBatchSize(31))
	assert.Equal(t, 5, p.GuidelineMatchingBatchSize(100))
}

func TestTemperatureSchedules(t *testing.T) {
	p := BasicOptimizationPolicy{}
	assert.Equal(t, []float64{0.1, 0.3, 0.5}, p.MessageGenerationTemperatures())
	assert.Equal(t, []float64{0.15, 0.3, 0.1}, p.GuidelineMatchingTemperatures())
	assert.Equal(t, []float64{0.15, 0.3, 0.1}, p.ToolCallingTemperatures())
	assert.Equal(t, []float64{0.15, 0.3, 0.1}, p.ResponseAnalysisTemperatures())
	assert.Len(t, p.RetryBackoff(), 3)
}

func TestPreambleRequired(t *testing.T) {
	p := &PerceivedPerformancePolicy{}

	// No prior waits: required.
	assert.True(t, p.PreambleRequired(nil, false))

	// Up to two prior wait cycles: required.
	assert.True(t, p.PreambleRequired([]time.Duration{time.Second, time.Second}, false))

	// Three short waits: not required.
	assert.False(t, p.PreambleRequired([]time.Duration{time.Second, time.Second, time.Second}, false))

	// Last two waits both long: required again.
	assert.True(t, p.PreambleRequired([]time.Duration{
		time.Second, 6 * time.Second, 7 * time.Second,
	}, false))

	// Only one of the last two waits long: not required.
	assert.False(t, p.PreambleRequired([]time.Duration{
		time.Second, time.Second, 7 * time.Second,
	}, false))

	// The last agent message being a preamble always suppresses another.
	assert.True(t, p.PreambleRequired(nil, false))
	assert.False(t, p.PreambleRequired(nil, true))
}

func TestPreambleDelaysWithinBounds(t *testing.T) {
	p := &PerceivedPerformancePolicy{}
	for i := 0; i < 50; i++ {
		d := p.PreambleInitialDelay()
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.Less(t, d, 2000*time.Millisecond)

		d = p.PostPreambleDelay()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 1500*time.Millisecond)
	}
}
