package compose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSplitChunks(t *testing.T) {
	chunks := SplitChunks("Hello there!\n\nWhat city are you in?")
	assert.Equal(t, []string{"Hello there!", "What city are you in?"}, chunks)

	assert.Equal(t, []string{"single"}, SplitChunks("single"))
	assert.Empty(t, SplitChunks(""))
	assert.Empty(t, SplitChunks("\n\n\n\n"))
	assert.Equal(t, []string{"a", "b"}, SplitChunks("a\n\n   \n\nb"))
}

func TestPacedDelay(t *testing.T) {
	// Short chunks hit the half-second floor.
	assert.Equal(t, 500*time.Millisecond, PacedDelay(5))
	assert.Equal(t, 500*time.Millisecond, PacedDelay(0))
	// 100 words at 50 words per second of pause budget -> 2s.
	assert.Equal(t, 2*time.Second, PacedDelay(100))
}

func TestTypingDelay(t *testing.T) {
	// Up to 10 words: 1s base plus reading component.
	assert.Equal(t, 1200*time.Millisecond, TypingDelay(10))
	// Longer chunks: 2s base.
	assert.Equal(t, 2400*time.Millisecond, TypingDelay(20))
}
