package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLadderLength(t *testing.T) {
	base := EncodingProfile{Width: 1920, Height: 1080, BitrateKbps: 4500, FPS: 30}
	for l := 1; l <= 10; l++ {
		ladder, err := NewLadder(base, l)
		require.NoError(t, err)
		assert.Equal(t, l+1, ladder.Len())
		assert.Equal(t, l, ladder.Depth())
	}
}

func TestLadderMonotonicityAndFloors(t *testing.T) {
	base := EncodingProfile{Width: 1920, Height: 1080, BitrateKbps: 4500, FPS: 30}
	ladder, err := NewLadder(base, 6)
	require.NoError(t, err)

	for i := 0; i < ladder.Depth(); i++ {
		a, b := ladder.At(i), ladder.At(i+1)
		assert.GreaterOrEqual(t, a.Width, b.Width)
		assert.GreaterOrEqual(t, a.Height, b.Height)
		assert.GreaterOrEqual(t, a.BitrateKbps, b.BitrateKbps)
		assert.GreaterOrEqual(t, a.FPS, b.FPS)
	}
	for i := 0; i <= ladder.Depth(); i++ {
		p := ladder.At(i)
		assert.GreaterOrEqual(t, p.Width, MinWidth)
		assert.GreaterOrEqual(t, p.Height, MinHeight)
		assert.GreaterOrEqual(t, p.BitrateKbps, MinBitrate)
		assert.GreaterOrEqual(t, p.FPS, MinFPS)
	}
}

// TestLadderScenarioS1 pins the worked example from spec.md §8 scenario S1.
func TestLadderScenarioS1(t *testing.T) {
	base := EncodingProfile{Width: 1920, Height: 1080, BitrateKbps: 4500, FPS: 30}
	ladder, err := NewLadder(base, 4)
	require.NoError(t, err)

	require.Equal(t, base, ladder.At(0))

	worst := ladder.At(4)
	assert.Equal(t, EncodingProfile{Width: 320, Height: 240, BitrateKbps: 300, FPS: 18}, worst)
}

func TestLadderRejectsBadDepth(t *testing.T) {
	base := EncodingProfile{Width: 1920, Height: 1080, BitrateKbps: 4500, FPS: 30}

	_, err := NewLadder(base, 0)
	assert.Error(t, err)

	_, err = NewLadder(base, 11)
	assert.Error(t, err)
}

func TestLadderRejectsInvalidBase(t *testing.T) {
	_, err := NewLadder(EncodingProfile{Width: 100, Height: 100, BitrateKbps: 4500, FPS: 30}, 4)
	assert.Error(t, err)
}

func TestLadderClampsOutOfRangeLevel(t *testing.T) {
	base := EncodingProfile{Width: 1920, Height: 1080, BitrateKbps: 4500, FPS: 30}
	ladder, err := NewLadder(base, 3)
	require.NoError(t, err)

	assert.Equal(t, ladder.At(0), ladder.At(-5))
	assert.Equal(t, ladder.Worst(), ladder.At(100))
}
