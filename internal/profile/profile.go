// Package profile computes the monotone degradation ladder of encoding
// profiles that the controller applies to sinks as uplink quality changes.
package profile

import (
	"fmt"
	"math"
)

// Floors below which no ladder step may degrade a profile further.
const (
	MinWidth     = 320
	MinHeight    = 240
	MinBitrate   = 300
	MinFPS       = 12
	fpsStepDecay = 3
)

// EncodingProfile is the quadruple (resolution, bitrate, fps) that drives
// the encoder subprocess. Immutable once constructed.
type EncodingProfile struct {
	Width       int
	Height      int
	BitrateKbps int
	FPS         int
}

// Validate checks the positivity and floor invariants from spec §3.
func (p EncodingProfile) Validate() error {
	if p.Width < MinWidth || p.Height < MinHeight {
		return fmt.Errorf("profile: resolution %dx%d below floor %dx%d", p.Width, p.Height, MinWidth, MinHeight)
	}
	if p.BitrateKbps < MinBitrate {
		return fmt.Errorf("profile: bitrate %dk below floor %dk", p.BitrateKbps, MinBitrate)
	}
	if p.FPS < MinFPS {
		return fmt.Errorf("profile: fps %d below floor %d", p.FPS, MinFPS)
	}
	return nil
}

// Ladder is the ordered, dense sequence P[0..L] of encoding profiles, P[0]
// the base (highest quality) and P[L] the lowest. Immutable after
// construction and safe to share read-only across sources.
type Ladder struct {
	steps []EncodingProfile
}

// NewLadder builds the degradation ladder from a base profile and a
// degradation depth L (1..10), following the construction rule in spec §4.6:
//
//	width  = max(320, base.width  - step*(base.width/L))
//	height = max(240, base.height - step*(base.height/L))
//	bitrate = max(300, round(base.bitrate*(L-step)/L))
//	fps     = max(12, base.fps - 3*step)
func NewLadder(base EncodingProfile, degradationSteps int) (*Ladder, error) {
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("ladder: invalid base profile: %w", err)
	}
	if degradationSteps < 1 || degradationSteps > 10 {
		return nil, fmt.Errorf("ladder: degradation_steps %d out of range [1,10]", degradationSteps)
	}

	l := degradationSteps
	steps := make([]EncodingProfile, 0, l+1)
	for step := 0; step <= l; step++ {
		width := base.Width - step*(base.Width/l)
		if width < MinWidth {
			width = MinWidth
		}
		height := base.Height - step*(base.Height/l)
		if height < MinHeight {
			height = MinHeight
		}
		bitrate := int(math.RoundToEven(float64(base.BitrateKbps*(l-step)) / float64(l)))
		if bitrate < MinBitrate {
			bitrate = MinBitrate
		}
		fps := base.FPS - step*fpsStepDecay
		if fps < MinFPS {
			fps = MinFPS
		}
		steps = append(steps, EncodingProfile{
			Width:       width,
			Height:      height,
			BitrateKbps: bitrate,
			FPS:         fps,
		})
	}
	return &Ladder{steps: steps}, nil
}

// Len returns L+1, the number of defined profiles.
func (l *Ladder) Len() int {
	return len(l.steps)
}

// Depth returns L, the worst (highest) defined level index.
func (l *Ladder) Depth() int {
	return len(l.steps) - 1
}

// At returns the profile for the given level, clamping to [0, L].
func (l *Ladder) At(level int) EncodingProfile {
	if level < 0 {
		level = 0
	}
	if max := l.Depth(); level > max {
		level = max
	}
	return l.steps[level]
}

// Base returns P[0].
func (l *Ladder) Base() EncodingProfile {
	return l.steps[0]
}

// Worst returns P[L].
func (l *Ladder) Worst() EncodingProfile {
	return l.steps[len(l.steps)-1]
}
