// SPDX-License-Identifier: MIT
// Package stability classifies the temporal stability of a token stream
// with a hysteresis counter so that the reported state does not flicker
// between frames.
package stability

import (
	"fmt"
	"strings"
)

// State is the stability classification of a single frame.
type State uint8

const (
	Inactive State = iota
	Evolving
	Stable
	Stochastic
	Artifact
)

var stateNames = [...]string{
	Inactive:   "INACTIVE",
	Evolving:   "EVOLVING",
	Stable:     "STABLE",
	Stochastic: "STOCHASTIC",
	Artifact:   "ARTIFACT",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ParseState converts a state name (case-insensitive) back to a State.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if strings.EqualFold(n, name) {
			return State(i), nil
		}
	}
	return Inactive, fmt.Errorf("unknown stability state %q", name)
}

// MarshalText encodes the state by name so JSON frames read "STABLE"
// rather than 2.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Default thresholds.
const (
	DefaultStabilityThreshold  = 8
	DefaultLiquidDeltaMax      = 2
	DefaultChaoticDeltaMin     = 3
	DefaultSkepticismThreshold = 1.5
)

// Params holds the classifier thresholds.
type Params struct {
	// StabilityThreshold is the number of consecutive low-delta frames that
	// must be exceeded before a stream is reported STABLE.
	StabilityThreshold int
	// LiquidDeltaMax is the exclusive upper bound of a "still" delta.
	LiquidDeltaMax int
	// ChaoticDeltaMin is the exclusive lower bound of a chaotic delta.
	ChaoticDeltaMin int
	// SkepticismThreshold is the z-score below which low-delta frames are
	// treated as noise that only mimics structure.
	SkepticismThreshold float64
}

// DefaultParams returns the default thresholds.
func DefaultParams() Params {
	return Params{
		StabilityThreshold:  DefaultStabilityThreshold,
		LiquidDeltaMax:      DefaultLiquidDeltaMax,
		ChaoticDeltaMin:     DefaultChaoticDeltaMin,
		SkepticismThreshold: DefaultSkepticismThreshold,
	}
}

// Classifier is the hysteresis state machine. It is not safe for concurrent
// use; callers serialise ProcessFrame.
type Classifier struct {
	params  Params
	state   State
	counter int
}

// NewClassifier returns a classifier in the INACTIVE state.
func NewClassifier(params Params) *Classifier {
	return &Classifier{params: params}
}

// ProcessFrame evaluates one frame and returns the new state. zScore is the
// most recent significance z-score, or nil when none has been computed.
func (c *Classifier) ProcessFrame(freq float64, delta int, zScore *float64) State {
	p := c.params

	switch {
	case freq == 0:
		c.state = Inactive
		c.counter = 0

	case zScore != nil && *zScore < p.SkepticismThreshold && delta < p.LiquidDeltaMax:
		// Small movement with weak statistical support. Counter untouched.
		c.state = Artifact

	case delta < p.LiquidDeltaMax:
		c.counter++
		if c.counter > p.StabilityThreshold {
			c.state = Stable
		} else {
			c.state = Evolving
		}

	case delta > p.ChaoticDeltaMin:
		c.state = Stochastic
		c.counter = 0

	default:
		c.state = Evolving
		c.counter = max(0, c.counter-1)
	}

	return c.state
}

// State returns the current state.
func (c *Classifier) State() State { return c.state }

// Counter returns the current hysteresis counter.
func (c *Classifier) Counter() int { return c.counter }

// Reset returns the classifier to INACTIVE with a zero counter.
func (c *Classifier) Reset() {
	c.state = Inactive
	c.counter = 0
}
