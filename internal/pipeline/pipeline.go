// SPDX-License-Identifier: MIT
/*
Package pipeline assembles analysis frames from a stream of dominant
frequencies.

Each call to Process maps the frequency to a topology token, measures the
change against the previous token, assigns the token to an archetype and
classifies the stream's stability. The resulting Frame is appended to a
bounded history and pushed to subscribers. The history feeds the on-demand
significance test, whose latest z-score in turn informs the classifier.

Thread Safety:
- Process, Reset and every reader share one mutex
- Validate tests a snapshot outside that mutex and only takes it to store
  the result
- Subscribers that fall behind lose frames, Process never blocks on them
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"rosettas/internal/log"
	"rosettas/internal/quantizer"
	"rosettas/internal/significance"
	"rosettas/internal/stability"
	"rosettas/internal/topology"
)

// DefaultMaxHistory is the default history capacity in frames.
const DefaultMaxHistory = 500

// ErrInvalidFrequency is returned by Process for negative or non-finite
// input.
var ErrInvalidFrequency = errors.New("invalid frequency")

// Frame is the per-tick analysis result.
type Frame struct {
	Seq                 uint64          `json:"seq"`
	Timestamp           time.Time       `json:"timestamp"`
	Frequency           float64         `json:"frequency"`
	Token               topology.Token  `json:"token"`
	ClusterID           string          `json:"clusterId"`
	Delta               int             `json:"delta"`
	State               stability.State `json:"state"`
	StructuralIntegrity float64         `json:"structuralIntegrity"`
}

// Params bundles the parameters of every stage.
type Params struct {
	BaselineHz      float64
	QuantizerLambda float64
	MaxHistory      int
	Stability       stability.Params
	Significance    significance.Params
}

// DefaultParams returns the default parameters of every stage.
func DefaultParams() Params {
	return Params{
		BaselineHz:      topology.DefaultBaselineHz,
		QuantizerLambda: quantizer.DefaultLambda,
		MaxHistory:      DefaultMaxHistory,
		Stability:       stability.DefaultParams(),
		Significance:    significance.DefaultParams(),
	}
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithRand sets the permutation source of the significance test.
func WithRand(rng *rand.Rand) Option {
	return func(p *Pipeline) { p.rng = rng }
}

// WithClock replaces time.Now for frame timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

type Pipeline struct {
	params Params
	logger *log.Logger
	now    func() time.Time
	rng    *rand.Rand

	mu         sync.Mutex
	mapper     *topology.Mapper
	quantizer  *quantizer.Quantizer
	classifier *stability.Classifier
	history    *history
	seq        uint64
	session    uint64
	lastToken  topology.Token
	hasLast    bool
	validation *significance.Metrics

	subscribers map[int]chan Frame
	nextSubID   int

	// validateMu serialises Validate; the tester is single-threaded.
	validateMu sync.Mutex
	tester     *significance.Tester
}

// New returns a Pipeline ready for its first frame.
func New(params Params, opts ...Option) *Pipeline {
	if params.MaxHistory < 1 {
		params.MaxHistory = DefaultMaxHistory
	}

	p := &Pipeline{
		params:      params,
		logger:      log.New("pipeline"),
		now:         time.Now,
		subscribers: make(map[int]chan Frame),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.mapper = topology.NewMapper(params.BaselineHz)
	p.quantizer = quantizer.New(params.QuantizerLambda)
	p.classifier = stability.NewClassifier(params.Stability)
	p.history = newHistory(params.MaxHistory)
	p.tester = significance.NewTester(params.Significance, p.rng)

	return p
}

// Params returns the parameters the pipeline was built with.
func (p *Pipeline) Params() Params { return p.params }

// Process analyses one frame. Invalid input returns ErrInvalidFrequency and
// leaves all state untouched.
func (p *Pipeline) Process(freq float64) (Frame, error) {
	if !topology.ValidFrequency(freq) {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrequency, freq)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	token := p.mapper.Map(freq)

	delta := 0
	if p.hasLast {
		delta = topology.Delta(p.lastToken, token)
	}

	known := p.quantizer.ActiveClusterCount()
	clusterID := p.quantizer.Quantize(token, freq)
	if p.quantizer.ActiveClusterCount() > known {
		p.logger.Infof("New archetype discovered: %s", clusterID)
	}

	var z *float64
	if p.validation != nil {
		zs := p.validation.ZScore
		z = &zs
	}
	state := p.classifier.ProcessFrame(freq, delta, z)

	integrity := 0.0
	if freq != 0 {
		integrity = max(0, 1-float64(delta)/10)
	}

	p.seq++
	frame := Frame{
		Seq:                 p.seq,
		Timestamp:           p.now(),
		Frequency:           freq,
		Token:               token,
		ClusterID:           clusterID,
		Delta:               delta,
		State:               state,
		StructuralIntegrity: integrity,
	}

	p.history.push(frame)
	p.lastToken = token
	p.hasLast = true

	for _, ch := range p.subscribers {
		select {
		case ch <- frame:
		default:
		}
	}

	return frame, nil
}

// Latest returns the most recent frame.
func (p *Pipeline) Latest() (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.last()
}

// History returns a copy of the history, oldest first.
func (p *Pipeline) History() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Frame, 0, p.history.len())
	p.history.each(func(f Frame) { out = append(out, f) })
	return out
}

// Len returns the number of frames in the history.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.len()
}

// Tokens returns the history as the symbol sequence fed to the significance
// test: archetype ids, or token labels where no id exists.
func (p *Pipeline) Tokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokensLocked()
}

func (p *Pipeline) tokensLocked() []string {
	out := make([]string, 0, p.history.len())
	p.history.each(func(f Frame) {
		if f.ClusterID != "" {
			out = append(out, f.ClusterID)
		} else {
			out = append(out, f.Token.Label)
		}
	})
	return out
}

// Validate runs the significance test on a snapshot of the history. The
// result is stored for later frames unless ctx is done by the time the test
// finishes or the session was reset meanwhile. A short history yields
// ok == false and a nil error.
func (p *Pipeline) Validate(ctx context.Context) (m significance.Metrics, ok bool, err error) {
	p.validateMu.Lock()
	defer p.validateMu.Unlock()

	if err := ctx.Err(); err != nil {
		return significance.Metrics{}, false, err
	}

	p.mu.Lock()
	tokens := p.tokensLocked()
	session := p.session
	p.mu.Unlock()

	m, ok = p.tester.Test(tokens)
	if !ok {
		p.logger.Debugf("validation skipped: %d tokens, need %d", len(tokens), p.tester.Params().MinTokens)
		return significance.Metrics{}, false, nil
	}

	if err := ctx.Err(); err != nil {
		return significance.Metrics{}, false, err
	}

	p.mu.Lock()
	if p.session == session {
		p.validation = &m
	}
	p.mu.Unlock()

	switch {
	case !m.IsReliable:
		p.logger.Warnf("Validation failed: signal indistinguishable from noise (Z=%.2fσ, H=%.2f bits)", m.ZScore, m.Entropy)
	case m.ZScore > 3:
		p.logger.Infof("Significant structure verified: Z=%.2fσ", m.ZScore)
	default:
		p.logger.Debugf("validation %s: Z=%.2fσ", m.Verdict, m.ZScore)
	}

	return m, true, nil
}

// LastValidation returns the most recent stored validation result.
func (p *Pipeline) LastValidation() (significance.Metrics, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.validation == nil {
		return significance.Metrics{}, false
	}
	return *p.validation, true
}

// Subscribe returns a channel receiving every new frame and a function that
// cancels the subscription and closes the channel. Frames are dropped when
// the channel buffer is full.
func (p *Pipeline) Subscribe(buffer int) (<-chan Frame, func()) {
	ch := make(chan Frame, max(buffer, 1))

	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, id)
			close(ch)
			p.mu.Unlock()
		})
	}
}

// Reset starts a new session. Subscriptions survive.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.quantizer.Reset()
	p.classifier.Reset()
	p.history.reset()
	p.seq = 0
	p.session++
	p.lastToken = topology.Token{}
	p.hasLast = false
	p.validation = nil

	p.logger.Infof("session reset")
}

// ClusterCount returns the number of discovered archetypes.
func (p *Pipeline) ClusterCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quantizer.ActiveClusterCount()
}

// Clusters returns a snapshot of the archetype model.
func (p *Pipeline) Clusters() []quantizer.Cluster {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quantizer.Clusters()
}

// Counter returns the classifier's hysteresis counter.
func (p *Pipeline) Counter() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.classifier.Counter()
}

// ValidateEvery runs Validate on every tick of interval until ctx is done.
// Failed runs are logged and do not stop the loop.
func (p *Pipeline) ValidateEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := p.Validate(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warnf("periodic validation failed: %v", err)
			}
		}
	}
}
