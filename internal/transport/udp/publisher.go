// SPDX-License-Identifier: MIT
package udp

import (
	"fmt"
	"sync"
	"time"

	"rosettas/internal/pipeline"
)

// DefaultInterval is used when the configured interval is not positive.
const DefaultInterval = 33 * time.Millisecond

// FrameSource yields the most recent frame. *pipeline.Pipeline satisfies it.
type FrameSource interface {
	Latest() (pipeline.Frame, bool)
}

// PacketSender sends one datagram. *Sender satisfies it.
type PacketSender interface {
	Send(data []byte) error
}

// Publisher periodically fetches the latest frame, packs it into the binary
// layout described in packet.go, and sends it through a PacketSender.
// It runs in a separate goroutine managed by Start and Stop methods.
type Publisher struct {
	sender   PacketSender
	source   FrameSource
	interval time.Duration

	ticker   *time.Ticker   // Ticker that triggers packet sending.
	doneChan chan struct{}  // Channel used to signal the publisher goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine to finish during Stop.
	mu       sync.Mutex     // Protects access to ticker and doneChan during Start/Stop.

	sequenceNum uint32 // Monotonically increasing sequence number for packets.
	failures    uint64
	packet      []byte // Reused between ticks.
}

// NewPublisher creates and initializes a new Publisher.
// If the provided interval is invalid (<= 0), it defaults to DefaultInterval.
func NewPublisher(interval time.Duration, sender PacketSender, source FrameSource) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp publisher: sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("udp publisher: frame source cannot be nil")
	}

	if interval <= 0 {
		interval = DefaultInterval
		logger.Warnf("Invalid interval provided, defaulting to %s", interval)
	}

	logger.Infof("Publisher initialised (interval %s)", interval)

	return &Publisher{
		sender:   sender,
		source:   source,
		interval: interval,
		packet:   make([]byte, 0, HeaderSize+64),
	}, nil
}

// Start begins the periodic publishing process.
// It launches a goroutine that ticks at the configured interval, calling
// publish on each tick until Stop is called.
// It is safe to call Start multiple times; subsequent calls are no-ops if already started.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		logger.Warnf("Publisher Start called but already running")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Captured locally to avoid racing on p.ticker/p.doneChan.
	ticker := p.ticker
	doneChan := p.doneChan

	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop gracefully signals the publisher goroutine to terminate and waits for it to exit.
// It is safe to call Stop multiple times; subsequent calls are no-ops.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})

	p.mu.Unlock()

	p.wg.Wait()
	logger.Debugf("Publisher stopped after %d packets", p.sequenceNum)
	return nil
}

// publish sends the latest frame, if any. Only the publisher goroutine
// calls it.
func (p *Publisher) publish() {
	frame, ok := p.source.Latest()
	if !ok {
		return
	}

	p.sequenceNum++
	p.packet = EncodeFrame(p.packet[:0], p.sequenceNum, frame)

	if err := p.sender.Send(p.packet); err != nil {
		p.failures++
		if p.failures == 1 || p.failures%100 == 0 {
			logger.Warnf("Error sending packet %d (%d failures): %v", p.sequenceNum, p.failures, err)
		}
	}
}

// Close implements the io.Closer interface. It gracefully stops the publisher goroutine.
func (p *Publisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*Publisher)(nil)
