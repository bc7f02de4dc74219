// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	"rosettas/internal/log"
	"rosettas/internal/pipeline"
)

// LoggingTransport implements the Transport interface by logging frames at
// DEBUG level. Used by headless sessions without a network transport.
type LoggingTransport struct {
	logger *log.Logger
	sent   atomic.Uint64
	closed atomic.Bool
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	lt := &LoggingTransport{logger: log.New("frames")}
	lt.logger.Infof("Using LoggingTransport")
	return lt
}

// Send logs the received data.
func (lt *LoggingTransport) Send(data any) error {
	if lt.closed.Load() {
		return ErrClosed
	}
	lt.sent.Add(1)

	if f, ok := data.(pipeline.Frame); ok {
		lt.logger.Debugf("#%d %.2f Hz %s cluster=%s Δ=%d %s integrity=%.2f",
			f.Seq, f.Frequency, f.Token.Label, f.ClusterID, f.Delta, f.State, f.StructuralIntegrity)
		return nil
	}
	lt.logger.Debugf("%T: %+v", data, data)
	return nil
}

// Sent returns the number of values logged.
func (lt *LoggingTransport) Sent() uint64 {
	return lt.sent.Load()
}

// Close marks the transport closed.
func (lt *LoggingTransport) Close() error {
	if lt.closed.Swap(true) {
		return nil
	}
	lt.logger.Debugf("Close called after %d frames", lt.sent.Load())
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
