// SPDX-License-Identifier: MIT
// Package transport moves pipeline frames to outside consumers.
package transport

import (
	"context"
	"errors"

	"rosettas/internal/log"
	"rosettas/internal/pipeline"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// Forward sends every frame received on frames to t until frames is closed
// or ctx is done. Send errors are logged and counted; they never stop the
// pump. The number of failed sends is returned together with ctx.Err() if
// the context ended the loop.
func Forward(ctx context.Context, frames <-chan pipeline.Frame, t Transport) (failed int, err error) {
	for {
		select {
		case <-ctx.Done():
			return failed, ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return failed, nil
			}
			if err := t.Send(frame); err != nil {
				failed++
				if errors.Is(err, ErrClosed) {
					return failed, err
				}
				if failed == 1 || failed%100 == 0 {
					log.Warnf("transport: send failed (%d so far): %v", failed, err)
				}
			}
		}
	}
}
