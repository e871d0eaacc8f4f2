package serialmux

import (
	"context"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/monitoring"
)

// LineHandler consumes one uplink line.
type LineHandler func(ctx context.Context, line string) error

// HandleLine classifies a console line and passes uplinks to handle.
// Comments are dropped and unknown lines are logged.
func HandleLine(ctx context.Context, line string, handle LineHandler) error {
	switch ClassifyLine(line) {
	case LineUplink:
		return handle(ctx, line)
	case LineComment:
		return nil
	default:
		monitoring.Logf("serial: ignoring console line %q", line)
		return nil
	}
}

// Forward subscribes to mux and runs HandleLine on every line until ctx is
// done or the mux closes the subscription. Handler errors are logged and do
// not stop forwarding.
func Forward(ctx context.Context, mux SerialMuxInterface, handle LineHandler) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := HandleLine(ctx, line, handle); err != nil {
				monitoring.Logf("serial: failed to handle line %q: %v", line, err)
			}
		}
	}
}
