package pub

import (
	"context"

	"github.com/chainspend/gas-tracker/pkg/event"
)

// Pub appends one event per matched transaction to the downstream log.
// Send blocks until the broker acknowledges the write; per-contract
// ordering is preserved because the scan loop calls it synchronously.
type Pub interface {
	Send(context.Context, event.Event) error
	Close()
	Healthy() bool
}
