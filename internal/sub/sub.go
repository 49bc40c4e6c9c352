package sub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/chainspend/gas-tracker/internal/registry"
)

type watchRequest struct {
	TenantID string `json:"tenantId"`
	Contract string `json:"contract"`
	Action   string `json:"action"`
}

const (
	actionAdd    = "add"
	actionRemove = "remove"
)

// applyWatchRequest mutates the registry for a single watch-change message.
// Messages for other tenants, malformed payloads and unknown actions are
// ignored without error so they can be acked and never redelivered.
func applyWatchRequest(ctx context.Context, r registry.Registry, tenantID string, data []byte, logg *slog.Logger) error {
	var req watchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		logg.Warn("ignoring malformed watch request", "error", err)
		return nil
	}

	if req.TenantID != tenantID {
		return nil
	}

	switch req.Action {
	case actionAdd:
		return r.Add(ctx, req.Contract)
	case actionRemove:
		return r.Remove(ctx, req.Contract)
	default:
		logg.Warn("ignoring watch request with unknown action", "action", req.Action)
		return nil
	}
}
