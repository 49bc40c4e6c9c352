package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

type (
	BootstrapOpts struct {
		APIBase  string
		TenantID string
		Logg     *slog.Logger
	}

	watchListResponse struct {
		Items []struct {
			Contract string `json:"contract"`
		} `json:"items"`
	}
)

const bootstrapTimeout = 10 * time.Second

// Bootstrap seeds the registry with the tenant's current watch list from the
// owning API. A failure here is logged and swallowed: the subscriber keeps
// the registry current from that point on, so starting with zero watches is
// preferable to not starting at all.
func Bootstrap(ctx context.Context, r Registry, o BootstrapOpts) {
	ctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	loaded, err := fetchWatchList(ctx, r, o)
	if err != nil {
		o.Logg.Warn("watch list bootstrap failed, starting with empty registry", "error", err)
		return
	}

	o.Logg.Info("bootstrapped watch registry", "watches", loaded)
}

func fetchWatchList(ctx context.Context, r Registry, o BootstrapOpts) (int, error) {
	endpoint := fmt.Sprintf(
		"%s/internal/onchain/watches?tenantId=%s",
		o.APIBase,
		url.QueryEscape(o.TenantID),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("watch list fetch returned status %d", resp.StatusCode)
	}

	var out watchListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}

	for _, item := range out.Items {
		if err := r.Add(ctx, item.Contract); err != nil {
			return 0, err
		}
	}

	return len(out.Items), nil
}
