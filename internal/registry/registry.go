package registry

import (
	"context"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

type (
	// Registry is the tenant's live set of watched contract addresses. The
	// scan loop reads it on every transaction while the watch-update
	// subscriber mutates it; the xsync map guarantees readers never observe
	// a partially applied mutation.
	Registry interface {
		Add(ctx context.Context, address string) error
		Remove(ctx context.Context, address string) error
		Exists(ctx context.Context, address string) (bool, error)
		Size(ctx context.Context) (int64, error)
	}

	watchSet struct {
		xmap *xsync.MapOf[string, struct{}]
	}
)

func New() Registry {
	return &watchSet{
		xmap: xsync.NewMapOf[string, struct{}](),
	}
}

// NormalizeAddress lower-cases a hex address. All registry operations and
// all lookups against the registry go through this first, so mixed-case
// inputs from the API, the watch stream and the chain always compare equal.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func (w *watchSet) Add(_ context.Context, address string) error {
	normalized := NormalizeAddress(address)
	if normalized == "" {
		return nil
	}
	w.xmap.Store(normalized, struct{}{})
	return nil
}

func (w *watchSet) Remove(_ context.Context, address string) error {
	w.xmap.Delete(NormalizeAddress(address))
	return nil
}

func (w *watchSet) Exists(_ context.Context, address string) (bool, error) {
	_, ok := w.xmap.Load(NormalizeAddress(address))
	return ok, nil
}

func (w *watchSet) Size(_ context.Context) (int64, error) {
	return int64(w.xmap.Size()), nil
}
