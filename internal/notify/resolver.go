package notify

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/signalsfoundry/safespaces/internal/logging"
	"github.com/signalsfoundry/safespaces/model"
)

// RefResolver addresses guardians by their reference (phone, else name).
// It suits backends where the guardian key is the address, such as NATS
// subjects, webhooks and the log backend.
type RefResolver struct{}

// Resolve implements EndpointResolver.
func (RefResolver) Resolve(_ context.Context, g model.Guardian) (string, error) {
	if g.Endpoint != "" {
		return g.Endpoint, nil
	}
	if ref := g.Ref(); ref != "" {
		return ref, nil
	}
	return "", ErrEndpointNotFound
}

// StaticResolver looks endpoints up in a fixed ref-to-endpoint table.
type StaticResolver map[string]string

// Resolve implements EndpointResolver.
func (r StaticResolver) Resolve(_ context.Context, g model.Guardian) (string, error) {
	if g.Endpoint != "" {
		return g.Endpoint, nil
	}
	if ep, ok := r[g.Ref()]; ok && ep != "" {
		return ep, nil
	}
	return "", fmt.Errorf("guardian %q: %w", g.Ref(), ErrEndpointNotFound)
}

// EndpointWriter persists resolved endpoints.
type EndpointWriter interface {
	SetGuardianEndpoint(ctx context.Context, ref, endpoint string) error
}

// CachingResolver memoizes another resolver in a bounded LRU keyed by
// guardian reference and optionally writes resolved endpoints back to the
// zone store. Failed lookups are not cached.
type CachingResolver struct {
	next   EndpointResolver
	cache  *lru.Cache[string, string]
	writer EndpointWriter
	log    logging.Logger
}

// NewCachingResolver wraps next with an LRU of the given size. writer may be
// nil.
func NewCachingResolver(next EndpointResolver, size int, writer EndpointWriter, log logging.Logger) (*CachingResolver, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("endpoint cache: %w", err)
	}
	if log == nil {
		log = logging.Noop()
	}
	return &CachingResolver{next: next, cache: cache, writer: writer, log: log}, nil
}

// Resolve implements EndpointResolver.
func (r *CachingResolver) Resolve(ctx context.Context, g model.Guardian) (string, error) {
	if g.Endpoint != "" {
		return g.Endpoint, nil
	}
	ref := g.Ref()
	if ep, ok := r.cache.Get(ref); ok {
		return ep, nil
	}

	ep, err := r.next.Resolve(ctx, g)
	if err != nil {
		return "", err
	}
	r.cache.Add(ref, ep)

	if r.writer != nil {
		if err := r.writer.SetGuardianEndpoint(ctx, ref, ep); err != nil {
			r.log.Warn(ctx, "failed to persist guardian endpoint",
				logging.String("guardian_ref", ref), logging.Err(err))
		}
	}
	return ep, nil
}

// Forget drops the cached endpoint for ref.
func (r *CachingResolver) Forget(ref string) {
	r.cache.Remove(ref)
}
