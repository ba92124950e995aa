//go:generate go run go.uber.org/mock/mockgen -source=resolver.go -destination=../mocks/mock_auth.go -package=mocks
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/chatapp/ws-server/internal/model"
	"github.com/chatapp/ws-server/pkg/logger"
	"github.com/chatapp/ws-server/pkg/metrics"
)

// DefaultLookupTimeout bounds a single session cache lookup.
const DefaultLookupTimeout = 2 * time.Second

// SessionCache is the external key-value cache holding session records.
type SessionCache interface {
	// Get returns the serialized session record for handle, or ErrCacheMiss.
	Get(ctx context.Context, handle string) ([]byte, error)
}

// TokenVerifier verifies a signed identity token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	LookupTimeout time.Duration
}

// Resolver maps an opaque session handle to a verified identity.
type Resolver struct {
	cache    SessionCache
	verifier TokenVerifier
	timeout  time.Duration
	logger   *logger.Logger
}

// NewResolver creates a session resolver.
func NewResolver(cache SessionCache, verifier TokenVerifier, cfg ResolverConfig, log *logger.Logger) *Resolver {
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Resolver{
		cache:    cache,
		verifier: verifier,
		timeout:  timeout,
		logger:   log,
	}
}

// Resolve performs one cache lookup and one token verification. It does not retry.
func (r *Resolver) Resolve(ctx context.Context, handle string) (Identity, error) {
	ctx, span := otel.Tracer("auth").Start(ctx, "session.resolve")
	defer span.End()

	start := time.Now()
	id, err := r.resolve(ctx, handle)
	metrics.SessionLookupDuration.WithLabelValues(Reason(err)).Observe(time.Since(start).Seconds())

	if err != nil {
		span.SetStatus(codes.Error, Reason(err))
		r.logger.Debug("session resolution failed",
			zap.String("reason", Reason(err)),
			zap.Error(err),
		)
		return Identity{}, err
	}

	span.SetAttributes(attribute.String("username", id.Username))
	return id, nil
}

func (r *Resolver) resolve(ctx context.Context, handle string) (Identity, error) {
	if handle == "" {
		return Identity{}, ErrSessionNotFound
	}

	record, err := r.lookup(ctx, handle)
	if err != nil {
		return Identity{}, err
	}

	if record.AccessToken == "" {
		return Identity{}, fmt.Errorf("%w: session record has no access token", ErrTokenInvalid)
	}

	id, err := r.verifier.Verify(ctx, record.AccessToken)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	return id, nil
}

func (r *Resolver) lookup(ctx context.Context, handle string) (model.SessionRecord, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	value, err := r.cache.Get(lookupCtx, handle)
	if errors.Is(err, ErrCacheMiss) {
		return model.SessionRecord{}, ErrSessionNotFound
	}
	if err != nil {
		return model.SessionRecord{}, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}

	var record model.SessionRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return model.SessionRecord{}, fmt.Errorf("%w: undecodable session record: %v", ErrTokenInvalid, err)
	}

	return record, nil
}
