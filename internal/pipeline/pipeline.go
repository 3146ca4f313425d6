package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ppiankov/xfil/internal/cache"
	"github.com/ppiankov/xfil/internal/extract"
	"github.com/ppiankov/xfil/internal/model"
	"github.com/ppiankov/xfil/internal/oracle"
	"github.com/ppiankov/xfil/internal/search"
	"github.com/ppiankov/xfil/internal/transport"
	"github.com/ppiankov/xfil/internal/xpath"
	"go.uber.org/zap"
)

// Pipeline orchestrates one extraction run against a single target
type Pipeline struct {
	adapter   *oracle.Adapter
	extractor *extract.Extractor
	config    *model.Config
	logger    *zap.Logger
}

// Option customises a Pipeline
type Option func(*options)

type options struct {
	transport oracle.Transport
	cache     cache.Cache
	throttle  *transport.Throttle
	logger    *zap.Logger
}

// WithTransport replaces the HTTP client, e.g. with a local simulator
func WithTransport(t oracle.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithCache uses c as the verdict cache instead of building one from config
func WithCache(c cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithThrottle paces the HTTP client with a throttle shared across runs
func WithThrottle(t *transport.Throttle) Option {
	return func(o *options) { o.throttle = t }
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewPipeline creates a new pipeline with the given configuration
func NewPipeline(cfg *model.Config, opts ...Option) (*Pipeline, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	if o.transport == nil {
		topts := transport.OptionsFromConfig(cfg)
		topts.Logger = o.logger
		if o.throttle != nil {
			topts.Throttle = o.throttle
		}
		client, err := transport.NewClient(topts)
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}
		o.transport = client
	}

	if o.cache == nil && cfg.Cache.Enabled {
		o.cache = cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)
	}

	adapter := oracle.NewAdapter(o.transport, oracle.Options{
		Classifier: oracle.ClassifierFromConfig(cfg.Oracle),
		Cache:      o.cache,
		CacheScope: CacheScope(cfg),
		MaxQueries: cfg.Oracle.MaxQueries,
		Logger:     o.logger,
	})

	sopts := search.OptionsFromConfig(cfg)
	sopts.Logger = o.logger
	searcher := search.New(adapter, sopts)

	eopts := extract.OptionsFromConfig(cfg)
	eopts.Logger = o.logger

	return &Pipeline{
		adapter:   adapter,
		extractor: extract.New(searcher, eopts),
		config:    cfg,
		logger:    o.logger,
	}, nil
}

// CacheScope identifies everything a cached verdict depends on besides
// the condition itself: where it was asked and how the answer was read
func CacheScope(cfg *model.Config) string {
	return cache.CacheKey(
		cfg.Target.URL,
		cfg.Target.Method,
		cfg.Target.Param,
		cfg.Target.ContentType,
		strconv.Itoa(cfg.Oracle.SuccessCode),
		strconv.Itoa(cfg.Oracle.FailureCode),
		cfg.Oracle.SuccessText,
		cfg.Oracle.FailureText,
		strconv.FormatBool(cfg.Oracle.MatchVisibleText),
	)
}

// Run walks the remote document and builds the report. A run cut short by
// the query budget, the run timeout or cancellation still returns a report
// marked partial.
func (p *Pipeline) Run(ctx context.Context) (*model.Report, error) {
	if p.config.Extract.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Extract.Timeout)
		defer cancel()
	}

	root := xpath.ParseAddress(p.config.Extract.Root)
	started := time.Now()

	p.logger.Info("extraction started",
		zap.String("target", p.config.Target.URL),
		zap.String("param", p.config.Target.Param),
		zap.String("root", root.String()))

	data, err := p.extractor.Extract(ctx, root)
	if data == nil {
		data = model.NewObject()
	}

	report := &model.Report{
		Target:    p.config.Target.URL,
		Param:     p.config.Target.Param,
		Root:      root.String(),
		StartedAt: started.UTC(),
		Duration:  time.Since(started).Round(time.Millisecond).String(),
		Stats:     p.adapter.Stats(),
		Data:      data,
	}

	if err != nil {
		if !oracle.IsAbort(err) {
			return report, fmt.Errorf("extract: %w", err)
		}
		report.Partial = true
		report.Error = err.Error()
		p.logger.Warn("extraction stopped early", zap.Error(err))
	}

	p.logger.Info("extraction finished",
		zap.Int("nodes", report.NodeCount()),
		zap.Int64("queries", report.Stats.Queries),
		zap.Bool("partial", report.Partial))

	return report, nil
}

// RunTarget builds a pipeline for cfg and runs it
func RunTarget(ctx context.Context, cfg *model.Config, opts ...Option) (*model.Report, error) {
	p, err := NewPipeline(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}
