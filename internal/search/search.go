// Package search measures unknown integers and strings of the remote
// document one yes/no question at a time.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ppiankov/xfil/internal/model"
	"github.com/ppiankov/xfil/internal/oracle"
	"github.com/ppiankov/xfil/internal/xpath"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotFound means no value in the searched range was confirmed
	ErrNotFound = errors.New("value not found within bound")

	// ErrAlphabetMiss means no alphabet character matched a string position
	ErrAlphabetMiss = errors.New("no alphabet character matched")
)

// Strategy selects how FindCount walks the range
type Strategy string

const (
	StrategyLinear Strategy = "linear"
	StrategyBinary Strategy = "binary"
)

// Options configures a Searcher
type Options struct {
	Bound        int
	Alphabet     Alphabet
	Strategy     Strategy
	ProbeWorkers int
	Logger       *zap.Logger
}

// OptionsFromConfig maps the search and concurrency configuration
func OptionsFromConfig(cfg *model.Config) Options {
	return Options{
		Bound:        cfg.Search.Bound,
		Alphabet:     NewAlphabet(cfg.Search.Alphabet),
		Strategy:     Strategy(cfg.Search.Strategy),
		ProbeWorkers: cfg.Concurrency.ProbeWorkers,
	}
}

// Searcher runs count and string searches through an oracle.
// It holds no per-search state and is safe for concurrent use.
type Searcher struct {
	oracle       oracle.Oracle
	bound        int
	alphabet     Alphabet
	strategy     Strategy
	probeWorkers int
	logger       *zap.Logger
}

// New creates a Searcher. Zero options fall back to the defaults.
func New(o oracle.Oracle, opts Options) *Searcher {
	if opts.Bound <= 0 {
		opts.Bound = model.DefaultBound
	}
	if opts.Alphabet.Len() == 0 {
		opts.Alphabet = NewAlphabet(model.DefaultAlphabet)
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyLinear
	}
	if opts.ProbeWorkers < 1 {
		opts.ProbeWorkers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Searcher{
		oracle:       o,
		bound:        opts.Bound,
		alphabet:     opts.Alphabet,
		strategy:     opts.Strategy,
		probeWorkers: opts.ProbeWorkers,
		logger:       opts.Logger,
	}
}

// FindCount finds the integer value of expr in [min, Bound].
// Returns ErrNotFound when no value in range is confirmed.
func (s *Searcher) FindCount(ctx context.Context, expr string, min int) (int, error) {
	var (
		n   int
		err error
	)
	if s.strategy == StrategyBinary {
		n, err = s.findCountBinary(ctx, expr, min)
	} else {
		n, err = s.findCountLinear(ctx, expr, min)
	}
	if err != nil {
		return 0, err
	}

	s.logger.Debug("count found", zap.String("expr", expr), zap.Int("value", n))
	return n, nil
}

func (s *Searcher) findCountLinear(ctx context.Context, expr string, min int) (int, error) {
	for i := min; i <= s.bound; i++ {
		ok, err := s.Holds(ctx, xpath.Eq(expr, i))
		if err != nil {
			return 0, err
		}
		if ok {
			return i, nil
		}
	}
	return 0, ErrNotFound
}

// findCountBinary bisects on expr<=mid. It spends one query ruling out
// values above the bound and one confirming the final candidate.
func (s *Searcher) findCountBinary(ctx context.Context, expr string, min int) (int, error) {
	if min > s.bound {
		return 0, ErrNotFound
	}

	ok, err := s.Holds(ctx, xpath.LessOrEqual(expr, s.bound))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}

	lo, hi := min, s.bound
	for lo < hi {
		mid := lo + (hi-lo)/2
		ok, err := s.Holds(ctx, xpath.LessOrEqual(expr, mid))
		if err != nil {
			return 0, err
		}
		if ok {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	ok, err = s.Holds(ctx, xpath.Eq(expr, lo))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	return lo, nil
}

// FindString reads length characters of expr. A position no alphabet
// character matches aborts the whole string with ErrAlphabetMiss.
func (s *Searcher) FindString(ctx context.Context, expr string, length int) (string, error) {
	var b strings.Builder
	for pos := 1; pos <= length; pos++ {
		var (
			r   rune
			err error
		)
		if s.probeWorkers > 1 {
			r, err = s.findCharParallel(ctx, expr, pos)
		} else {
			r, err = s.findChar(ctx, expr, pos)
		}
		if err != nil {
			return "", err
		}

		s.logger.Debug("character found",
			zap.String("expr", expr),
			zap.Int("position", pos),
			zap.String("char", string(r)))
		b.WriteRune(r)
	}
	return b.String(), nil
}

// FindLength finds string-length(expr), which must be at least 1
func (s *Searcher) FindLength(ctx context.Context, expr string) (int, error) {
	return s.FindCount(ctx, xpath.StringLength(expr), 1)
}

// FindValue finds the length of expr and then its characters
func (s *Searcher) FindValue(ctx context.Context, expr string) (string, error) {
	n, err := s.FindLength(ctx, expr)
	if err != nil {
		return "", err
	}
	return s.FindString(ctx, expr, n)
}

func (s *Searcher) findChar(ctx context.Context, expr string, pos int) (rune, error) {
	for _, r := range s.alphabet.runes {
		ok, err := s.Holds(ctx, charCondition(expr, pos, r))
		if err != nil {
			return 0, err
		}
		if ok {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w at position %d of %s", ErrAlphabetMiss, pos, expr)
}

// findCharParallel tests the alphabet with bounded parallelism. Tests
// above the lowest matching index are skipped, and those already in flight
// are cancelled, so the chosen character is the same one the sequential
// scan would pick.
func (s *Searcher) findCharParallel(ctx context.Context, expr string, pos int) (rune, error) {
	runes := s.alphabet.runes
	var best atomic.Int64
	best.Store(int64(len(runes)))

	var mu sync.Mutex
	inflight := make(map[int]context.CancelFunc)

	lower := func(i int) {
		for {
			cur := best.Load()
			if int64(i) >= cur || best.CompareAndSwap(cur, int64(i)) {
				break
			}
		}
		mu.Lock()
		for j, cancel := range inflight {
			if j > i {
				cancel()
			}
		}
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.probeWorkers)

	for i, r := range runes {
		if best.Load() < int64(i) {
			break
		}
		g.Go(func() error {
			tctx, cancel := context.WithCancel(gctx)
			defer cancel()

			mu.Lock()
			inflight[i] = cancel
			mu.Unlock()
			defer func() {
				mu.Lock()
				delete(inflight, i)
				mu.Unlock()
			}()

			// checked after registering so a concurrent lower cannot miss us
			if best.Load() < int64(i) {
				return nil
			}
			ok, err := s.Holds(tctx, charCondition(expr, pos, r))
			if err != nil {
				if tctx.Err() != nil && gctx.Err() == nil {
					return nil
				}
				return err
			}
			if ok {
				lower(i)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	idx := best.Load()
	if idx >= int64(len(runes)) {
		return 0, fmt.Errorf("%w at position %d of %s", ErrAlphabetMiss, pos, expr)
	}
	return runes[idx], nil
}

// Holds asks cond once. Unknown counts as false; only abort errors are
// returned.
func (s *Searcher) Holds(ctx context.Context, cond xpath.Condition) (bool, error) {
	v, err := s.oracle.Ask(ctx, cond)
	if err != nil && oracle.IsAbort(err) {
		return false, err
	}
	return v.Holds(), nil
}

func charCondition(expr string, pos int, r rune) xpath.Condition {
	return xpath.EqString(xpath.Substring(expr, pos), string(r))
}
