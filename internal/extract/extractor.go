// Package extract rebuilds the remote document tree from count, name and
// text measurements taken through the search primitives.
package extract

import (
	"context"
	"errors"

	"github.com/ppiankov/xfil/internal/model"
	"github.com/ppiankov/xfil/internal/oracle"
	"github.com/ppiankov/xfil/internal/search"
	"github.com/ppiankov/xfil/internal/worker"
	"github.com/ppiankov/xfil/internal/xpath"
	"go.uber.org/zap"
)

// ErrDepthExceeded marks a subtree dropped because it lies below MaxDepth
var ErrDepthExceeded = errors.New("maximum depth exceeded")

// Options configures an Extractor
type Options struct {
	MaxDepth       int // Levels below the start address, 0 = unlimited
	SiblingWorkers int
	Logger         *zap.Logger
}

// OptionsFromConfig maps the extract and concurrency configuration
func OptionsFromConfig(cfg *model.Config) Options {
	return Options{
		MaxDepth:       cfg.Extract.MaxDepth,
		SiblingWorkers: cfg.Concurrency.SiblingWorkers,
	}
}

// Extractor walks the remote tree. It keeps no state between calls; the
// sibling pool is shared by every walk, so SiblingWorkers bounds the nodes
// measured at once across the whole tree.
type Extractor struct {
	search   *search.Searcher
	maxDepth int
	siblings *worker.Pool
	logger   *zap.Logger
}

// New creates an Extractor on top of s
func New(s *search.Searcher, opts Options) *Extractor {
	if opts.SiblingWorkers < 1 {
		opts.SiblingWorkers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Extractor{
		search:   s,
		maxDepth: opts.MaxDepth,
		siblings: worker.NewPool(opts.SiblingWorkers),
		logger:   opts.Logger,
	}
}

// Extract reconstructs every node of the set at root together with its
// descendants. Nodes whose name or value cannot be determined are left out.
//
// A budget or cancellation error stops the walk; the object assembled so
// far is returned along with the error.
func (e *Extractor) Extract(ctx context.Context, root xpath.Address) (*model.Object, error) {
	return e.extractSet(ctx, root, 1)
}

// extractSet reconstructs the node set at addr, which sits depth levels
// below the start address
func (e *Extractor) extractSet(ctx context.Context, addr xpath.Address, depth int) (*model.Object, error) {
	obj := model.NewObject()

	n, err := e.search.FindCount(ctx, xpath.Count(addr), 1)
	if err != nil {
		if oracle.IsAbort(err) {
			return obj, err
		}
		return obj, nil
	}

	if e.siblings.Workers() > 1 && n > 1 {
		return e.extractParallel(ctx, addr, n, depth)
	}

	for i := 1; i <= n; i++ {
		f := e.extractNode(ctx, addr.Index(i), depth)
		if f.ok {
			obj.Add(f.name, f.value)
		}
		if f.err != nil {
			return obj, f.err
		}
	}
	return obj, nil
}

// fragment is what one sibling contributes to its parent
type fragment struct {
	index int
	name  string
	value model.Value
	ok    bool
	err   error
}

func (f *fragment) GetError() error {
	return f.err
}

// extractNode measures one node. ok is false when the node is skipped.
func (e *Extractor) extractNode(ctx context.Context, node xpath.Address, depth int) fragment {
	nameExpr := xpath.Name(node)

	name, err := e.search.FindValue(ctx, nameExpr)
	if err != nil {
		return e.skip(node, "name", err)
	}

	childCount, err := e.search.FindCount(ctx, xpath.ChildCount(node), 0)
	if err != nil {
		return e.skip(node, "child count", err)
	}

	if childCount == 0 {
		return e.extractLeaf(ctx, node, name)
	}

	if e.maxDepth > 0 && depth >= e.maxDepth {
		return e.skip(node, "subtree", ErrDepthExceeded)
	}

	e.logger.Info("node discovered",
		zap.String("address", node.String()),
		zap.String("name", name),
		zap.Int("children", childCount))

	child, err := e.extractSet(ctx, node.Children(), depth+1)
	return fragment{name: name, value: model.ObjectValue(child), ok: true, err: err}
}

func (e *Extractor) extractLeaf(ctx context.Context, node xpath.Address, name string) fragment {
	hasText, err := e.search.Holds(ctx, xpath.HasText(node))
	if err != nil {
		return fragment{err: err}
	}
	if !hasText {
		e.logger.Debug("leaf without text omitted",
			zap.String("address", node.String()),
			zap.String("name", name))
		return fragment{}
	}

	value, err := e.search.FindValue(ctx, xpath.String(node))
	if err != nil {
		return e.skip(node, "value", err)
	}

	e.logger.Info("leaf extracted",
		zap.String("address", node.String()),
		zap.String("name", name),
		zap.String("value", value))
	return fragment{name: name, value: model.Scalar(value), ok: true}
}

// skip drops a node that could not be measured. Abort errors are passed on.
func (e *Extractor) skip(node xpath.Address, what string, err error) fragment {
	if oracle.IsAbort(err) {
		return fragment{err: err}
	}
	e.logger.Debug("node skipped",
		zap.String("address", node.String()),
		zap.String("step", what),
		zap.Error(err))
	return fragment{}
}

// siblingJob extracts one sibling on the worker pool
type siblingJob struct {
	e     *Extractor
	node  xpath.Address
	index int
	depth int
}

func (j *siblingJob) Execute(ctx context.Context) worker.Result {
	f := j.e.extractNode(ctx, j.node, j.depth)
	f.index = j.index
	return &f
}

// extractParallel runs the siblings of one set on the shared pool and
// merges the fragments in document order once all of them are back
func (e *Extractor) extractParallel(ctx context.Context, addr xpath.Address, n int, depth int) (*model.Object, error) {
	jobs := make([]worker.Job, 0, n)
	for i := 1; i <= n; i++ {
		jobs = append(jobs, &siblingJob{e: e, node: addr.Index(i), index: i, depth: depth})
	}

	results := e.siblings.Run(ctx, jobs)

	slots := make([]*fragment, n)
	for _, r := range results {
		f := r.(*fragment)
		slots[f.index-1] = f
	}

	obj := model.NewObject()
	var firstErr error
	missing := false
	for _, f := range slots {
		if f == nil {
			missing = true
			continue
		}
		if f.ok {
			obj.Add(f.name, f.value)
		}
		if f.err != nil && firstErr == nil {
			firstErr = f.err
		}
	}

	if firstErr == nil && missing {
		firstErr = ctx.Err()
	}
	return obj, firstErr
}
