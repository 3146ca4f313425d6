package worker

import (
	"context"
	"fmt"
	"os"

	"github.com/ppiankov/xfil/internal/model"
	"gopkg.in/yaml.v3"
)

// Runner runs one extraction for a fully resolved configuration
type Runner interface {
	Run(ctx context.Context, cfg *model.Config) (*model.Report, error)
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, cfg *model.Config) (*model.Report, error)

// Run calls f
func (f RunnerFunc) Run(ctx context.Context, cfg *model.Config) (*model.Report, error) {
	return f(ctx, cfg)
}

// Target is one entry of a batch file
type Target struct {
	Name   string
	Config *model.Config
}

// TargetJob represents one target extraction job
type TargetJob struct {
	Index  int
	Target Target
	Runner Runner
}

// Execute executes the extraction job
func (j *TargetJob) Execute(ctx context.Context) Result {
	report, err := j.Runner.Run(ctx, j.Target.Config)
	return &TargetResult{
		Index:  j.Index,
		Name:   j.Target.Name,
		Report: report,
		Error:  err,
	}
}

// TargetResult represents the result of a target extraction job
type TargetResult struct {
	Index  int
	Name   string
	Report *model.Report
	Error  error
}

// GetError returns the error from the extraction result
func (r *TargetResult) GetError() error {
	return r.Error
}

// BatchProcessor processes multiple targets concurrently
type BatchProcessor struct {
	runner      Runner
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(runner Runner, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		runner:      runner,
		concurrency: concurrency,
	}
}

// ProcessTargets processes multiple targets concurrently. Results come back
// in input order; targets not started before ctx ended are left out.
func (b *BatchProcessor) ProcessTargets(ctx context.Context, targets []Target) []*TargetResult {
	if len(targets) == 0 {
		return []*TargetResult{}
	}

	jobs := make([]Job, len(targets))
	for i, target := range targets {
		jobs[i] = &TargetJob{
			Index:  i,
			Target: target,
			Runner: b.runner,
		}
	}

	results := Run(ctx, b.concurrency, jobs)

	targetResults := make([]*TargetResult, 0, len(targets))
	for _, result := range results {
		targetResults = append(targetResults, result.(*TargetResult))
	}

	return targetResults
}

// ProcessFile reads target definitions from a file and processes them
// concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string, base *model.Config) ([]*TargetResult, error) {
	targets, err := ReadTargetsFile(filePath, base)
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}

	return b.ProcessTargets(ctx, targets), nil
}

// targetsFile is the layout of a batch file. Each entry is a partial
// configuration laid over the base configuration:
//
//	targets:
//	  - target: {name: login, url: http://host/login, param: user}
//	    oracle: {success_text: Welcome}
type targetsFile struct {
	Targets []yaml.Node `yaml:"targets"`
}

// ReadTargetsFile reads target definitions from a YAML file. Entries
// without a name are named after their URL; repeated names are rejected.
func ReadTargetsFile(filePath string, base *model.Config) ([]Target, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	var file targetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse file: %w", err)
	}

	targets := make([]Target, 0, len(file.Targets))
	seen := make(map[string]bool)

	for i := range file.Targets {
		cfg := base.Clone()
		if err := file.Targets[i].Decode(cfg); err != nil {
			return nil, fmt.Errorf("target %d: %w", i+1, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("target %d: %w", i+1, err)
		}

		name := cfg.Target.Name
		if name == "" {
			name = cfg.Target.URL
		}
		if seen[name] {
			return nil, fmt.Errorf("target %d: duplicate name %q", i+1, name)
		}
		seen[name] = true

		targets = append(targets, Target{Name: name, Config: cfg})
	}

	return targets, nil
}
