package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ppiankov/xfil/internal/cache"
	"github.com/ppiankov/xfil/internal/model"
	"github.com/ppiankov/xfil/internal/pipeline"
	"github.com/ppiankov/xfil/internal/transport"
	"github.com/ppiankov/xfil/internal/worker"
	"github.com/spf13/cobra"
)

var (
	outputDir    string
	batchTimeout time.Duration
)

var batchFlagKeys = map[string]string{
	"concurrency": "concurrency.batch_workers",
	"format":      "output.format",
	"cache-dir":   "cache.dir",
}

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Extract from several targets in parallel",
	Long: `Batch runs one extraction per target defined in a YAML file:
- Each entry is laid over the resolved configuration
- Targets run in parallel with a configurable worker count
- One report per target is written to the output directory

File layout:
  targets:
    - target: {name: login, url: http://host/login, param: user}
      oracle: {success_text: Welcome}
    - target: {url: http://host/search, param: q, method: POST}
      oracle: {failure_code: 404}
      search: {strategy: binary}

Example:
  xfil batch targets.yaml
  xfil batch targets.yaml --concurrency 4 --output-dir ./reports --format yaml`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, batchFlagKeys)
	},
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	defaults := model.DefaultConfig()
	batchCmd.Flags().Int("concurrency", defaults.Concurrency.BatchWorkers, "number of targets extracted concurrently")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./xfil-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "batch-timeout", 0, "total timeout for the batch (0 = none)")
	batchCmd.Flags().Bool("no-cache", false, "disable the verdict cache")
	batchCmd.Flags().String("cache-dir", defaults.Cache.Dir, "verdict cache directory")
	batchCmd.Flags().StringP("format", "f", defaults.Output.Format, "output format (json, yaml, xml)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]

	base, err := loadConfig()
	if err != nil {
		return err
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		base.Cache.Enabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, batchTimeout)
		defer cancel()
	}

	printBanner(base)

	workers := base.Concurrency.BatchWorkers
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  xfil Batch Extraction\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Format:       %s\n", base.Output.Format)
	fmt.Fprintf(os.Stderr, "\n")

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	processor := worker.NewBatchProcessor(newBatchRunner(base), workers)

	results, err := processor.ProcessFile(ctx, file, base)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	renderer := pipeline.NewRenderer()
	successCount, partialCount, failureCount := 0, 0, 0

	for _, result := range results {
		if result.Error != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Name, result.Error)
			continue
		}

		path := filepath.Join(outputDir, sanitizeFilename(result.Name)+"."+base.Output.Format)
		if err := renderer.RenderFile(result.Report, base.Output.Format, path); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write report: %v\n", result.Name, err)
			continue
		}

		if result.Report.Partial {
			partialCount++
			fmt.Fprintf(os.Stderr, "~ %s (%d nodes, %d queries, partial: %s)\n",
				result.Name, result.Report.NodeCount(), result.Report.Stats.Queries, result.Report.Error)
			continue
		}
		successCount++
		fmt.Fprintf(os.Stderr, "✓ %s (%d nodes, %d queries)\n",
			result.Name, result.Report.NodeCount(), result.Report.Stats.Queries)
	}

	// Summary
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d targets\n", len(results))
	fmt.Fprintf(os.Stderr, "  Complete:  %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Partial:   %d\n", partialCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}

// newBatchRunner builds the runner shared by every target of a batch.
// Targets on the same host share one request budget, and all targets share
// one verdict cache built from base since its keys are scoped per target.
// A target whose overlay disables the cache runs without it.
func newBatchRunner(base *model.Config, opts ...pipeline.Option) worker.Runner {
	throttle := transport.NewThrottle(base.RateLimiting)

	var verdicts cache.Cache
	if base.Cache.Enabled {
		verdicts = cache.NewLayeredCache(base.Cache.MemoryTTL, base.Cache.Dir, base.Cache.DiskTTL)
	}

	return worker.RunnerFunc(func(ctx context.Context, cfg *model.Config) (*model.Report, error) {
		runOpts := []pipeline.Option{pipeline.WithThrottle(throttle), pipeline.WithLogger(logger)}
		if verdicts != nil && cfg.Cache.Enabled {
			runOpts = append(runOpts, pipeline.WithCache(verdicts))
		}
		return pipeline.RunTarget(ctx, cfg, append(runOpts, opts...)...)
	})
}

var filenameReplacer = strings.NewReplacer(
	"://", "_",
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "-",
)

// sanitizeFilename sanitizes a target name for use as a filename
func sanitizeFilename(s string) string {
	s = filenameReplacer.Replace(s)
	s = strings.Trim(s, "._-")
	if s == "" {
		s = "target"
	}

	// Limit length
	if len(s) > 100 {
		s = s[:100]
	}

	return s
}
