package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/ppiankov/xfil/internal/model"
	"github.com/ppiankov/xfil/internal/pipeline"
	"github.com/ppiankov/xfil/internal/search"
	"github.com/ppiankov/xfil/internal/xmlsim"
	"github.com/spf13/cobra"
)

var (
	rehearseQuery string
	rehearseOut   string
)

var rehearseFlagKeys = map[string]string{
	"root":            "extract.root",
	"max-depth":       "extract.max_depth",
	"bound":           "search.bound",
	"alphabet":        "search.alphabet",
	"strategy":        "search.strategy",
	"sibling-workers": "concurrency.sibling_workers",
	"probe-workers":   "concurrency.probe_workers",
	"max-queries":     "oracle.max_queries",
	"format":          "output.format",
}

// rehearseCmd represents the rehearse command
var rehearseCmd = &cobra.Command{
	Use:   "rehearse <doc.xml>",
	Short: "Run an extraction against a local XML file",
	Long: `Rehearse serves a local XML document from a simulated vulnerable login
endpoint and extracts it with the current search settings.

Use it to estimate how many requests a real document of similar shape will
cost, and to find characters the alphabet is missing before they turn
into holes in a live extraction.

Example:
  xfil rehearse users.xml
  xfil rehearse users.xml --strategy binary --probe-workers 4
  xfil rehearse users.xml --query "//user[name/text()='%s']" -o out.json`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, rehearseFlagKeys)
	},
	RunE: runRehearse,
}

func init() {
	rootCmd.AddCommand(rehearseCmd)
	addEngineFlags(rehearseCmd)

	rehearseCmd.Flags().Int64("max-queries", 0, "stop after this many requests (0 = unlimited)")
	rehearseCmd.Flags().StringP("format", "f", "json", "output format (json, yaml, xml)")
	rehearseCmd.Flags().StringVar(&rehearseQuery, "query", xmlsim.DefaultQuery, "server-side query the input is spliced into (%s marks the input)")
	rehearseCmd.Flags().StringVarP(&rehearseOut, "out", "o", "", "write the recovered document here (- for stdout)")
}

func runRehearse(cmd *cobra.Command, args []string) error {
	path := args[0]

	doc, err := xmlsim.LoadFile(path)
	if err != nil {
		return err
	}
	endpoint := xmlsim.NewEndpoint(doc, rehearseQuery, "")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Target = model.TargetConfig{
		URL:    "sim://" + filepath.Base(path),
		Method: "GET",
		Param:  endpoint.Param(),
	}
	cfg.Oracle.SuccessText = xmlsim.SuccessText
	cfg.Oracle.FailureText = xmlsim.FailureText
	cfg.Cache.Enabled = false

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner(cfg)

	out := cmd.OutOrStdout()
	missing := missingRunes(search.NewAlphabet(cfg.Search.Alphabet), doc.Characters())
	if len(missing) > 0 {
		fmt.Fprintf(out, "⚠ %d character(s) in %s are not in the alphabet: %s\n",
			len(missing), filepath.Base(path), quoteRunes(missing))
		fmt.Fprintf(out, "  Names and values containing them will be skipped.\n")
	} else {
		fmt.Fprintf(out, "✓ Alphabet covers every character in %s\n", filepath.Base(path))
	}

	report, err := pipeline.RunTarget(ctx, cfg, pipeline.WithTransport(endpoint), pipeline.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("rehearse failed: %w", err)
	}

	if rehearseOut != "" {
		if err := pipeline.NewRenderer().RenderFile(report, cfg.Output.Format, rehearseOut); err != nil {
			return fmt.Errorf("render failed: %w", err)
		}
	}

	pipeline.NewRenderer().RenderSummary(out, report)
	return nil
}

// missingRunes returns the runes of chars the alphabet cannot recognise
func missingRunes(alphabet search.Alphabet, chars []rune) []rune {
	var missing []rune
	for _, r := range chars {
		if !alphabet.Contains(r) {
			missing = append(missing, r)
		}
	}
	return missing
}

func quoteRunes(runes []rune) string {
	s := ""
	for i, r := range runes {
		if i > 0 {
			s += " "
		}
		s += strconv.QuoteRune(r)
	}
	return s
}
