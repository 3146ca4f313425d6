package model

import (
	"fmt"
	"strings"
	"time"
)

// DefaultAlphabet is the ordered candidate set tried at every character position
const DefaultAlphabet = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789" +
	"_-@.!#$%&*+=:;/\\()[]{}<>\"'," +
	" "

// DefaultBound caps every measured length and count
const DefaultBound = 100

// Config holds the complete configuration for an extraction run
type Config struct {
	Target       TargetConfig       `yaml:"target" mapstructure:"target"`
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	Oracle       OracleConfig       `yaml:"oracle" mapstructure:"oracle"`
	Search       SearchConfig       `yaml:"search" mapstructure:"search"`
	Extract      ExtractConfig      `yaml:"extract" mapstructure:"extract"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
}

// TargetConfig describes the vulnerable endpoint
type TargetConfig struct {
	Name        string            `yaml:"name,omitempty" mapstructure:"name"`
	URL         string            `yaml:"url" mapstructure:"url"`
	Method      string            `yaml:"method" mapstructure:"method"`             // GET or POST
	Param       string            `yaml:"param" mapstructure:"param"`               // Vulnerable parameter name
	ContentType string            `yaml:"content_type" mapstructure:"content_type"` // POST body encoding
	PostData    map[string]string `yaml:"post_data,omitempty" mapstructure:"post_data"`
	Headers     map[string]string `yaml:"headers,omitempty" mapstructure:"headers"`
}

// HTTPConfig controls the transport
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"` // Per request
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	InsecureTLS  bool          `yaml:"insecure_tls" mapstructure:"insecure_tls"`
	HTTPProxy    string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy   string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
}

// OracleConfig controls how responses are classified.
// A zero status code or empty marker means "not configured".
type OracleConfig struct {
	SuccessCode      int    `yaml:"success_code,omitempty" mapstructure:"success_code"`
	FailureCode      int    `yaml:"failure_code,omitempty" mapstructure:"failure_code"`
	SuccessText      string `yaml:"success_text,omitempty" mapstructure:"success_text"`
	FailureText      string `yaml:"failure_text,omitempty" mapstructure:"failure_text"`
	MatchVisibleText bool   `yaml:"match_visible_text" mapstructure:"match_visible_text"`
	MaxQueries       int64  `yaml:"max_queries" mapstructure:"max_queries"` // 0 = unlimited
}

// SearchConfig controls the scalar search primitives
type SearchConfig struct {
	Bound    int    `yaml:"bound" mapstructure:"bound"`
	Alphabet string `yaml:"alphabet" mapstructure:"alphabet"`
	Strategy string `yaml:"strategy" mapstructure:"strategy"` // linear or binary
}

// ExtractConfig controls the tree walk
type ExtractConfig struct {
	Root     string        `yaml:"root" mapstructure:"root"`
	MaxDepth int           `yaml:"max_depth" mapstructure:"max_depth"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"` // Whole run, 0 = none
}

// ConcurrencyConfig controls parallelism
type ConcurrencyConfig struct {
	SiblingWorkers int `yaml:"sibling_workers" mapstructure:"sibling_workers"`
	ProbeWorkers   int `yaml:"probe_workers" mapstructure:"probe_workers"`
	BatchWorkers   int `yaml:"batch_workers" mapstructure:"batch_workers"`
}

// RateLimitingConfig throttles requests per host
type RateLimitingConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"` // 0 = unlimited
	BurstSize         int           `yaml:"burst_size" mapstructure:"burst_size"`
	Delay             time.Duration `yaml:"delay" mapstructure:"delay"`
}

// CacheConfig controls the verdict cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// OutputConfig controls rendering
type OutputConfig struct {
	Format  string `yaml:"format" mapstructure:"format"` // json, yaml or xml
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
	Quiet   bool   `yaml:"quiet" mapstructure:"quiet"`
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			Method:      "GET",
			ContentType: "application/x-www-form-urlencoded",
		},
		HTTP: HTTPConfig{
			Timeout:      15 * time.Second,
			UserAgent:    "xfil/0.2 (+https://github.com/ppiankov/xfil)",
			MaxBodyBytes: 2_000_000,
			MaxRetries:   3,
		},
		Oracle: OracleConfig{},
		Search: SearchConfig{
			Bound:    DefaultBound,
			Alphabet: DefaultAlphabet,
			Strategy: "linear",
		},
		Extract: ExtractConfig{
			Root:     "/*",
			MaxDepth: DefaultBound,
		},
		Concurrency: ConcurrencyConfig{
			SiblingWorkers: 1,
			ProbeWorkers:   1,
			BatchWorkers:   2,
		},
		RateLimiting: RateLimitingConfig{
			BurstSize: 5,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       defaultCacheDir(),
			MemoryTTL: 24 * time.Hour,
			DiskTTL:   7 * 24 * time.Hour,
		},
		Output: OutputConfig{
			Format: "json",
		},
	}
}

// Validate checks the configuration for values the engine cannot work with
func (c *Config) Validate() error {
	if c.Target.URL == "" {
		return fmt.Errorf("target url is required")
	}
	if c.Target.Param == "" {
		return fmt.Errorf("target param is required")
	}
	switch strings.ToUpper(c.Target.Method) {
	case "GET", "POST":
	default:
		return fmt.Errorf("unsupported method %q (supported: GET, POST)", c.Target.Method)
	}
	switch c.Target.ContentType {
	case "", "application/x-www-form-urlencoded", "application/json", "multipart/form-data":
	default:
		return fmt.Errorf("unsupported content type %q", c.Target.ContentType)
	}
	if c.Search.Bound <= 0 {
		return fmt.Errorf("search bound must be positive")
	}
	if c.Search.Alphabet == "" {
		return fmt.Errorf("search alphabet cannot be empty")
	}
	switch c.Search.Strategy {
	case "", "linear", "binary":
	default:
		return fmt.Errorf("unknown search strategy %q (supported: linear, binary)", c.Search.Strategy)
	}
	if c.Extract.MaxDepth < 0 {
		return fmt.Errorf("max depth cannot be negative")
	}
	if c.Oracle.MaxQueries < 0 {
		return fmt.Errorf("max queries cannot be negative")
	}
	if c.RateLimiting.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	switch c.Output.Format {
	case "json", "yaml", "xml":
	default:
		return fmt.Errorf("unknown output format %q (supported: json, yaml, xml)", c.Output.Format)
	}
	return nil
}

func defaultCacheDir() string {
	return ".xfil-cache"
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	out := *c
	out.Target.PostData = cloneMap(c.Target.PostData)
	out.Target.Headers = cloneMap(c.Target.Headers)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
