package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/xfil/internal/model"
	"github.com/ppiankov/xfil/internal/pipeline"
	"github.com/ppiankov/xfil/internal/search"
	"github.com/ppiankov/xfil/internal/xmlsim"
	"gopkg.in/yaml.v3"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"login", "login"},
		{"http://host:8080/login?x=1", "http_host_8080_login_x=1"},
		{"a b\\c", "a-b_c"},
		{"../..", "target"},
		{"", "target"},
		{strings.Repeat("a", 150), strings.Repeat("a", 100)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := sanitizeFilename(tt.in); got != tt.want {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDefaultKeys(t *testing.T) {
	keys, err := defaultKeys(model.DefaultConfig())
	if err != nil {
		t.Fatalf("defaultKeys failed: %v", err)
	}

	want := map[string]interface{}{
		"search.strategy":             "linear",
		"search.bound":                model.DefaultBound,
		"http.timeout":                "15s",
		"target.method":               "GET",
		"concurrency.sibling_workers": 1,
		"cache.enabled":               true,
	}
	for key, value := range want {
		if got, ok := keys[key]; !ok || got != value {
			t.Errorf("keys[%q] = %v (%T), want %v", key, got, got, value)
		}
	}
	if _, ok := keys["search"]; ok {
		t.Error("expected nested sections to be flattened")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("writeDefaultConfig failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if diff := cmp.Diff(*model.DefaultConfig(), cfg); diff != "" {
		t.Errorf("written config differs from defaults (-want +got):\n%s", diff)
	}

	if err := writeDefaultConfig(path); err == nil {
		t.Error("expected error when config already exists")
	}
}

func TestMissingRunes(t *testing.T) {
	alphabet := search.NewAlphabet("abc")
	got := missingRunes(alphabet, []rune("abxcé"))
	if string(got) != "xé" {
		t.Errorf("missingRunes = %q, want %q", string(got), "xé")
	}
	if quoteRunes(got) != `'x' 'é'` {
		t.Errorf("quoteRunes = %s", quoteRunes(got))
	}
}

func TestRehearseCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	docPath := filepath.Join(dir, "users.xml")
	doc := "<users>\n  <user><name>bob</name><role>admin</role></user>\n  <user><name>eve</name></user>\n</users>\n"
	if err := os.WriteFile(docPath, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	outFile := filepath.Join(dir, "out.json")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"rehearse", docPath, "--quiet", "--strategy", "binary", "-o", outFile})
	defer rootCmd.SetArgs(nil)

	if err := Execute(); err != nil {
		t.Fatalf("rehearse failed: %v", err)
	}

	out := stdout.String()
	if !strings.Contains(out, "Alphabet covers every character") {
		t.Errorf("expected alphabet check in output:\n%s", out)
	}
	if !strings.Contains(out, "Status:       complete") {
		t.Errorf("expected complete run in output:\n%s", out)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("expected report file: %v", err)
	}
	var report struct {
		Target string          `json:"target"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("invalid report: %v", err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, report.Data); err != nil {
		t.Fatal(err)
	}
	want := `{"users":{"user":[{"name":"bob","role":"admin"},{"name":"eve"}]}}`
	if compact.String() != want {
		t.Errorf("unexpected data\n got: %s\nwant: %s", compact.String(), want)
	}
	if report.Target != "sim://users.xml" {
		t.Errorf("unexpected target %q", report.Target)
	}
}

func TestBatchRunner_SharesVerdictCache(t *testing.T) {
	doc, err := xmlsim.ParseString(`<users><user>bob</user></users>`)
	if err != nil {
		t.Fatalf("ParseString failed: %v", err)
	}

	base := model.DefaultConfig()
	base.Target.URL = "sim://users.xml"
	base.Target.Param = "user"
	base.Oracle.SuccessText = xmlsim.SuccessText
	base.Oracle.FailureText = xmlsim.FailureText
	base.Cache.Enabled = true
	base.Cache.Dir = t.TempDir()

	runner := newBatchRunner(base, pipeline.WithTransport(xmlsim.NewEndpoint(doc, "", "user")))
	ctx := context.Background()

	first, err := runner.Run(ctx, base.Clone())
	if err != nil {
		t.Fatalf("first target failed: %v", err)
	}
	second, err := runner.Run(ctx, base.Clone())
	if err != nil {
		t.Fatalf("second target failed: %v", err)
	}
	if first.Stats.Queries == 0 {
		t.Fatal("first target sent no queries")
	}
	if second.Stats.Queries != 0 || second.Stats.CacheHits == 0 {
		t.Errorf("second target did not reuse verdicts: %+v", second.Stats)
	}

	uncached := base.Clone()
	uncached.Cache.Enabled = false
	third, err := runner.Run(ctx, uncached)
	if err != nil {
		t.Fatalf("uncached target failed: %v", err)
	}
	if third.Stats.CacheHits != 0 || third.Stats.Queries != first.Stats.Queries+first.Stats.CacheHits {
		t.Errorf("target with cache disabled used the shared cache: %+v", third.Stats)
	}
}
