package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/xfil/internal/model"
)

// mockRunner returns a report naming the target it was given
type mockRunner struct {
	shouldErr bool
}

func (m *mockRunner) Run(ctx context.Context, cfg *model.Config) (*model.Report, error) {
	time.Sleep(10 * time.Millisecond) // Simulate work
	if m.shouldErr {
		return nil, errors.New("extract error")
	}
	return &model.Report{
		Target: cfg.Target.URL,
		Param:  cfg.Target.Param,
		Data:   model.NewObject(),
	}, nil
}

func testTargets(urls ...string) []Target {
	targets := make([]Target, len(urls))
	for i, url := range urls {
		cfg := model.DefaultConfig()
		cfg.Target.URL = url
		cfg.Target.Param = "user"
		targets[i] = Target{Name: url, Config: cfg}
	}
	return targets
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBatchProcessor_ProcessTargets(t *testing.T) {
	processor := NewBatchProcessor(&mockRunner{}, 2)

	urls := []string{"http://a/login", "http://b/login", "http://c/login", "http://d/login"}
	results := processor.ProcessTargets(context.Background(), testTargets(urls...))

	if len(results) != len(urls) {
		t.Fatalf("expected %d results, got %d", len(urls), len(results))
	}

	for i, res := range results {
		if res.Error != nil {
			t.Errorf("unexpected error for %s: %v", res.Name, res.Error)
			continue
		}
		if res.Index != i || res.Report.Target != urls[i] {
			t.Errorf("result %d out of order: %s", i, res.Report.Target)
		}
	}
}

func TestBatchProcessor_ProcessTargets_Error(t *testing.T) {
	processor := NewBatchProcessor(&mockRunner{shouldErr: true}, 2)

	results := processor.ProcessTargets(context.Background(), testTargets("http://a/"))
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Error == nil {
		t.Error("expected error, got nil")
	}
	if results[0].Report != nil {
		t.Error("expected nil report on error")
	}
}

func TestBatchProcessor_ProcessTargets_Empty(t *testing.T) {
	processor := NewBatchProcessor(&mockRunner{}, 2)

	results := processor.ProcessTargets(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

func TestRunnerFunc(t *testing.T) {
	called := false
	var r Runner = RunnerFunc(func(ctx context.Context, cfg *model.Config) (*model.Report, error) {
		called = true
		return &model.Report{}, nil
	})

	if _, err := r.Run(context.Background(), model.DefaultConfig()); err != nil || !called {
		t.Errorf("expected RunnerFunc to call through, err=%v called=%v", err, called)
	}
}

func TestReadTargetsFile(t *testing.T) {
	path := writeFile(t, `
targets:
  - target:
      name: login
      url: http://a/login
      param: user
    oracle:
      success_text: Welcome
  - target:
      url: http://b/search
      method: POST
      param: q
      post_data:
        csrf: abc
    search:
      strategy: binary
`)

	base := model.DefaultConfig()
	base.HTTP.UserAgent = "batch-test"

	targets, err := ReadTargetsFile(path, base)
	if err != nil {
		t.Fatalf("ReadTargetsFile failed: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}

	first := targets[0]
	if first.Name != "login" || first.Config.Oracle.SuccessText != "Welcome" {
		t.Errorf("unexpected first target %+v", first.Config.Target)
	}
	if first.Config.HTTP.UserAgent != "batch-test" {
		t.Error("expected base configuration to be inherited")
	}
	if first.Config.Search.Strategy != "linear" {
		t.Errorf("expected default strategy, got %q", first.Config.Search.Strategy)
	}

	second := targets[1]
	if second.Name != "http://b/search" {
		t.Errorf("expected URL as name, got %q", second.Name)
	}
	if second.Config.Target.Method != "POST" || second.Config.Target.PostData["csrf"] != "abc" {
		t.Errorf("unexpected second target %+v", second.Config.Target)
	}
	if second.Config.Search.Strategy != "binary" {
		t.Errorf("expected binary strategy, got %q", second.Config.Search.Strategy)
	}
	if second.Config.Oracle.SuccessText != "" {
		t.Error("expected targets not to leak settings into each other")
	}
	if base.Target.URL != "" {
		t.Error("expected base configuration to be left untouched")
	}
}

func TestReadTargetsFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing param", "targets:\n  - target: {url: http://a/}\n"},
		{"duplicate name", "targets:\n  - target: {url: http://a/, param: u}\n  - target: {url: http://a/, param: v}\n"},
		{"not yaml", "targets: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadTargetsFile(writeFile(t, tt.content), model.DefaultConfig()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestReadTargetsFile_NonExistent(t *testing.T) {
	_, err := ReadTargetsFile("non_existent_file.yaml", model.DefaultConfig())
	if err == nil {
		t.Error("expected error for non-existent file, got nil")
	}
}

func TestTargetResult_GetError(t *testing.T) {
	r1 := &TargetResult{Name: "a", Error: nil}
	if r1.GetError() != nil {
		t.Errorf("expected nil error, got %v", r1.GetError())
	}

	expected := errors.New("extract failed")
	r2 := &TargetResult{Name: "a", Error: expected}
	if r2.GetError() != expected {
		t.Errorf("expected %v, got %v", expected, r2.GetError())
	}
}

func TestBatchProcessor_ProcessFile(t *testing.T) {
	path := writeFile(t, "targets:\n  - target: {url: http://a/, param: u}\n  - target: {url: http://b/, param: u}\n")

	processor := NewBatchProcessor(&mockRunner{}, 2)
	results, err := processor.ProcessFile(context.Background(), path, model.DefaultConfig())
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}

func TestBatchProcessor_ProcessFile_NonExistent(t *testing.T) {
	processor := NewBatchProcessor(&mockRunner{}, 2)

	_, err := processor.ProcessFile(context.Background(), "no_such_file.yaml", model.DefaultConfig())
	if err == nil {
		t.Error("expected error for non-existent file, got nil")
	}
}
