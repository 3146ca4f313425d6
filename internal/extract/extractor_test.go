package extract

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/xfil/internal/model"
	"github.com/ppiankov/xfil/internal/oracle"
	"github.com/ppiankov/xfil/internal/search"
	"github.com/ppiankov/xfil/internal/xmlsim"
	"github.com/ppiankov/xfil/internal/xpath"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const catalogXML = `<catalog>` +
	`<book><title>Go</title><author>Pike</author><author>Kernighan</author></book>` +
	`<book><title>O'Brien\Path</title><note>say "hi"</note></book>` +
	`<empty/>` +
	`<owner>root</owner>` +
	`</catalog>`

func newSim(t *testing.T, doc string) *xmlsim.Oracle {
	t.Helper()
	d, err := xmlsim.ParseString(doc)
	if err != nil {
		t.Fatalf("ParseString failed: %v", err)
	}
	return xmlsim.NewOracle(d)
}

func newExtractor(o oracle.Oracle, opts Options, probeWorkers int) *Extractor {
	s := search.New(o, search.Options{ProbeWorkers: probeWorkers})
	return New(s, opts)
}

func toJSON(t *testing.T, obj *model.Object) string {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return string(data)
}

func TestExtract_RoundTrip(t *testing.T) {
	e := newExtractor(newSim(t, `<r><a>1</a><a>2</a><b><c>x</c></b></r>`), Options{}, 1)

	obj, err := e.Extract(context.Background(), xpath.Root())
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	want := map[string]any{
		"r": map[string]any{
			"a": []any{"1", "2"},
			"b": map[string]any{"c": "x"},
		},
	}
	if diff := cmp.Diff(want, obj.Interface()); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if got := toJSON(t, obj); got != `{"r":{"a":["1","2"],"b":{"c":"x"}}}` {
		t.Errorf("unexpected JSON %s", got)
	}
}

func TestExtract_Catalog(t *testing.T) {
	e := newExtractor(newSim(t, catalogXML), Options{}, 1)

	obj, err := e.Extract(context.Background(), xpath.Root())
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	want := `{"catalog":{"book":[` +
		`{"title":"Go","author":["Pike","Kernighan"]},` +
		`{"title":"O'Brien\\Path","note":"say \"hi\""}` +
		`],"owner":"root"}}`
	if got := toJSON(t, obj); got != want {
		t.Errorf("unexpected JSON\n got: %s\nwant: %s", got, want)
	}
}

func TestExtract_Subtree(t *testing.T) {
	e := newExtractor(newSim(t, catalogXML), Options{}, 1)

	obj, err := e.Extract(context.Background(), xpath.ParseAddress("/*[1]/*[1]/*"))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got := toJSON(t, obj); got != `{"title":"Go","author":["Pike","Kernighan"]}` {
		t.Errorf("unexpected JSON %s", got)
	}
}

func TestExtract_Degradation(t *testing.T) {
	sim := newSim(t, `<r><a>1</a><a>2</a><b><c>x</c></b></r>`)
	sim.FailWhen = func(cond xpath.Condition) bool {
		return cond == xpath.HasText(xpath.ParseAddress("/*[1]/*[2]"))
	}
	e := newExtractor(sim, Options{}, 1)

	obj, err := e.Extract(context.Background(), xpath.Root())
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got := toJSON(t, obj); got != `{"r":{"a":"1","b":{"c":"x"}}}` {
		t.Errorf("expected only the failed leaf to be dropped, got %s", got)
	}
}

func TestExtract_EmptyDocument(t *testing.T) {
	tests := []struct {
		name string
		o    oracle.Oracle
	}{
		{"no elements", falseOracle{}},
		{"textless root", newSim(t, `<r/>`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := newExtractor(tt.o, Options{}, 1).Extract(context.Background(), xpath.Root())
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if got := toJSON(t, obj); got != "{}" {
				t.Errorf("expected {}, got %s", got)
			}
		})
	}
}

func TestExtract_Idempotent(t *testing.T) {
	sim := newSim(t, catalogXML)
	e := newExtractor(sim, Options{}, 1)

	first, err := e.Extract(context.Background(), xpath.Root())
	if err != nil {
		t.Fatalf("first Extract failed: %v", err)
	}
	calls := sim.Calls()

	second, err := e.Extract(context.Background(), xpath.Root())
	if err != nil {
		t.Fatalf("second Extract failed: %v", err)
	}

	if diff := cmp.Diff(first.Interface(), second.Interface()); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
	if sim.Calls() != 2*calls {
		t.Errorf("expected identical query counts, got %d then %d", calls, sim.Calls()-calls)
	}
}

func TestExtract_ParallelMatchesSequential(t *testing.T) {
	seq, err := newExtractor(newSim(t, catalogXML), Options{}, 1).
		Extract(context.Background(), xpath.Root())
	if err != nil {
		t.Fatalf("sequential Extract failed: %v", err)
	}

	par, err := newExtractor(newSim(t, catalogXML), Options{SiblingWorkers: 4}, 3).
		Extract(context.Background(), xpath.Root())
	if err != nil {
		t.Fatalf("parallel Extract failed: %v", err)
	}

	if toJSON(t, seq) != toJSON(t, par) {
		t.Errorf("parallel result differs:\n seq: %s\n par: %s", toJSON(t, seq), toJSON(t, par))
	}
}

// gaugeOracle records the peak number of concurrent Ask calls
type gaugeOracle struct {
	next          oracle.Oracle
	current, peak atomic.Int32
}

func (g *gaugeOracle) Ask(ctx context.Context, cond xpath.Condition) (model.Verdict, error) {
	n := g.current.Add(1)
	defer g.current.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(100 * time.Microsecond)
	return g.next.Ask(ctx, cond)
}

// binaryTree builds a complete tree with the given number of levels
func binaryTree(levels int) string {
	if levels == 1 {
		return "<n>v</n>"
	}
	child := binaryTree(levels - 1)
	return "<n>" + child + child + "</n>"
}

func TestExtract_SiblingWorkersBoundWholeTree(t *testing.T) {
	doc := binaryTree(5)
	want, err := newExtractor(newSim(t, doc), Options{}, 1).Extract(context.Background(), xpath.Root())
	if err != nil {
		t.Fatalf("sequential Extract failed: %v", err)
	}

	tests := []struct {
		siblings, chars int
	}{
		{2, 1},
		{4, 1},
		{3, 2},
	}

	for _, tt := range tests {
		gauge := &gaugeOracle{next: newSim(t, doc)}
		obj, err := newExtractor(gauge, Options{SiblingWorkers: tt.siblings}, tt.chars).
			Extract(context.Background(), xpath.Root())
		if err != nil {
			t.Fatalf("siblings=%d chars=%d: Extract failed: %v", tt.siblings, tt.chars, err)
		}
		if toJSON(t, obj) != toJSON(t, want) {
			t.Errorf("siblings=%d chars=%d: result differs from sequential walk", tt.siblings, tt.chars)
		}

		limit := int32(tt.siblings * tt.chars)
		if peak := gauge.peak.Load(); peak > limit {
			t.Errorf("siblings=%d chars=%d: %d concurrent oracle calls, want at most %d",
				tt.siblings, tt.chars, peak, limit)
		}
	}

	if !strings.Contains(toJSON(t, want), `"n":["v","v"]`) {
		t.Errorf("unexpected tree %s", toJSON(t, want))
	}
}

func TestExtract_MaxDepth(t *testing.T) {
	doc := `<r><a>1</a><b><c>x</c></b></r>`

	tests := []struct {
		maxDepth int
		want     string
	}{
		{1, `{}`},
		{2, `{"r":{"a":"1"}}`},
		{3, `{"r":{"a":"1","b":{"c":"x"}}}`},
		{0, `{"r":{"a":"1","b":{"c":"x"}}}`},
	}

	for _, tt := range tests {
		e := newExtractor(newSim(t, doc), Options{MaxDepth: tt.maxDepth}, 1)
		obj, err := e.Extract(context.Background(), xpath.Root())
		if err != nil {
			t.Fatalf("max depth %d: Extract failed: %v", tt.maxDepth, err)
		}
		if got := toJSON(t, obj); got != tt.want {
			t.Errorf("max depth %d: got %s, want %s", tt.maxDepth, got, tt.want)
		}
	}
}

func TestExtract_BudgetReturnsPartial(t *testing.T) {
	d, err := xmlsim.ParseString(catalogXML)
	if err != nil {
		t.Fatal(err)
	}
	endpoint := xmlsim.NewEndpoint(d, "", "")
	adapter := oracle.NewAdapter(endpoint, oracle.Options{
		Classifier: oracle.Classifier{SuccessText: xmlsim.SuccessText, FailureText: xmlsim.FailureText},
		MaxQueries: 300,
	})

	obj, err := newExtractor(adapter, Options{}, 1).Extract(context.Background(), xpath.Root())
	if !errors.Is(err, oracle.ErrBudgetExhausted) {
		t.Fatalf("expected budget exhaustion, got %v", err)
	}
	if obj == nil {
		t.Fatal("expected a partial object")
	}
	if adapter.Stats().Queries != 300 {
		t.Errorf("expected the whole budget to be spent, got %d", adapter.Stats().Queries)
	}

	// Whatever was assembled is a prefix of the full result
	full, err := newExtractor(newSim(t, catalogXML), Options{}, 1).Extract(context.Background(), xpath.Root())
	if err != nil {
		t.Fatal(err)
	}
	if obj.Len() > full.Len() {
		t.Errorf("partial result larger than full result: %s", toJSON(t, obj))
	}
}

func TestExtract_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 4} {
		e := newExtractor(newSim(t, catalogXML), Options{SiblingWorkers: workers}, 1)
		obj, err := e.Extract(ctx, xpath.Root())
		if !errors.Is(err, context.Canceled) {
			t.Errorf("workers=%d: expected context.Canceled, got %v", workers, err)
		}
		if obj == nil || obj.Len() != 0 {
			t.Errorf("workers=%d: expected empty partial object", workers)
		}
	}
}

// falseOracle denies everything
type falseOracle struct{}

func (falseOracle) Ask(ctx context.Context, cond xpath.Condition) (model.Verdict, error) {
	return model.VerdictFalse, nil
}
