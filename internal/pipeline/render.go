package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/ppiankov/xfil/internal/model"
	"gopkg.in/yaml.v3"
)

// Supported output formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatXML  = "xml"
)

// Renderer writes reports in the supported formats
type Renderer struct{}

// NewRenderer creates a new renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render writes report to w in format
func (r *Renderer) Render(w io.Writer, report *model.Report, format string) error {
	switch format {
	case "", FormatJSON:
		return r.RenderJSON(w, report)
	case FormatYAML:
		return r.RenderYAML(w, report)
	case FormatXML:
		return r.RenderXML(w, report)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// RenderFile writes report to path, or to stdout when path is "" or "-"
func (r *Renderer) RenderFile(report *model.Report, format string, path string) (err error) {
	if path == "" || path == "-" {
		return r.Render(os.Stdout, report, format)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()

	return r.Render(f, report, format)
}

// RenderJSON writes indented JSON; data keys keep document order
func (r *Renderer) RenderJSON(w io.Writer, report *model.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// RenderYAML writes the report as a YAML document built node by node so
// data keys keep document order
func (r *Renderer) RenderYAML(w io.Writer, report *model.Report) error {
	stats := &yaml.Node{}
	if err := stats.Encode(report.Stats); err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}

	doc := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value *yaml.Node) {
		doc.Content = append(doc.Content, strNode(key), value)
	}
	add("target", strNode(report.Target))
	add("param", strNode(report.Param))
	add("root", strNode(report.Root))
	add("started_at", strNode(report.StartedAt.Format(time.RFC3339)))
	add("duration", strNode(report.Duration))
	add("stats", stats)
	add("partial", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(report.Partial)})
	if report.Error != "" {
		add("error", strNode(report.Error))
	}
	add("data", yamlObject(report.Data))

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode YAML: %w", err)
	}
	return enc.Close()
}

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func yamlObject(o *model.Object) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range o.Names() {
		v, _ := o.Get(name)
		n.Content = append(n.Content, strNode(name), yamlValue(v))
	}
	return n
}

func yamlValue(v model.Value) *yaml.Node {
	switch v.Kind() {
	case model.KindObject:
		return yamlObject(v.Object())
	case model.KindList:
		n := &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range v.List() {
			n.Content = append(n.Content, yamlValue(item))
		}
		return n
	default:
		return strNode(v.Scalar())
	}
}

// RenderXML re-synthesises the extracted document. Lists turn back into
// repeated sibling elements; run metadata becomes attributes of the root.
func (r *Renderer) RenderXML(w io.Writer, report *model.Report) error {
	root := &xmlquery.Node{Type: xmlquery.ElementNode, Data: "extraction"}
	xmlquery.AddAttr(root, "target", report.Target)
	xmlquery.AddAttr(root, "param", report.Param)
	xmlquery.AddAttr(root, "root", report.Root)
	xmlquery.AddAttr(root, "queries", strconv.FormatInt(report.Stats.Queries, 10))
	xmlquery.AddAttr(root, "partial", strconv.FormatBool(report.Partial))
	if report.Error != "" {
		xmlquery.AddAttr(root, "error", report.Error)
	}
	xmlObject(root, report.Data)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(root.OutputXML(true))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func xmlObject(parent *xmlquery.Node, o *model.Object) {
	for _, name := range o.Names() {
		v, _ := o.Get(name)
		if v.Kind() == model.KindList {
			for _, item := range v.List() {
				xmlElement(parent, name, item)
			}
			continue
		}
		xmlElement(parent, name, v)
	}
}

func xmlElement(parent *xmlquery.Node, name string, v model.Value) {
	el := &xmlquery.Node{Type: xmlquery.ElementNode, Data: name}
	xmlquery.AddChild(parent, el)

	if v.Kind() == model.KindObject {
		xmlObject(el, v.Object())
		return
	}
	xmlquery.AddChild(el, &xmlquery.Node{Type: xmlquery.TextNode, Data: v.Scalar()})
}

// RenderSummary prints a human-readable run summary
func (r *Renderer) RenderSummary(w io.Writer, report *model.Report) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  Extraction Summary\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Target:       %s (param %s)\n", report.Target, report.Param)
	fmt.Fprintf(w, "  Root:         %s\n", report.Root)
	fmt.Fprintf(w, "  Nodes:        %d\n", report.NodeCount())
	fmt.Fprintf(w, "  Queries:      %d\n", report.Stats.Queries)
	fmt.Fprintf(w, "  Cache hits:   %d\n", report.Stats.CacheHits)
	fmt.Fprintf(w, "  Unknown:      %d\n", report.Stats.Unknown)
	fmt.Fprintf(w, "  Duration:     %s\n", report.Duration)
	if report.Partial {
		fmt.Fprintf(w, "  Status:       partial (%s)\n", report.Error)
	} else {
		fmt.Fprintf(w, "  Status:       complete\n")
	}
	fmt.Fprintf(w, "\n")
}
