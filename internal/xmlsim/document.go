// Package xmlsim answers oracle conditions from a local XML document.
// It backs the rehearse command and the round-trip tests of the engine.
package xmlsim

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Document is a parsed XML document queried with a real XPath 1.0 evaluator.
// It is read-only after parsing and safe for concurrent use.
type Document struct {
	root *xmlquery.Node
}

// Parse reads an XML document
func Parse(r io.Reader) (*Document, error) {
	root, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString parses an XML document held in a string
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// LoadFile parses the XML document at path
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data))
}

// Evaluate reports whether the boolean value of expr holds
func (d *Document) Evaluate(expr string) (bool, error) {
	compiled, err := xpath.Compile("boolean(" + expr + ")")
	if err != nil {
		return false, fmt.Errorf("failed to compile %q: %w", expr, err)
	}

	v, ok := compiled.Evaluate(xmlquery.CreateXPathNavigator(d.root)).(bool)
	if !ok {
		return false, fmt.Errorf("expression %q is not boolean", expr)
	}
	return v, nil
}

// Match reports whether query selects at least one node
func (d *Document) Match(query string) (bool, error) {
	compiled, err := xpath.Compile(query)
	if err != nil {
		return false, fmt.Errorf("failed to compile %q: %w", query, err)
	}
	return xmlquery.QuerySelector(d.root, compiled) != nil, nil
}

// Characters returns every distinct rune used in element names and text,
// in ascending order. These are the runes an extraction has to recognise.
// Whitespace-only text between elements is ignored.
func (d *Document) Characters() []rune {
	seen := make(map[rune]bool)
	var walk func(*xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		switch n.Type {
		case xmlquery.TextNode, xmlquery.CharDataNode:
			if strings.TrimSpace(n.Data) == "" {
				break
			}
			fallthrough
		case xmlquery.ElementNode:
			for _, r := range n.Data {
				seen[r] = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)

	runes := make([]rune, 0, len(seen))
	for r := range seen {
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })
	return runes
}
