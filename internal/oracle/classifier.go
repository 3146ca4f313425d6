package oracle

import (
	"net/http"
	"strings"

	"github.com/ppiankov/xfil/internal/model"
	"github.com/ppiankov/xfil/internal/transport"
	"golang.org/x/net/html"
)

// Classifier turns a response into a verdict. Checks run in a fixed order
// and the first match wins:
//  1. success status code
//  2. failure status code
//  3. success marker in body
//  4. failure marker in body
//  5. status 200 means true, anything else false
type Classifier struct {
	SuccessCode int
	FailureCode int
	SuccessText string
	FailureText string

	// MatchVisibleText matches markers against the rendered text of an
	// HTML body instead of the raw bytes
	MatchVisibleText bool
}

// ClassifierFromConfig builds a classifier from the oracle configuration
func ClassifierFromConfig(cfg model.OracleConfig) Classifier {
	return Classifier{
		SuccessCode:      cfg.SuccessCode,
		FailureCode:      cfg.FailureCode,
		SuccessText:      cfg.SuccessText,
		FailureText:      cfg.FailureText,
		MatchVisibleText: cfg.MatchVisibleText,
	}
}

// Classify returns the verdict for resp. A nil response is Unknown.
func (c Classifier) Classify(resp *transport.Response) model.Verdict {
	if resp == nil {
		return model.VerdictUnknown
	}

	if c.SuccessCode != 0 && resp.StatusCode == c.SuccessCode {
		return model.VerdictTrue
	}
	if c.FailureCode != 0 && resp.StatusCode == c.FailureCode {
		return model.VerdictFalse
	}

	if c.SuccessText != "" || c.FailureText != "" {
		body := resp.Body
		if c.MatchVisibleText {
			body = VisibleText(body)
		}
		if c.SuccessText != "" && strings.Contains(body, c.SuccessText) {
			return model.VerdictTrue
		}
		if c.FailureText != "" && strings.Contains(body, c.FailureText) {
			return model.VerdictFalse
		}
	}

	if resp.StatusCode == http.StatusOK {
		return model.VerdictTrue
	}
	return model.VerdictFalse
}

// VisibleText returns the text a browser would show for an HTML document,
// with whitespace collapsed. Script and style contents are dropped.
// Input that is not HTML is returned as its text content all the same.
func VisibleText(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}

	var words []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(words, " ")
}
