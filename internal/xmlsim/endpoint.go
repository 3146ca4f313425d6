package xmlsim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ppiankov/xfil/internal/transport"
)

// DefaultQuery is the vulnerable lookup the endpoint builds from user input.
// Input is pasted between the quotes without escaping.
const DefaultQuery = "//*[name()='%s']"

const (
	// SuccessText appears on the page when the lookup selects a node
	SuccessText = "Welcome back"

	// FailureText appears on the page when the lookup selects nothing
	FailureText = "Invalid credentials"
)

// Endpoint simulates a login form that evaluates an injectable XPath query
// against a Document. It works both as an in-process transport and as an
// http.Handler.
type Endpoint struct {
	doc   *Document
	query string
	param string
}

// NewEndpoint creates an endpoint reading input from param. An empty query
// uses DefaultQuery.
func NewEndpoint(doc *Document, query, param string) *Endpoint {
	if query == "" {
		query = DefaultQuery
	}
	if param == "" {
		param = "user"
	}
	return &Endpoint{doc: doc, query: query, param: param}
}

// Param returns the name of the vulnerable parameter
func (e *Endpoint) Param() string {
	return e.param
}

// Respond renders the page for one input value
func (e *Endpoint) Respond(input string) *transport.Response {
	matched, err := e.doc.Match(fmt.Sprintf(e.query, input))
	if err != nil {
		return &transport.Response{
			StatusCode: http.StatusInternalServerError,
			Body:       "<html><body><p>XPath error</p></body></html>",
		}
	}
	if matched {
		return &transport.Response{
			StatusCode: http.StatusOK,
			Body:       "<html><body><h1>" + SuccessText + "</h1></body></html>",
		}
	}
	return &transport.Response{
		StatusCode: http.StatusOK,
		Body:       "<html><body><p>" + FailureText + "</p></body></html>",
	}
}

// Send answers payload in process
func (e *Endpoint) Send(ctx context.Context, payload string) (*transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.Respond(payload), nil
}

// ServeHTTP reads the vulnerable parameter from the query string, a form
// body or a JSON body
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	input := ""
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if v, ok := fields[e.param].(string); ok {
			input = v
		}
	} else {
		input = r.FormValue(e.param)
	}

	resp := e.Respond(input)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write([]byte(resp.Body))
}
