package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const (
	contentTypeForm      = "application/x-www-form-urlencoded"
	contentTypeJSON      = "application/json"
	contentTypeMultipart = "multipart/form-data"
)

// buildRequest places payload in the vulnerable parameter, alongside the
// fixed extra fields, encoded for the configured method and content type
func (c *Client) buildRequest(ctx context.Context, payload string) (*http.Request, error) {
	fields := make(map[string]string, len(c.opts.PostData)+1)
	for k, v := range c.opts.PostData {
		fields[k] = v
	}
	fields[c.opts.Param] = payload

	var (
		req *http.Request
		err error
	)

	if c.opts.Method == http.MethodGet {
		req, err = c.getRequest(ctx, fields)
	} else {
		req, err = c.postRequest(ctx, fields)
	}
	if err != nil {
		return nil, err
	}

	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	for k, v := range c.opts.Headers {
		if strings.EqualFold(k, "Content-Type") {
			continue
		}
		req.Header.Set(k, v)
	}

	return req, nil
}

// getRequest adds fields to the query string already present in the URL
func (c *Client) getRequest(ctx context.Context, fields map[string]string) (*http.Request, error) {
	target, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, err
	}

	q := target.Query()
	for _, k := range sortedKeys(fields) {
		q.Set(k, fields[k])
	}
	target.RawQuery = q.Encode()

	return http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
}

func (c *Client) postRequest(ctx context.Context, fields map[string]string) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)

	switch c.opts.ContentType {
	case contentTypeJSON:
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = contentTypeJSON

	case contentTypeMultipart:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, k := range sortedKeys(fields) {
			if err := w.WriteField(k, fields[k]); err != nil {
				return nil, fmt.Errorf("encode multipart field %s: %w", k, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close multipart body: %w", err)
		}
		body = &buf
		contentType = w.FormDataContentType()

	default:
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
		contentType = contentTypeForm
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	return req, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
