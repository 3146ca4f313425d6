package transport

import (
	"fmt"
	"net/http"
	"net/url"
)

// proxyFunc resolves the configured proxies once. A scheme without an
// explicit proxy falls back to HTTP_PROXY/HTTPS_PROXY from the environment.
func proxyFunc(httpProxy, httpsProxy string) (func(*http.Request) (*url.URL, error), error) {
	httpURL, err := parseProxy(httpProxy)
	if err != nil {
		return nil, err
	}
	httpsURL, err := parseProxy(httpsProxy)
	if err != nil {
		return nil, err
	}
	if httpURL == nil && httpsURL == nil {
		return http.ProxyFromEnvironment, nil
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" && httpsURL != nil {
			return httpsURL, nil
		}
		if httpURL != nil {
			return httpURL, nil
		}
		return http.ProxyFromEnvironment(req)
	}, nil
}

func parseProxy(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q", raw)
	}
	return u, nil
}
