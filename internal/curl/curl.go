package curl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/dm/es-cluster-runner/internal/settings"
)

// Node is anything that exposes its node settings; the HTTP port is read
// from them.
type Node interface {
	Settings() settings.Settings
}

// Error reports a failed request.
type Error struct {
	Method string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NodeURL returns http://localhost:<http.port>/<path> for n.
func NodeURL(n Node, path string) string {
	port := n.Settings().Value(settings.KeyHTTPPort)
	if port == "" {
		port = "9200"
	}
	return "http://localhost:" + port + "/" + strings.TrimLeft(path, "/")
}

// Request is a single HTTP call built fluently.
type Request struct {
	method    string
	url       string
	params    url.Values
	header    http.Header
	body      string
	onConnect func(*http.Request) error
	client    *http.Client
}

func newRequest(method, rawURL string) *Request {
	return &Request{
		method: method,
		url:    rawURL,
		params: url.Values{},
		header: http.Header{},
		client: http.DefaultClient,
	}
}

// Get starts a GET request.
func Get(rawURL string) *Request { return newRequest(http.MethodGet, rawURL) }

// Post starts a POST request.
func Post(rawURL string) *Request { return newRequest(http.MethodPost, rawURL) }

// Put starts a PUT request.
func Put(rawURL string) *Request { return newRequest(http.MethodPut, rawURL) }

// Delete starts a DELETE request.
func Delete(rawURL string) *Request { return newRequest(http.MethodDelete, rawURL) }

// Header sets a request header.
func (r *Request) Header(key, value string) *Request {
	r.header.Set(key, value)
	return r
}

// Param adds a query parameter.
func (r *Request) Param(key, value string) *Request {
	r.params.Add(key, value)
	return r
}

// Body sets the request body. JSON is assumed unless a Content-Type header
// is set.
func (r *Request) Body(body string) *Request {
	r.body = body
	return r
}

// OnConnect registers a hook that sees the request right before it is sent.
// A hook error aborts the request.
func (r *Request) OnConnect(f func(*http.Request) error) *Request {
	r.onConnect = f
	return r
}

// Client replaces the HTTP client used to send the request.
func (r *Request) Client(c *http.Client) *Request {
	r.client = c
	return r
}

// Execute sends the request and spools the response body to a temporary
// file. The caller must Close the response.
func (r *Request) Execute(ctx context.Context) (*Response, error) {
	target := r.url
	if len(r.params) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.params.Encode()
	}

	var body io.Reader
	if r.body != "" {
		body = strings.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, &Error{Method: r.method, URL: target, Err: err}
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.onConnect != nil {
		if err := r.onConnect(req); err != nil {
			return nil, &Error{Method: r.method, URL: target, Err: err}
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &Error{Method: r.method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	spool, err := os.CreateTemp("", "esrunner-*.tmp")
	if err != nil {
		return nil, &Error{Method: r.method, URL: target, Err: err}
	}
	if _, err := io.Copy(spool, resp.Body); err != nil {
		spool.Close()
		os.Remove(spool.Name())
		return nil, &Error{Method: r.method, URL: target, Err: fmt.Errorf("spool body: %w", err)}
	}
	if err := spool.Close(); err != nil {
		os.Remove(spool.Name())
		return nil, &Error{Method: r.method, URL: target, Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		path:       spool.Name(),
	}, nil
}

// Response is a completed HTTP exchange whose body lives in a temp file.
type Response struct {
	StatusCode int
	Header     http.Header
	path       string
}

// ContentAsString reads the whole body.
func (r *Response) ContentAsString() (string, error) {
	b, err := os.ReadFile(r.path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ContentAsStream opens the spooled body for reading.
func (r *Response) ContentAsStream() (io.ReadCloser, error) {
	return os.Open(r.path)
}

// ContentAsMap decodes the body as a JSON object.
func (r *Response) ContentAsMap() (map[string]any, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := map[string]any{}
	if err := json.NewDecoder(f).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %d response: %w", r.StatusCode, err)
	}
	return out, nil
}

// Close deletes the spooled body. Calling it twice is harmless.
func (r *Response) Close() error {
	if r.path == "" {
		return nil
	}
	err := os.Remove(r.path)
	r.path = ""
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
