package httprt

import (
	"net/http"
	"time"
)

// Options configures the HTTP invoker.
//
// Defaults:
//   - Client:  a dedicated *http.Client
//   - Timeout: 5s (used only if the incoming context has no deadline)
//
// BaseURL is prepended to bindings whose URL has no scheme.
type Options struct {
	Client  *http.Client
	BaseURL string
	Timeout time.Duration
	Header  http.Header
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Client:  &http.Client{},
		Timeout: 5 * time.Second,
		Header:  http.Header{},
	}
}

func WithHTTPClient(c *http.Client) Option { return func(o *Options) { o.Client = c } }
func WithBaseURL(u string) Option          { return func(o *Options) { o.BaseURL = u } }
func WithTimeout(d time.Duration) Option   { return func(o *Options) { o.Timeout = d } }
func WithHeader(key, value string) Option  { return func(o *Options) { o.Header.Add(key, value) } }
