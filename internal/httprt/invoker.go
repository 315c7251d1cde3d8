// Package httprt invokes schema operations bound to HTTP endpoints with
// @http(method:, url:).
package httprt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/hanpama/typegraph/internal/ctxlog"
	"github.com/hanpama/typegraph/internal/query"
	"github.com/hanpama/typegraph/internal/queryid"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// HeaderQueryID carries the query id on every outgoing request.
const HeaderQueryID = "X-Typegraph-Query-Id"

const maxResponseBytes = 8 << 20

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Invoker implements query.Invoker for operations carrying an @http binding.
//
// Request mapping:
//   - {name} placeholders in the URL are replaced by the path-escaped value
//     of the parameter with that name.
//   - The remaining non-null parameters form a JSON object sent as the body
//     for POST, PUT and PATCH, and are encoded into the query string for
//     every other method.
//
// Response mapping: a 2xx body is decoded as JSON against the operation's
// return type. An empty body is a null result. Any other status is a
// *StatusError.
type Invoker struct {
	schema *schema.Schema
	opts   *Options
}

var _ query.Invoker = (*Invoker)(nil)

func NewInvoker(s *schema.Schema, opts ...Option) *Invoker {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Invoker{schema: s, opts: o}
}

func (i *Invoker) Name() string { return "http" }

func (i *Invoker) CanSupport(_ *schema.Service, op *schema.Operation) bool {
	b, ok := op.Metadata.HTTP()
	return ok && b.URL != ""
}

func (i *Invoker) Invoke(ctx context.Context, _ *schema.Service, op *schema.Operation, params []typed.Instance) ([]typed.Instance, error) {
	b, ok := op.Metadata.HTTP()
	if !ok {
		panic(fmt.Sprintf("httprt: %s has no @http binding", op.QualifiedName()))
	}
	method := strings.ToUpper(b.Method)

	args := make(map[string]any, len(op.Parameters))
	for idx, p := range op.Parameters {
		if v := typed.ToRaw(params[idx]); v != nil {
			args[p.Name] = v
		}
	}
	target, err := expandURL(i.resolve(b.URL), args)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(args) > 0 {
		if hasBody(method) {
			data, err := json.Marshal(args)
			if err != nil {
				return nil, fmt.Errorf("encode %s body: %w", op.QualifiedName(), err)
			}
			body = bytes.NewReader(data)
		} else if target, err = appendQuery(target, args); err != nil {
			return nil, err
		}
	}

	if _, ok := ctx.Deadline(); !ok && i.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.opts.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op.QualifiedName(), err)
	}
	for k, vs := range i.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id, ok := queryid.FromContext(ctx); ok {
		req.Header.Set(HeaderQueryID, id)
	}

	ctxlog.FromContext(ctx).DebugContext(ctx, "http invoke", "operation", op.QualifiedName(), "method", method, "url", target)
	resp, err := i.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op.QualifiedName(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: snippet(data)}
	}

	var raw any
	if len(bytes.TrimSpace(data)) > 0 {
		if err := typed.DecodeJSON(data, &raw); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", op.QualifiedName(), err)
		}
	}
	v, err := typed.FromRaw(i.schema, op.Returns, raw, typed.FromOperation(op.QualifiedName()))
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op.QualifiedName(), err)
	}
	return []typed.Instance{v}, nil
}

func (i *Invoker) resolve(raw string) string {
	if i.opts.BaseURL == "" || strings.Contains(raw, "://") {
		return raw
	}
	return strings.TrimRight(i.opts.BaseURL, "/") + "/" + strings.TrimLeft(raw, "/")
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// expandURL substitutes placeholders and removes the consumed parameters
// from args.
func expandURL(raw string, args map[string]any) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(raw, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := args[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		delete(args, name)
		return url.PathEscape(formatScalar(v))
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s in %s", ErrMissingPathParam, strings.Join(missing, ", "), raw)
	}
	return out, nil
}

// appendQuery encodes args into the query string of target. Lists repeat
// the key and objects are sent as JSON.
func appendQuery(target string, args map[string]any) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", target, err)
	}
	q := u.Query()
	for k, v := range args {
		switch t := v.(type) {
		case []any:
			for _, it := range t {
				if it != nil {
					q.Add(k, formatScalar(it))
				}
			}
		case map[string]any:
			data, err := json.Marshal(t)
			if err != nil {
				return "", fmt.Errorf("encode %s: %w", k, err)
			}
			q.Set(k, string(data))
		default:
			q.Set(k, formatScalar(t))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func formatScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		data, _ := json.Marshal(t)
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
