// Package natsrt invokes schema operations bound to NATS request/reply
// subjects with @nats(subject:).
package natsrt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hanpama/typegraph/internal/ctxlog"
	"github.com/hanpama/typegraph/internal/query"
	"github.com/hanpama/typegraph/internal/queryid"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// HeaderQueryID carries the query id on every request message.
const HeaderQueryID = "Typegraph-Query-Id"

// Requester sends a request message and waits for a single reply.
// *nats.Conn satisfies it.
type Requester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
}

var _ Requester = (*nats.Conn)(nil)

// RemoteError is a reply of the form {"error": "..."}.
type RemoteError struct {
	Subject string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("nats %s: %s", e.Subject, e.Message)
}

// Invoker implements query.Invoker for operations carrying a @nats binding.
// The request payload is a JSON object of the non-null parameters keyed by
// name; the reply payload is decoded against the operation's return type.
// An empty reply is a null result.
type Invoker struct {
	schema  *schema.Schema
	conn    Requester
	timeout time.Duration
}

var _ query.Invoker = (*Invoker)(nil)

type Option func(*Invoker)

// WithTimeout bounds requests whose context has no deadline. Default 3s.
func WithTimeout(d time.Duration) Option { return func(i *Invoker) { i.timeout = d } }

func NewInvoker(s *schema.Schema, conn Requester, opts ...Option) *Invoker {
	i := &Invoker{schema: s, conn: conn, timeout: 3 * time.Second}
	for _, o := range opts {
		o(i)
	}
	return i
}

func (i *Invoker) Name() string { return "nats" }

func (i *Invoker) CanSupport(_ *schema.Service, op *schema.Operation) bool {
	b, ok := op.Metadata.NATS()
	return ok && b.Subject != ""
}

func (i *Invoker) Invoke(ctx context.Context, _ *schema.Service, op *schema.Operation, params []typed.Instance) ([]typed.Instance, error) {
	b, ok := op.Metadata.NATS()
	if !ok {
		panic(fmt.Sprintf("natsrt: %s has no @nats binding", op.QualifiedName()))
	}

	args := make(map[string]any, len(op.Parameters))
	for idx, p := range op.Parameters {
		if v := typed.ToRaw(params[idx]); v != nil {
			args[p.Name] = v
		}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op.QualifiedName(), err)
	}

	msg := nats.NewMsg(b.Subject)
	msg.Data = data
	if id, ok := queryid.FromContext(ctx); ok {
		msg.Header.Set(HeaderQueryID, id)
	}

	if _, ok := ctx.Deadline(); !ok && i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}
	ctxlog.FromContext(ctx).DebugContext(ctx, "nats invoke", "operation", op.QualifiedName(), "subject", b.Subject)
	reply, err := i.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("nats %s: %w", b.Subject, err)
	}

	var raw any
	if len(reply.Data) > 0 {
		if err := typed.DecodeJSON(reply.Data, &raw); err != nil {
			return nil, fmt.Errorf("decode %s reply: %w", op.QualifiedName(), err)
		}
	}
	if msg, ok := remoteError(raw); ok {
		return nil, &RemoteError{Subject: b.Subject, Message: msg}
	}
	v, err := typed.FromRaw(i.schema, op.Returns, raw, typed.FromOperation(op.QualifiedName()))
	if err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", op.QualifiedName(), err)
	}
	return []typed.Instance{v}, nil
}

// remoteError matches replies whose only key is "error".
func remoteError(raw any) (string, bool) {
	m, ok := raw.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	v, ok := m["error"]
	if !ok {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}
