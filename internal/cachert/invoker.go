// Package cachert caches the results of operations marked @cacheable. It
// decorates another query.Invoker and consults a Store before delegating.
package cachert

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/hanpama/typegraph/internal/ctxlog"
	"github.com/hanpama/typegraph/internal/eventbus"
	"github.com/hanpama/typegraph/internal/events"
	"github.com/hanpama/typegraph/internal/query"
	"github.com/hanpama/typegraph/internal/queryid"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// Options configures the caching decorator.
//
// Defaults:
//   - DefaultTTL: 1m, for @cacheable operations without a ttl argument
//   - StoreName:  "lru"
type Options struct {
	DefaultTTL time.Duration
	StoreName  string
	Bus        *eventbus.Bus
}

type Option func(*Options)

func WithDefaultTTL(d time.Duration) Option { return func(o *Options) { o.DefaultTTL = d } }
func WithStoreName(n string) Option         { return func(o *Options) { o.StoreName = n } }
func WithEventBus(b *eventbus.Bus) Option   { return func(o *Options) { o.Bus = b } }

// Invoker wraps next. Operations without @cacheable pass straight through.
// Store failures are logged and treated as misses; they never fail an
// invocation. Errors from next are not cached.
type Invoker struct {
	next   query.Invoker
	schema *schema.Schema
	store  Store
	opts   *Options
}

var _ query.Invoker = (*Invoker)(nil)

func New(next query.Invoker, s *schema.Schema, store Store, opts ...Option) *Invoker {
	o := &Options{DefaultTTL: time.Minute, StoreName: "lru"}
	for _, f := range opts {
		f(o)
	}
	return &Invoker{next: next, schema: s, store: store, opts: o}
}

// Name reports the wrapped invoker's name so invocation records stay
// attributed to the backend.
func (i *Invoker) Name() string {
	return query.InvokerName(i.next)
}

func (i *Invoker) CanSupport(svc *schema.Service, op *schema.Operation) bool {
	return i.next.CanSupport(svc, op)
}

// entry is the stored form of one result instance.
type entry struct {
	Collection bool `json:"c,omitempty"`
	Value      any  `json:"v"`
}

func (i *Invoker) Invoke(ctx context.Context, svc *schema.Service, op *schema.Operation, params []typed.Instance) ([]typed.Instance, error) {
	policy, ok, err := op.Metadata.Cache()
	if !ok || err != nil {
		return i.next.Invoke(ctx, svc, op, params)
	}
	ttl := policy.TTL
	if ttl <= 0 {
		ttl = i.opts.DefaultTTL
	}
	key := Key(op, params)
	logger := ctxlog.FromContext(ctx)

	data, hit, err := i.store.Get(ctx, key)
	if err != nil {
		logger.WarnContext(ctx, "cache get failed", "operation", op.QualifiedName(), "error", err)
	}
	if hit {
		out, err := i.decode(op, data)
		if err == nil {
			i.publish(ctx, op, true)
			return out, nil
		}
		logger.WarnContext(ctx, "cache entry unreadable", "operation", op.QualifiedName(), "error", err)
	}
	i.publish(ctx, op, false)

	out, err := i.next.Invoke(ctx, svc, op, params)
	if err != nil {
		return nil, err
	}
	if data, err := encode(out); err != nil {
		logger.WarnContext(ctx, "cache encode failed", "operation", op.QualifiedName(), "error", err)
	} else if err := i.store.Set(ctx, key, data, ttl); err != nil {
		logger.WarnContext(ctx, "cache set failed", "operation", op.QualifiedName(), "error", err)
	}
	return out, nil
}

func (i *Invoker) publish(ctx context.Context, op *schema.Operation, hit bool) {
	id, _ := queryid.FromContext(ctx)
	eventbus.Publish(ctx, i.opts.Bus, events.CacheLookup{
		QueryID:   id,
		Operation: op.QualifiedName(),
		Store:     i.opts.StoreName,
		Hit:       hit,
	})
}

// Key identifies an invocation by operation and parameter values.
func Key(op *schema.Operation, params []typed.Instance) string {
	d := xxhash.New()
	for _, p := range params {
		_, _ = d.WriteString(typed.Key(p))
		_, _ = d.WriteString("\x00")
	}
	return op.QualifiedName() + ":" + strconv.FormatUint(d.Sum64(), 16)
}

func encode(out []typed.Instance) ([]byte, error) {
	entries := make([]entry, len(out))
	for idx, v := range out {
		_, isColl := v.(*typed.Collection)
		entries[idx] = entry{Collection: isColl, Value: typed.ToRaw(v)}
	}
	return json.Marshal(entries)
}

func (i *Invoker) decode(op *schema.Operation, data []byte) ([]typed.Instance, error) {
	var entries []entry
	if err := typed.DecodeJSON(data, &entries); err != nil {
		return nil, err
	}
	src := typed.FromOperation(op.QualifiedName())
	out := make([]typed.Instance, len(entries))
	for idx, e := range entries {
		ref := op.Returns.Member()
		if e.Collection {
			ref = schema.ListOf(op.Returns.Name)
		}
		v, err := typed.FromRaw(i.schema, ref, e.Value, src)
		if err != nil {
			return nil, err
		}
		out[idx] = v
	}
	return out, nil
}
