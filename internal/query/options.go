package query

import "github.com/hanpama/typegraph/internal/eventbus"

// Options configure an Engine.
type Options struct {
	// MaxSearchAttempts caps the number of paths proposed per goal search.
	MaxSearchAttempts int
	// ExploredCacheSize bounds the per-query memo of failed path signatures.
	ExploredCacheSize int
	// MaxDepth caps sub-query nesting.
	MaxDepth int
	// Concurrency bounds the goals of one batch, and the parameters of one
	// invocation, handled at the same time. 1 keeps resolution sequential and
	// deterministic.
	Concurrency int
	// CollectionFanOut adds each member of a collection result as its own
	// fact, in addition to the collection.
	CollectionFanOut bool
	// FailedEdgePenalty is added to the weight of the edge a path failed on.
	FailedEdgePenalty int
	// Bus receives query events. Nil disables publishing.
	Bus *eventbus.Bus
}

func defaultOptions() Options {
	return Options{
		MaxSearchAttempts: 25,
		ExploredCacheSize: 512,
		MaxDepth:          8,
		Concurrency:       1,
		FailedEdgePenalty: 10,
	}
}

type Option func(*Options)

func WithMaxSearchAttempts(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxSearchAttempts = n
		}
	}
}

func WithExploredCacheSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.ExploredCacheSize = n
		}
	}
}

func WithMaxDepth(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxDepth = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithCollectionFanOut makes collection results also contribute one fact per
// member.
func WithCollectionFanOut(enabled bool) Option {
	return func(o *Options) { o.CollectionFanOut = enabled }
}

func WithFailedEdgePenalty(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.FailedEdgePenalty = n
		}
	}
}

func WithEventBus(b *eventbus.Bus) Option {
	return func(o *Options) { o.Bus = b }
}
