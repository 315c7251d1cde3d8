package events

import "time"

// QueryStart is emitted before a top-level query is resolved.
type QueryStart struct {
	QueryID string
	Goals   []string
	Facts   int
}

// QueryFinish is emitted after a top-level query completes.
type QueryFinish struct {
	QueryID     string
	Goals       []string
	Unmatched   []string
	Invocations int
	Err         error
	Duration    time.Duration
}

// SubQuery is emitted when the engine issues a nested search for parameter
// or attribute types.
type SubQuery struct {
	QueryID string
	Goals   []string
	Depth   int
}

// EdgeEvaluated is emitted for every graph edge the search evaluates.
type EdgeEvaluated struct {
	QueryID      string
	Relationship string
	From         string
	To           string
	OK           bool
	Reason       string
}

// InvocationStart is emitted before an operation is dispatched to an invoker.
type InvocationStart struct {
	QueryID   string
	Service   string
	Operation string
	Invoker   string
}

// InvocationFinish is emitted after an invoker returns.
type InvocationFinish struct {
	QueryID   string
	Service   string
	Operation string
	Invoker   string
	Results   int
	Cached    bool
	Err       error
	Duration  time.Duration
}

// ViolationResolved is emitted when a parameter value was repaired.
type ViolationResolved struct {
	QueryID    string
	Operation  string
	Parameter  string
	RepairedBy string
	Err        error
}
