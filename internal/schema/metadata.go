package schema

import (
	"fmt"
	"time"
)

// Annotation is one metadata tag attached to a type, service, operation or
// parameter. Args keep the literal values from the schema source.
type Annotation struct {
	Name string
	Args map[string]any
}

// String returns the string argument key, or "".
func (a Annotation) String(key string) string {
	if v, ok := a.Args[key].(string); ok {
		return v
	}
	return ""
}

// Metadata is an ordered list of annotations. Known annotation kinds have
// typed accessors; anything else stays reachable through Get.
type Metadata []Annotation

// Get returns the first annotation with the given name.
func (m Metadata) Get(name string) (Annotation, bool) {
	for _, a := range m {
		if a.Name == name {
			return a, true
		}
	}
	return Annotation{}, false
}

// Has reports whether an annotation with the given name is present.
func (m Metadata) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

const (
	AnnotationHTTP      = "http"
	AnnotationGRPC      = "grpc"
	AnnotationNATS      = "nats"
	AnnotationSQL       = "sql"
	AnnotationCacheable = "cacheable"
)

// HTTPBinding binds an operation to an HTTP endpoint.
type HTTPBinding struct {
	Method string
	URL    string
}

// HTTP returns the @http binding, defaulting the method to GET.
func (m Metadata) HTTP() (HTTPBinding, bool) {
	a, ok := m.Get(AnnotationHTTP)
	if !ok {
		return HTTPBinding{}, false
	}
	b := HTTPBinding{Method: a.String("method"), URL: a.String("url")}
	if b.Method == "" {
		b.Method = "GET"
	}
	return b, true
}

// GRPCBinding binds an operation to a gRPC method. Empty fields are derived
// from the service and operation names.
type GRPCBinding struct {
	Service string
	Method  string
}

func (m Metadata) GRPC() (GRPCBinding, bool) {
	a, ok := m.Get(AnnotationGRPC)
	if !ok {
		return GRPCBinding{}, false
	}
	return GRPCBinding{Service: a.String("service"), Method: a.String("method")}, true
}

// NATSBinding binds an operation to a request/reply subject.
type NATSBinding struct {
	Subject string
}

func (m Metadata) NATS() (NATSBinding, bool) {
	a, ok := m.Get(AnnotationNATS)
	if !ok {
		return NATSBinding{}, false
	}
	return NATSBinding{Subject: a.String("subject")}, true
}

// SQLBinding binds an operation to a parameterized query.
type SQLBinding struct {
	Query string
}

func (m Metadata) SQL() (SQLBinding, bool) {
	a, ok := m.Get(AnnotationSQL)
	if !ok {
		return SQLBinding{}, false
	}
	return SQLBinding{Query: a.String("query")}, true
}

// CachePolicy marks an operation's results as cacheable.
type CachePolicy struct {
	TTL time.Duration
}

func (m Metadata) Cache() (CachePolicy, bool, error) {
	a, ok := m.Get(AnnotationCacheable)
	if !ok {
		return CachePolicy{}, false, nil
	}
	raw := a.String("ttl")
	if raw == "" {
		return CachePolicy{}, true, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return CachePolicy{}, true, fmt.Errorf("@cacheable ttl %q: %w", raw, err)
	}
	return CachePolicy{TTL: d}, true, nil
}
