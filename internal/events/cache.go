package events

// CacheLookup is emitted when a cacheable operation consults the result
// cache.
type CacheLookup struct {
	QueryID   string
	Operation string
	Store     string
	Hit       bool
}
