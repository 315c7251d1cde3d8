package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPattern selects schema documents under a root directory.
const DefaultPattern = "**/*.graphql"

// SourceMetadata describes one schema document.
type SourceMetadata struct {
	Name string
	Path string
}

// Discovery lists and reads schema documents.
type Discovery interface {
	ListSources(ctx context.Context) ([]*SourceMetadata, error)
	ReadSource(ctx context.Context, name string) (string, error)
}

// FileSystemDiscovery finds schema documents under a root directory whose
// slash-separated relative path matches a doublestar pattern.
type FileSystemDiscovery struct {
	root    string
	sources map[string]*SourceMetadata
}

func NewFileSystemDiscovery(ctx context.Context, rootDir, pattern string) (*FileSystemDiscovery, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid schema pattern %q", pattern)
	}
	d := &FileSystemDiscovery{root: rootDir, sources: make(map[string]*SourceMetadata)}
	err := filepath.WalkDir(rootDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(rootDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %q: %w", path, err)
		}
		rel = filepath.ToSlash(rel)
		ok, err := doublestar.Match(pattern, rel)
		if err != nil {
			return err
		}
		if ok {
			d.sources[rel] = &SourceMetadata{Name: rel, Path: path}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk schema root %q: %w", rootDir, err)
	}
	return d, nil
}

// ListSources returns the matched documents sorted by name.
func (d *FileSystemDiscovery) ListSources(ctx context.Context) ([]*SourceMetadata, error) {
	return sortedSources(d.sources), nil
}

func (d *FileSystemDiscovery) ReadSource(ctx context.Context, name string) (string, error) {
	src, ok := d.sources[name]
	if !ok {
		return "", fmt.Errorf("schema source %q not found", name)
	}
	content, err := os.ReadFile(src.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read schema source %q: %w", name, err)
	}
	return string(content), nil
}

// InMemorySource is a named schema document held in memory.
type InMemorySource struct {
	Name    string
	Content string
}

// InMemoryDiscovery serves schema documents from memory.
type InMemoryDiscovery struct {
	sources  map[string]*SourceMetadata
	contents map[string]string
}

func NewInMemoryDiscovery(srcs ...InMemorySource) *InMemoryDiscovery {
	d := &InMemoryDiscovery{
		sources:  make(map[string]*SourceMetadata, len(srcs)),
		contents: make(map[string]string, len(srcs)),
	}
	for _, s := range srcs {
		d.sources[s.Name] = &SourceMetadata{Name: s.Name, Path: s.Name}
		d.contents[s.Name] = s.Content
	}
	return d
}

func (d *InMemoryDiscovery) ListSources(ctx context.Context) ([]*SourceMetadata, error) {
	return sortedSources(d.sources), nil
}

func (d *InMemoryDiscovery) ReadSource(ctx context.Context, name string) (string, error) {
	content, ok := d.contents[name]
	if !ok {
		return "", fmt.Errorf("schema source %q not found", name)
	}
	return content, nil
}

func sortedSources(m map[string]*SourceMetadata) []*SourceMetadata {
	out := make([]*SourceMetadata, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load discovers and builds the schema found under rootDir.
func Load(ctx context.Context, rootDir, pattern string) (*Schema, error) {
	d, err := NewFileSystemDiscovery(ctx, rootDir, pattern)
	if err != nil {
		return nil, err
	}
	return Build(ctx, d)
}
