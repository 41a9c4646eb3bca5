// Package catalog supplies the base vector documents that exports start from.
//
// The catalog is read-only from the pipeline's point of view: products are
// published by some other process and looked up by ID.
package catalog

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/matzehuels/vectorprint/pkg/errors"
)

// ErrNotFound is returned when a product has no base document.
var ErrNotFound = stderrors.New("product not found")

// Catalog looks up base documents by product ID.
type Catalog interface {
	FetchBaseDocument(ctx context.Context, productID string) (string, error)
}

// DirCatalog serves <dir>/<productID>.svg files.
type DirCatalog struct {
	dir string
}

// NewDirCatalog returns a catalog rooted at dir. The directory must exist.
func NewDirCatalog(dir string) (*DirCatalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog directory: %s is not a directory", dir)
	}
	return &DirCatalog{dir: dir}, nil
}

// Dir returns the catalog root.
func (c *DirCatalog) Dir() string { return c.dir }

// FetchBaseDocument reads the product's SVG source.
func (c *DirCatalog) FetchBaseDocument(ctx context.Context, productID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := errors.ValidateProductID(productID); err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(c.dir, productID+".svg"))
	if stderrors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, productID)
	}
	if err != nil {
		return "", fmt.Errorf("read base document %s: %w", productID, err)
	}
	return string(data), nil
}

// List returns the product IDs in the catalog, sorted.
func (c *DirCatalog) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".svg") {
			continue
		}
		id := strings.TrimSuffix(name, ".svg")
		if errors.ValidateProductID(id) == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// MapCatalog is an in-memory catalog.
type MapCatalog struct {
	mu   sync.RWMutex
	docs map[string]string
}

// NewMapCatalog copies docs into a new catalog.
func NewMapCatalog(docs map[string]string) *MapCatalog {
	c := &MapCatalog{docs: make(map[string]string, len(docs))}
	for id, src := range docs {
		c.docs[id] = src
	}
	return c
}

// Put adds or replaces a product.
func (c *MapCatalog) Put(productID, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[productID] = source
}

// FetchBaseDocument implements Catalog.
func (c *MapCatalog) FetchBaseDocument(ctx context.Context, productID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	src, ok := c.docs[productID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, productID)
	}
	return src, nil
}

var (
	_ Catalog = (*DirCatalog)(nil)
	_ Catalog = (*MapCatalog)(nil)
)
