package dat

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"
)

// Source supplies the local path of a platform's DAT.
type Source interface {
	Ensure(ctx context.Context, key string) (string, error)
}

// Catalog caches one Index per platform for the duration of a run. Each
// platform's DAT is ensured and parsed at most once; a platform whose DAT
// could not be obtained stays failed for the rest of the run.
type Catalog struct {
	source  Source
	parser  Parser
	indexes map[string]*Index
	failed  map[string]error
}

// NewCatalog creates an empty Catalog. A nil parser selects ClrMameParser.
func NewCatalog(source Source, parser Parser) *Catalog {
	if parser == nil {
		parser = ClrMameParser{}
	}
	return &Catalog{
		source:  source,
		parser:  parser,
		indexes: make(map[string]*Index),
		failed:  make(map[string]error),
	}
}

// Index returns the platform's index, building it on first use.
func (c *Catalog) Index(ctx context.Context, key string) (*Index, error) {
	if idx, ok := c.indexes[key]; ok {
		return idx, nil
	}
	if err, ok := c.failed[key]; ok {
		return nil, err
	}

	path, err := c.source.Ensure(ctx, key)
	if err != nil {
		log.WithError(err).Warnf("Skipping %s: No DAT", key)
		c.failed[key] = err
		return nil, err
	}
	idx := LoadFile(path, c.parser)
	c.indexes[key] = idx
	return idx, nil
}

// Loaded returns the platforms whose index has been built, sorted.
func (c *Catalog) Loaded() []string {
	keys := make([]string, 0, len(c.indexes))
	for k := range c.indexes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
