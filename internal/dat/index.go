// Package dat downloads No-Intro DAT files and turns them into
// checksum to canonical-name indexes.
package dat

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Index maps lower-case SHA-1 hex digests to canonical release names.
type Index struct {
	entries    map[string]string
	overwrites int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[string]string)}
}

// Add stores name under sha1. A later Add for the same checksum replaces the
// earlier name.
func (i *Index) Add(sha1, name string) {
	key := strings.ToLower(sha1)
	if _, exists := i.entries[key]; exists {
		i.overwrites++
	}
	i.entries[key] = name
}

// Lookup returns the canonical name recorded for sha1.
func (i *Index) Lookup(sha1 string) (string, bool) {
	if i == nil {
		return "", false
	}
	name, ok := i.entries[strings.ToLower(sha1)]
	return name, ok
}

// Len returns the number of distinct checksums.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.entries)
}

// Overwrites returns how many Add calls replaced an existing checksum.
func (i *Index) Overwrites() int {
	if i == nil {
		return 0
	}
	return i.overwrites
}

// Entries returns a copy of the checksum to name mapping.
func (i *Index) Entries() map[string]string {
	out := make(map[string]string, i.Len())
	if i == nil {
		return out
	}
	for k, v := range i.entries {
		out[k] = v
	}
	return out
}

// LoadFile parses the DAT at path. Any failure is logged and yields an empty
// index so that a bad DAT never aborts the run.
func LoadFile(path string, parser Parser) *Index {
	log.Infof("Loading DAT file: %s", path)
	idx, err := loadFile(path, parser)
	if err != nil {
		log.WithError(err).Errorf("Failed to parse %s", path)
		return NewIndex()
	}
	if idx.Overwrites() > 0 {
		log.Debugf("%s: %d duplicate checksum(s) replaced by later entries", path, idx.Overwrites())
	}
	log.Infof("Loaded %d hashes.", idx.Len())
	return idx
}

func loadFile(path string, parser Parser) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening DAT %s: %w", path, err)
	}
	defer f.Close()
	return parser.Parse(f)
}
