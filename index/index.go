package index

import (
	"os"
	"time"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "rom-boxart.bleve"

// Item is one identified ROM in the search index. All fields are indexed
// and searchable by their lowercase JSON tag names (e.g. '+platform:gba').
type Item struct {
	ID            string    `json:"id"`   // SHA-1 of the ROM
	Type          string    `json:"type"` // Always "rom"
	Name          string    `json:"name"` // Canonical name from the DAT
	FileName      string    `json:"fileName"`
	FilePath      string    `json:"filePath"`
	DirectoryPath string    `json:"directoryPath,omitempty"`
	Platform      string    `json:"platform"`
	PlatformName  string    `json:"platformName,omitempty"`
	BoxartPath    string    `json:"boxartPath,omitempty"`
	Status        string    `json:"status"`
	Renamed       bool      `json:"renamed"`
	CRC32         string    `json:"crc32,omitempty"`
	ProcessedAt   time.Time `json:"processedAt,omitempty"`
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Infof("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		index, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		log.Debugf("Opened existing index at: %s", indexPath)
	}
	return index, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(index bleve.Index, item Item) error {
	if item.Type == "" {
		item.Type = "rom"
	}
	return index.Index(item.ID, item)
}

// SearchIndex performs a search query against the index.
func SearchIndex(index bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"}
	return index.Search(searchRequest)
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Infof("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}

// Writer adapts a bleve.Index to per-item indexing.
type Writer struct {
	Index bleve.Index
}

// NewWriter wraps idx.
func NewWriter(idx bleve.Index) *Writer {
	return &Writer{Index: idx}
}

// IndexItem adds or updates item.
func (w *Writer) IndexItem(item Item) error {
	return IndexItem(w.Index, item)
}
