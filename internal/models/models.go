package models

import "time"

type (
	Config struct {
		// Paths
		RomPath        string `toml:"RomPath"`
		SdcardPath     string `toml:"SdcardPath"`
		DatabasePath   string `toml:"DatabasePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`
		DatSubdir      string `toml:"DatSubdir"`    // Relative to SdcardPath
		BoxartSubdir   string `toml:"BoxartSubdir"` // Relative to SdcardPath
		ErrorLogPath   string `toml:"ErrorLogPath"`

		// Remote sources
		DatBaseURL       string `toml:"DatBaseURL"`
		ThumbnailBaseURL string `toml:"ThumbnailBaseURL"`

		// Processing behavior
		Rename            bool   `toml:"Rename"`
		ErrorLog          bool   `toml:"ErrorLog"`
		MinThumbnailBytes int64  `toml:"MinThumbnailBytes"`
		DatParser         string `toml:"DatParser"` // "clrmame" (default) or "line"

		// HTTP
		ApiClientTimeoutSec int  `toml:"ApiClientTimeoutSec"` // 0 disables the client timeout
		LogApiRequests      bool `toml:"LogApiRequests"`
	}

	// RomFile is a file discovered under the ROM directory. Path changes
	// only when the file is renamed to its canonical name.
	RomFile struct {
		Path     string
		Platform string
	}

	// Hashes holds the digests computed for a ROM in a single read.
	Hashes struct {
		SHA1   string `json:"sha1"`
		CRC32  string `json:"crc32"`
		BLAKE3 string `json:"blake3"`
	}

	// ErrorLogEntry describes a ROM whose box art could not be located.
	ErrorLogEntry struct {
		OriginalName  string
		SHA1          string
		CanonicalName string
	}

	// HistoryEntry is the record stored in the history database for
	// every ROM the process command has handled.
	HistoryEntry struct {
		RunID         string    `json:"runId"`
		Platform      string    `json:"platform"`
		OriginalPath  string    `json:"originalPath"`
		Path          string    `json:"path"`
		CanonicalName string    `json:"canonicalName,omitempty"`
		Hashes        Hashes    `json:"hashes"`
		BoxartPath    string    `json:"boxartPath,omitempty"`
		Status        string    `json:"status"`
		Renamed       bool      `json:"renamed"`
		ErrorDetails  string    `json:"errorDetails,omitempty"`
		ProcessedAt   time.Time `json:"processedAt"`
	}
)

// History statuses.
const (
	StatusUnmatched    = "Unmatched"
	StatusBoxartSaved  = "BoxartSaved"
	StatusBoxartExists = "BoxartExists"
	StatusBoxartMissed = "BoxartMissing"
	StatusFailed       = "Failed"
)
