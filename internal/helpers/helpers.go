package helpers

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"math"
	"os"
	"strings"

	"go-rom-boxart/internal/models"

	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"
)

// hashChunkSize is the read size used when streaming a file through the hashers.
const hashChunkSize = 8192

// HashFile reads the file once in fixed-size chunks and returns its SHA-1,
// CRC32 and BLAKE3 digests as lower-case hex.
func HashFile(path string) (models.Hashes, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Hashes{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	sha1Hasher := sha1.New()
	crc32Hasher := crc32.NewIEEE()
	blake3Hasher := blake3.New(32, nil)

	buf := make([]byte, hashChunkSize)
	w := io.MultiWriter(sha1Hasher, crc32Hasher, blake3Hasher)
	// Hide *os.File's WriterTo so CopyBuffer reads through buf.
	if _, err := io.CopyBuffer(w, struct{ io.Reader }{f}, buf); err != nil {
		return models.Hashes{}, fmt.Errorf("reading %s for hashing: %w", path, err)
	}

	return models.Hashes{
		SHA1:   hex.EncodeToString(sha1Hasher.Sum(nil)),
		CRC32:  fmt.Sprintf("%08x", crc32Hasher.Sum32()),
		BLAKE3: hex.EncodeToString(blake3Hasher.Sum(nil)),
	}, nil
}

// SHA1File returns the lower-case hex SHA-1 of the file's content.
func SHA1File(path string) (string, error) {
	hashes, err := HashFile(path)
	if err != nil {
		return "", err
	}
	return hashes.SHA1, nil
}

// CheckHash verifies a file against the provided hashes.
// Every non-empty expected hash must match; at least one must be provided.
func CheckHash(path string, expected models.Hashes) bool {
	if expected.SHA1 == "" && expected.CRC32 == "" && expected.BLAKE3 == "" {
		return false
	}
	got, err := HashFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warnf("Error hashing %s during hash check", path)
		}
		return false
	}
	if expected.SHA1 != "" && !strings.EqualFold(strings.TrimSpace(expected.SHA1), got.SHA1) {
		return false
	}
	if expected.CRC32 != "" && !strings.EqualFold(strings.TrimSpace(expected.CRC32), got.CRC32) {
		return false
	}
	if expected.BLAKE3 != "" && !strings.EqualFold(strings.TrimSpace(expected.BLAKE3), got.BLAKE3) {
		return false
	}
	return true
}

// CounterWriter tracks the number of bytes written to the underlying writer.
// OnProgress, when set, is called after every write with the running total.
type CounterWriter struct {
	Total      uint64
	Writer     io.Writer
	OnProgress func(written uint64)
}

// Write implements the io.Writer interface for CounterWriter.
func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	if cw.OnProgress != nil {
		cw.OnProgress(cw.Total)
	}
	return n, err
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// Percent returns downloaded as a whole percentage of total, or 0 when total is unknown.
func Percent(downloaded, total uint64) int {
	if total == 0 {
		return 0
	}
	return int(downloaded * 100 / total)
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
func CheckAndMakeDir(dir string) bool {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}
