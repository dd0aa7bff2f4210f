package build

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/jrick/logrotate/rotator"
	"github.com/klauspost/compress/zstd"
)

// Redacted replaces scrubbed secrets in the log file.
const Redacted = "[redacted]"

// secretHex matches a standalone 32 byte hex string: a private key, a cloud
// storage encryption key or a PAKE secret. Compressed public keys are 33
// bytes and are left alone.
var secretHex = regexp.MustCompile(`\b[0-9a-fA-F]{64}\b`)

// ScrubSecrets masks every 32 byte hex string in line.
func ScrubSecrets(line []byte) []byte {
	return secretHex.ReplaceAllLiteral(line, []byte(Redacted))
}

// LogFile is the size-rotated log file of the recovery tooling. It is only
// readable by its owner and key material is scrubbed from every line before
// it is written.
type LogFile struct {
	mu      sync.Mutex
	rotator *rotator.Rotator

	path      string
	size      int64
	threshold int64
}

// OpenLogFile opens, or creates, the log file at path. Rolled files are
// kept next to it and compressed with the configured compressor. The file
// must be closed on shutdown by calling Close.
func OpenLogFile(cfg *FileLoggerConfig, path string) (*LogFile, error) {
	if !SupportedLogCompressor(cfg.Compressor) {
		return nil, fmt.Errorf("unknown log compressor: %v",
			cfg.Compressor)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Rolled and compressed files are created world readable, so the
	// directory has to keep them private.
	if err := os.Chmod(dir, 0700); err != nil {
		return nil, fmt.Errorf("unable to restrict log directory: %w", err)
	}

	threshold := int64(cfg.MaxLogFileSize * 1024)
	r, err := rotator.New(
		path, threshold, false, cfg.MaxLogFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create file rotator: %w", err)
	}

	// The rotator creates the file world readable.
	if err := os.Chmod(path, 0600); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("unable to restrict log file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	var c rotator.Compressor
	switch cfg.Compressor {
	case Gzip:
		c = gzip.NewWriter(nil)

	case Zstd:
		c, err = zstd.NewWriter(nil)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("failed to create zstd "+
				"compressor: %w", err)
		}
	}
	r.SetCompressor(c, logCompressors[cfg.Compressor])

	return &LogFile{
		rotator: r,
		path:    path,
		size:    info.Size(),

		// The rotator counts its threshold in units of 1000 bytes.
		threshold: threshold * 1000,
	}, nil
}

// Write scrubs p and appends it to the log file. The returned count is that
// of p, so callers never see the length change of a scrubbed line.
func (f *LogFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	line := ScrubSecrets(p)
	n, err := f.rotator.Write(line)
	if err != nil {
		return 0, err
	}
	f.size += int64(n)

	// Mirror the rotator's rollover rule. The fresh file it opens is world
	// readable again.
	if f.size >= f.threshold && n > 0 && line[len(line)-1] == '\n' {
		f.size = 0
		if err := os.Chmod(f.path, 0600); err != nil {
			return 0, fmt.Errorf("unable to restrict log file: %w",
				err)
		}
	}

	return len(p), nil
}

// Close closes the log file and waits for a running compression.
func (f *LogFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.rotator.Close()
}
