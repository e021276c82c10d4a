package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed == 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsed
	return FormatBytes(uint64(bps)) + "/s"
}

// TempPath returns the partial file used while outputPath is being fetched.
func TempPath(outputPath string) string {
	tempDir := filepath.Join(filepath.Dir(outputPath), TempDirName)
	return filepath.Join(tempDir, filepath.Base(outputPath)+".part")
}

// RemoveTempDir removes the temp directory next to outputPath if it is empty.
func RemoveTempDir(outputPath string) error {
	return removeIfEmpty(filepath.Join(filepath.Dir(outputPath), TempDirName))
}

// CleanDir removes every partial file below dir.
func CleanDir(dir string) (int, error) {
	removed := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == TempDirName {
			entries, err := os.ReadDir(path)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				if strings.HasSuffix(entry.Name(), ".part") {
					if err := os.Remove(filepath.Join(path, entry.Name())); err != nil {
						return err
					}
					removed++
				}
			}
			if err := removeIfEmpty(path); err != nil {
				return err
			}
			return filepath.SkipDir
		}
		return nil
	})
	return removed, err
}

func removeIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return os.Remove(dir)
	}
	return nil
}

// CopyWithProgress streams r into a fresh file at dst. Each write is
// reported through progress as a running total.
func CopyWithProgress(ctx context.Context, r io.Reader, dst string, total int64, progress ProgressFunc) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("error creating temp directory: %w", err)
	}
	outFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("error creating output file: %w", err)
	}
	defer outFile.Close()

	buffer := make([]byte, DefaultBufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		bytesRead, readErr := r.Read(buffer)
		if bytesRead > 0 {
			if _, writeErr := outFile.Write(buffer[:bytesRead]); writeErr != nil {
				return written, fmt.Errorf("error writing to output file: %w", writeErr)
			}
			written += int64(bytesRead)
			if progress != nil {
				progress(written, total)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return written, fmt.Errorf("error reading source: %w", readErr)
		}
	}
	if err := outFile.Sync(); err != nil {
		return written, fmt.Errorf("error syncing output file: %w", err)
	}
	log.Debug().Str("op", "utils/functions").Msgf("Wrote %s to %s", FormatBytes(uint64(written)), dst)
	return written, nil
}
