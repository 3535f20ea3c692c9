// Package fsutil provides path, naming and formatting helpers shared by the pipeline
// stages.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Directory and naming constants.
const (
	DirPermissions         = 0o750
	FilePermissions        = 0o640
	invalidCharReplacement = "_"
	emptyName              = "item"
	hashSuffixLength       = 8
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

var nameReplacer = strings.NewReplacer(
	"<", invalidCharReplacement,
	">", invalidCharReplacement,
	":", invalidCharReplacement,
	"\"", invalidCharReplacement,
	"/", invalidCharReplacement,
	"\\", invalidCharReplacement,
	"|", invalidCharReplacement,
	"?", invalidCharReplacement,
	"*", invalidCharReplacement,
	" ", invalidCharReplacement,
	"\x00", invalidCharReplacement,
)

// EnsureDir creates path and its parents if they do not exist.
func EnsureDir(path string) error {
	mkdirErr := os.MkdirAll(path, DirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, mkdirErr)
	}

	return nil
}

// SanitizeName maps an item ID to a single safe path component. IDs that needed
// rewriting get a short hash of the original appended, so two distinct IDs never
// map to the same name.
func SanitizeName(name string) string {
	cleaned := strings.TrimLeft(nameReplacer.Replace(name), ".")
	if cleaned == name && cleaned != "" {
		return cleaned
	}

	if cleaned == "" {
		cleaned = emptyName
	}

	sum := sha256.Sum256([]byte(name))

	return cleaned + "-" + hex.EncodeToString(sum[:])[:hashSuffixLength]
}

// ItemDir is the per-item scratch directory inside a job's scratch directory.
func ItemDir(scratchDir, itemID string) string {
	return filepath.Join(scratchDir, SanitizeName(itemID))
}

// FormatDuration formats a duration for logs, e.g. "45.2s", "5m 30.5s", "1h 15m".
func FormatDuration(duration time.Duration) string {
	seconds := duration.Seconds()
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a byte count, e.g. "1.2 GB", "500.5 MB".
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}
