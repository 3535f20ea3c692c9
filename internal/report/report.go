// Package report writes job results to disk as JSON or YAML.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/reel-service/internal/fsutil"
	"github.com/book-expert/reel-service/internal/service"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for a report path that is neither .json nor .yaml.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// Encode renders result in the format selected by the extension of path.
func Encode(path string, result *service.Result) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode json report: %w", err)
		}

		return append(data, '\n'), nil
	case ".yaml", ".yml":
		data, err := yaml.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode yaml report: %w", err)
		}

		return data, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
}

// Write stores the report at path, replacing any previous file.
func Write(path string, result *service.Result) error {
	data, err := Encode(path, result)
	if err != nil {
		return err
	}

	err = fsutil.EnsureDir(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	tmpPath := path + ".tmp"

	err = os.WriteFile(tmpPath, data, fsutil.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to move report into place: %w", err)
	}

	return nil
}
