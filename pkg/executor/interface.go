// Package executor runs external command-line tools such as tesseract and ffmpeg.
package executor

import "context"

// Executor runs an external command and returns its standard output.
type Executor interface {
	Execute(ctx context.Context, name string, args ...string) (string, error)
}
