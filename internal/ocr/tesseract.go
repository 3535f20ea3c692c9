package ocr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/book-expert/reel-service/pkg/executor"
)

const (
	defaultBinary   = "tesseract"
	defaultLanguage = "eng"
	tsvColumns      = 12
	tsvLevelWord    = "5"
	confidenceScale = 100.0
)

// TSV column positions.
const (
	colLevel = 0
	colBlock = 2
	colPar   = 3
	colLine  = 4
	colConf  = 10
	colText  = 11
)

// ErrMalformedTSV is returned when tesseract output has no TSV header.
var ErrMalformedTSV = errors.New("malformed tesseract tsv output")

// Recognition is the raw OCR result before normalization.
type Recognition struct {
	Text       string
	Confidence float64
}

// Recognizer performs OCR on an image file.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (Recognition, error)
}

// TesseractRecognizer runs the tesseract CLI in TSV mode.
type TesseractRecognizer struct {
	exec     executor.Executor
	binary   string
	language string
}

// NewTesseractRecognizer creates a recognizer. Empty binary or language select
// "tesseract" and "eng".
func NewTesseractRecognizer(exec executor.Executor, binary, language string) *TesseractRecognizer {
	if binary == "" {
		binary = defaultBinary
	}

	if language == "" {
		language = defaultLanguage
	}

	return &TesseractRecognizer{exec: exec, binary: binary, language: language}
}

// Recognize runs `tesseract <image> stdout -l <lang> tsv` and parses the result.
func (r *TesseractRecognizer) Recognize(ctx context.Context, imagePath string) (Recognition, error) {
	out, err := r.exec.Execute(ctx, r.binary, imagePath, "stdout", "-l", r.language, "tsv")
	if err != nil {
		return Recognition{}, fmt.Errorf("tesseract failed for %s: %w", imagePath, err)
	}

	return ParseTSV(out)
}

// ParseTSV assembles word rows into lines and averages their confidence into 0..1.
func ParseTSV(tsv string) (Recognition, error) {
	rows := strings.Split(strings.ReplaceAll(tsv, "\r\n", "\n"), "\n")
	if len(rows) == 0 || !strings.HasPrefix(rows[0], "level") {
		return Recognition{}, ErrMalformedTSV
	}

	var (
		lines      []string
		current    []string
		currentKey string
		confSum    float64
		words      int
	)

	for _, row := range rows[1:] {
		fields := strings.Split(row, "\t")
		if len(fields) < tsvColumns || fields[colLevel] != tsvLevelWord {
			continue
		}

		word := strings.TrimSpace(fields[colText])
		if word == "" {
			continue
		}

		conf, convErr := strconv.ParseFloat(fields[colConf], 64)
		if convErr != nil || conf < 0 {
			continue
		}

		key := fields[colBlock] + "." + fields[colPar] + "." + fields[colLine]
		if key != currentKey && len(current) > 0 {
			lines = append(lines, strings.Join(current, " "))
			current = nil
		}

		currentKey = key
		current = append(current, word)
		confSum += conf
		words++
	}

	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}

	if words == 0 {
		return Recognition{}, nil
	}

	return Recognition{
		Text:       strings.Join(lines, "\n"),
		Confidence: confSum / float64(words) / confidenceScale,
	}, nil
}
