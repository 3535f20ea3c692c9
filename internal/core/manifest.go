package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Status is the terminal outcome recorded for an item.
type Status string

// Manifest statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// SkipReasonNoText is the skip detail for items whose OCR produced no text.
const SkipReasonNoText = "no text found"

var (
	// ErrEntryExists is returned when an item already has a terminal entry.
	ErrEntryExists = errors.New("manifest entry already recorded")
	// ErrEntryIndex is returned for an index outside the manifest.
	ErrEntryIndex = errors.New("manifest index out of range")
)

// Entry is one item's terminal record.
type Entry struct {
	ItemID string `json:"item_id" yaml:"item_id"`
	URL    string `json:"url" yaml:"url"`
	Status Status `json:"status" yaml:"status"`
	// Stage is the state the item failed in; empty unless Status is failed.
	Stage  State          `json:"stage,omitempty" yaml:"stage,omitempty"`
	Kind   Kind           `json:"kind,omitempty" yaml:"kind,omitempty"`
	Detail string         `json:"detail,omitempty" yaml:"detail,omitempty"`
	Video  *ComposedVideo `json:"video,omitempty" yaml:"video,omitempty"`
}

// Manifest is the ordered list of terminal entries of a job, one per fetched item.
type Manifest struct {
	JobID   string  `json:"job_id" yaml:"job_id"`
	Entries []Entry `json:"entries" yaml:"entries"`

	recorded []bool
}

// NewManifest creates a manifest with one empty slot per item, in fetch order.
func NewManifest(jobID string, items []SourceItem) *Manifest {
	entries := make([]Entry, len(items))
	for i, item := range items {
		entries[i] = Entry{ItemID: item.ID, URL: item.URL}
	}

	return &Manifest{
		JobID:    jobID,
		Entries:  entries,
		recorded: make([]bool, len(items)),
	}
}

// Record stores the terminal entry for slot index. A slot is written once.
func (m *Manifest) Record(index int, entry Entry) error {
	if index < 0 || index >= len(m.Entries) {
		return fmt.Errorf("%w: %d", ErrEntryIndex, index)
	}

	if m.recorded[index] {
		return fmt.Errorf("%w: %s", ErrEntryExists, m.Entries[index].ItemID)
	}

	entry.ItemID = m.Entries[index].ItemID
	entry.URL = m.Entries[index].URL
	m.Entries[index] = entry
	m.recorded[index] = true

	return nil
}

// Recorded reports whether slot index holds a terminal entry.
func (m *Manifest) Recorded(index int) bool {
	return index >= 0 && index < len(m.recorded) && m.recorded[index]
}

// Complete reports whether every item has a terminal entry.
func (m *Manifest) Complete() bool {
	for _, done := range m.recorded {
		if !done {
			return false
		}
	}

	return true
}

// Counts returns the number of entries per status.
func (m *Manifest) Counts() (succeeded, skipped, failed int) {
	for _, entry := range m.Entries {
		switch entry.Status {
		case StatusSucceeded:
			succeeded++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}

	return succeeded, skipped, failed
}

// Videos returns the composed videos in manifest order.
func (m *Manifest) Videos() []ComposedVideo {
	var videos []ComposedVideo

	for _, entry := range m.Entries {
		if entry.Status == StatusSucceeded && entry.Video != nil {
			videos = append(videos, *entry.Video)
		}
	}

	return videos
}

// Summary renders e.g. "7 succeeded, 2 skipped (no text found), 1 failed (synthesis rejected)".
func (m *Manifest) Summary() string {
	succeeded, skipped, failed := m.Counts()

	skipReasons := make(map[string]int)
	failReasons := make(map[string]int)

	for _, entry := range m.Entries {
		switch entry.Status {
		case StatusSkipped:
			skipReasons[entry.Detail]++
		case StatusFailed:
			failReasons[entry.Kind.Describe()]++
		}
	}

	parts := []string{fmt.Sprintf("%d succeeded", succeeded)}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped (%s)", skipped, joinReasons(skipReasons)))
	}

	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed (%s)", failed, joinReasons(failReasons)))
	}

	return strings.Join(parts, ", ")
}

func joinReasons(reasons map[string]int) string {
	if len(reasons) == 1 {
		for reason := range reasons {
			return reason
		}
	}

	names := make([]string, 0, len(reasons))
	for reason := range reasons {
		names = append(names, reason)
	}

	sort.Slice(names, func(i, j int) bool {
		if reasons[names[i]] != reasons[names[j]] {
			return reasons[names[i]] > reasons[names[j]]
		}

		return names[i] < names[j]
	})

	labelled := make([]string, len(names))
	for i, name := range names {
		labelled[i] = fmt.Sprintf("%d %s", reasons[name], name)
	}

	return strings.Join(labelled, ", ")
}
