package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedRecord reports a persisted document that cannot be decoded into
// its url and text fields.
var ErrMalformedRecord = errors.New("malformed document record")

// Record is one stored document. URL and Text are separate fields in every
// encoding, so neither can corrupt the other whatever it contains.
type Record struct {
	ID      int64     `json:"id"`
	URL     string    `json:"url"`
	Text    string    `json:"text"`
	SavedAt time.Time `json:"saved_at"`
}

// NewRecord validates and builds a record.
func NewRecord(id int64, url, text string, savedAt time.Time) (Record, error) {
	if id < 0 {
		return Record{}, fmt.Errorf("%w: negative id %d", ErrMalformedRecord, id)
	}
	if strings.TrimSpace(url) == "" {
		return Record{}, fmt.Errorf("%w: document %d has no url", ErrMalformedRecord, id)
	}
	return Record{ID: id, URL: url, Text: text, SavedAt: savedAt.UTC()}, nil
}

// Encode renders the record as JSON.
func (r Record) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode document %d: %w", r.ID, err)
	}
	return data, nil
}

// DecodeRecord parses a JSON record. Missing url or text fields and invalid
// JSON are reported as ErrMalformedRecord.
func DecodeRecord(data []byte) (Record, error) {
	var raw struct {
		ID      *int64    `json:"id"`
		URL     *string   `json:"url"`
		Text    *string   `json:"text"`
		SavedAt time.Time `json:"saved_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	switch {
	case raw.ID == nil:
		return Record{}, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	case raw.URL == nil:
		return Record{}, fmt.Errorf("%w: document %d missing url", ErrMalformedRecord, *raw.ID)
	case raw.Text == nil:
		return Record{}, fmt.Errorf("%w: document %d missing text", ErrMalformedRecord, *raw.ID)
	}
	return NewRecord(*raw.ID, *raw.URL, *raw.Text, raw.SavedAt)
}

const objectSuffix = ".json"

// ObjectName is the file or object name a document is stored under.
func ObjectName(id int64) string {
	return fmt.Sprintf("%010d%s", id, objectSuffix)
}

// ParseObjectName extracts the id from a name built by ObjectName.
func ParseObjectName(name string) (int64, bool) {
	stem, ok := strings.CutSuffix(name, objectSuffix)
	if !ok || stem == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
