// Package store contains entities of the article store and clients to
// read and persist them.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Interface defines methods of the article store used by the pipeline.
type Interface interface {
	FetchLatest(ctx context.Context) (Article, error)
	Publish(ctx context.Context, draft Draft, references []string) (Article, error)
}

// Journal keeps the history of pipeline runs.
type Journal interface {
	Put(ctx context.Context, r Run) error
	List(ctx context.Context, req ListRequest) ([]Run, error)
}

// ListRequest defines parameters for listing runs from the journal.
type ListRequest struct {
	Limit int // zero means no limit
}

// Article is a record of the article store.
type Article struct {
	ID            ID     `json:"id,omitempty"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	URL           string `json:"url,omitempty"`
	Author        string `json:"author,omitempty"`
	PublishedDate *Date  `json:"published_date,omitempty"`
	References    string `json:"references,omitempty"`
	IsUpdated     bool   `json:"is_updated"`

	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Draft is a rewritten article that is not persisted yet.
type Draft struct {
	Title   string `json:"title"`
	Content string `json:"content"`

	// SourceURL links the draft to the article it was made from.
	SourceURL string `json:"-"`
}

// Run is a journal record of a completed pipeline run.
type Run struct {
	ID             string            `json:"id"`
	OriginalID     ID                `json:"original_id"`
	OriginalTitle  string            `json:"original_title"`
	PublishedID    ID                `json:"published_id"`
	PublishedTitle string            `json:"published_title"`
	References     []string          `json:"references"`
	Outcomes       map[string]string `json:"outcomes"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// ID is an opaque identifier assigned by the store.
// The store may encode it either as a number or as a string.
type ID string

// UnmarshalJSON accepts both numeric and string identifiers.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("unmarshal string id: %w", err)
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("unmarshal numeric id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Int returns the numeric value of id, if it has one.
func (id ID) Int() (int64, bool) {
	v, err := strconv.ParseInt(string(id), 10, 64)
	return v, err == nil
}

const dateLayout = "2006-01-02"

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

// MarshalJSON encodes the date as YYYY-MM-DD.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(dateLayout))
}

// UnmarshalJSON decodes YYYY-MM-DD dates as well as full timestamps,
// the time of day is dropped.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("unmarshal date: %w", err)
	}

	if s == "" {
		d.Time = time.Time{}
		return nil
	}

	for _, layout := range []string{dateLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return nil
		}
	}

	return fmt.Errorf("unsupported date format %q", s)
}

// NotFoundError is returned when the store has nothing to return.
type NotFoundError struct {
	Resource string
	Message  string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Message)
}

// UpstreamError is returned when the store is unreachable or rejects a request.
type UpstreamError struct {
	Op         string
	StatusCode int // zero if no response was received
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	msg := "store " + e.Op + " failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(", status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error { return e.Err }
