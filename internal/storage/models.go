package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Option struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"questionId,omitempty"`
	Text       string `json:"text"`
}

type Question struct {
	ID      int64    `json:"id"`
	Type    string   `json:"type"`
	Title   string   `json:"title,omitempty"`
	Options []Option `json:"options"`
}

// PollRecord is the cached snapshot of a poll. The remote API sends either
// "id" or "pollId"; PollID is the key and is always populated on write.
type PollRecord struct {
	PollID       int64      `json:"pollId"`
	ID           int64      `json:"id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status,omitempty"`
	Questions    []Question `json:"questions"`
	UpdatedAt    string     `json:"updatedAt,omitempty"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	FetchedAt    int64      `json:"fetchedAt"`
	ThumbnailRef string     `json:"thumbnailRef,omitempty"`
}

func (p *PollRecord) Key() string {
	return PollKey(p.PollID)
}

type Attachment struct {
	ID        string `json:"id"`
	Blob      []byte `json:"blob"`
	MimeType  string `json:"mimeType"`
	CreatedAt int64  `json:"createdAt"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
)

// Eligible reports whether an item in this state may be picked up by a drain.
func (s Status) Eligible() bool {
	return s == StatusPending || s == StatusFailed
}

type QueueItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"`
	Attempts  int             `json:"attempts"`
	Status    Status          `json:"status"`
	LastError string          `json:"lastError,omitempty"`
}

func PollKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func ThumbnailKey(pollID int64) string {
	return fmt.Sprintf("thumb_%d", pollID)
}

// Millis converts t to the epoch-millisecond timestamps stored in records.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
