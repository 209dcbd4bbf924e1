package model

import (
	"time"
)

// Timeline item source discriminators.
const (
	TimelineSourceClient   = "client"
	TimelineSourceInternal = "internal"
)

// TimelineItem is the common shape both message stores normalize to before
// merging. SortDate is always UTC; naive partner timestamps are canonicalized
// by assuming UTC at normalization time.
type TimelineItem struct {
	Source         string    `json:"source"`
	ID             int64     `json:"id"`
	Content        string    `json:"content,omitempty"`
	AuthorKind     string    `json:"author_kind,omitempty"`
	SenderID       int64     `json:"sender_id,omitempty"`
	Kind           string    `json:"kind,omitempty"`
	FileURL        string    `json:"file_url,omitempty"`
	DeliveryStatus string    `json:"delivery_status,omitempty"`
	IsSystemEntry  bool      `json:"is_system_entry,omitempty"`
	SortDate       time.Time `json:"sort_date"`
}

// TimelinePage is one descending-time page of the merged feed. NextCursor is
// the SortDate of the oldest item, to be passed back as beforeCursor for the
// following page; nil when the page is empty.
type TimelinePage struct {
	Items      []TimelineItem `json:"items"`
	HasMore    bool           `json:"has_more"`
	NextCursor *time.Time     `json:"next_cursor,omitempty"`
}
