package models

import (
	"time"
)

// Visibility is the audience of a published status
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

// Account identifies a platform account
type Account struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
}

// RawPost is a status as returned by the platform, content still HTML
type RawPost struct {
	ID           string     `json:"id"`
	Content      string     `json:"content"`
	AuthorID     string     `json:"author_id"`
	AuthorHandle string     `json:"author_handle"`
	CreatedAt    time.Time  `json:"created_at"`
	InReplyToID  string     `json:"in_reply_to_id,omitempty"`
	Visibility   Visibility `json:"visibility"`
	Favourites   int        `json:"favourites"`
	Reblogs      int        `json:"reblogs"`
	Replies      int        `json:"replies"`
	Tags         []string   `json:"tags,omitempty"`
}

// Engagement is favourites plus reblogs
func (p RawPost) Engagement() int {
	return p.Favourites + p.Reblogs
}

// PostRecord is a normalized post. It lives for one processing cycle.
type PostRecord struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	AuthorHandle string    `json:"author"`
	CreatedAt    time.Time `json:"created_at"`
	Keywords     []string  `json:"keywords"`
	Raw          *RawPost  `json:"-"`
}

// RawConversation is a direct-message thread
type RawConversation struct {
	ID         string    `json:"id"`
	Unread     bool      `json:"unread"`
	Accounts   []Account `json:"accounts"`
	LastStatus *RawPost  `json:"last_status"`
}

// TrendingTag is a hashtag surfaced by the platform
type TrendingTag struct {
	Name   string `json:"name"`
	Volume int    `json:"volume"`
}

// Image is an optional visual input for generation
type Image struct {
	Data        []byte `json:"-"`
	MIMEType    string `json:"mime_type"`
	Description string `json:"description"`
}

// LogEntry is one line of the operator feed
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}
