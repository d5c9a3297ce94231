package source

import (
	"context"
	"time"
)

// Post is a single item from the monitored account's timeline.
type Post struct {
	ID         int64       // platform-issued, monotonically increasing
	Text       string      // full post text
	URL        string      // link to the post, if known
	CreatedAt  time.Time   // publication timestamp (zero if unknown)
	InReplyTo  string      // user ID the post replies to; empty for non-replies
	References []Reference // quoted / retweeted / replied-to posts
	Media      []Media     // attached media, in attachment order
}

// Reference links a post to another post.
type Reference struct {
	Type string // "retweeted", "quoted", "replied_to"
	ID   int64
}

// Media is one attachment on a post.
type Media struct {
	Key      string    // platform media key, unique within the post
	Type     string    // "photo", "video", "animated_gif"
	URL      string    // direct URL for photos
	Variants []Variant // renditions for videos and GIFs
}

// Variant is one rendition of a video or GIF.
type Variant struct {
	ContentType string
	Bitrate     int
	URL         string
}

// Profile describes the monitored account.
type Profile struct {
	ID           string
	Username     string
	PinnedPostID int64 // 0 when nothing is pinned
}

// IsReply reports whether the post answers another post.
func (p Post) IsReply() bool {
	return p.InReplyTo != ""
}

// IsRetweet reports whether the post repeats another account's post.
func (p Post) IsRetweet() bool {
	for _, ref := range p.References {
		if ref.Type == "retweeted" {
			return true
		}
	}
	return false
}

// Client fetches timeline data using one credential.
type Client interface {
	// Name returns a short, log-safe label for the credential.
	Name() string

	// FetchProfile resolves a username. Returns ErrNotFound if the account
	// does not exist.
	FetchProfile(ctx context.Context, username string) (Profile, error)

	// FetchRecentPosts returns up to limit posts, newest first.
	FetchRecentPosts(ctx context.Context, userID string, limit int) ([]Post, error)
}
