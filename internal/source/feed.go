package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const (
	feedFetchTimeout = 30 * time.Second
	feedUserAgent    = "Mozilla/5.0 (compatible; relaypan/1.0; +https://github.com/ppiankov/relaypan)"
	usernamePattern  = "{username}"
	feedMaxRetries   = 3

	feedReplyPrefix   = "R to @"
	feedRetweetPrefix = "RT by @"
)

var (
	statusIDRe   = regexp.MustCompile(`/status(?:es)?/(\d+)`)
	whitespaceRe = regexp.MustCompile(`\s{3,}`)
)

// FeedClient reads a timeline from an RSS mirror of the platform. The mirror
// URL contains a {username} placeholder.
type FeedClient struct {
	label       string
	urlTemplate string
	client      *http.Client

	mu     sync.Mutex
	cached map[string]*gofeed.Feed
}

// NewFeed creates a mirror-backed client.
func NewFeed(label, urlTemplate string) (*FeedClient, error) {
	if !strings.Contains(urlTemplate, usernamePattern) {
		return nil, fmt.Errorf("feed: url %q must contain %s", urlTemplate, usernamePattern)
	}
	if _, err := url.Parse(strings.ReplaceAll(urlTemplate, usernamePattern, "x")); err != nil {
		return nil, fmt.Errorf("feed: parse url: %w", err)
	}
	return &FeedClient{
		label:       label,
		urlTemplate: urlTemplate,
		client: &http.Client{
			Timeout:   feedFetchTimeout,
			Transport: &feedTransport{base: http.DefaultTransport},
		},
		cached: make(map[string]*gofeed.Feed),
	}, nil
}

func (f *FeedClient) Name() string {
	return f.label
}

// FetchProfile loads the mirror feed for username. Mirrors do not expose the
// pinned post, so PinnedPostID is always 0. The feed is kept for the
// following FetchRecentPosts call so one attempt costs one request.
func (f *FeedClient) FetchProfile(ctx context.Context, username string) (Profile, error) {
	feed, err := f.fetch(ctx, username)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch feed for %s: %w", username, err)
	}

	f.mu.Lock()
	f.cached[username] = feed
	f.mu.Unlock()

	return Profile{ID: username, Username: username}, nil
}

// FetchRecentPosts returns posts from the mirror feed. userID is the username
// returned by FetchProfile.
func (f *FeedClient) FetchRecentPosts(ctx context.Context, userID string, limit int) ([]Post, error) {
	f.mu.Lock()
	feed, ok := f.cached[userID]
	delete(f.cached, userID)
	f.mu.Unlock()

	if !ok {
		var err error
		feed, err = f.fetch(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("fetch feed for %s: %w", userID, err)
		}
	}

	posts := postsFromFeed(feed)
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// feedSleep is the retry backoff delay. Tests replace it.
var feedSleep = time.Sleep

// fetch retries server errors and timeouts with 1s, 2s backoff. A 429 is
// returned at once so the caller can cool the credential down.
func (f *FeedClient) fetch(ctx context.Context, username string) (*gofeed.Feed, error) {
	var lastErr error
	for attempt := 0; attempt < feedMaxRetries; attempt++ {
		feed, err := f.fetchOnce(ctx, username)
		if err == nil {
			return feed, nil
		}
		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt < feedMaxRetries-1 {
			feedSleep(time.Duration(1<<uint(attempt)) * time.Second)
		}
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "timeout") || strings.Contains(s, "Timeout") ||
		strings.Contains(s, "connection refused") || strings.Contains(s, "no such host")
}

func (f *FeedClient) fetchOnce(ctx context.Context, username string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, feedFetchTimeout)
	defer cancel()

	feedURL := strings.ReplaceAll(f.urlTemplate, usernamePattern, url.PathEscape(username))

	fp := gofeed.NewParser()
	fp.Client = f.client
	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, &APIError{StatusCode: httpErr.StatusCode, Detail: httpErr.Status}
		}
		return nil, err
	}
	return feed, nil
}

// feedTransport injects a User-Agent header into every request.
type feedTransport struct {
	base http.RoundTripper
}

func (t *feedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", feedUserAgent)
	return t.base.RoundTrip(req)
}

func postsFromFeed(feed *gofeed.Feed) []Post {
	posts := make([]Post, 0, len(feed.Items))
	for _, item := range feed.Items {
		id, ok := itemStatusID(item)
		if !ok {
			continue
		}

		text, media := parseItemHTML(itemHTML(item))
		p := Post{
			ID:        id,
			Text:      text,
			URL:       item.Link,
			CreatedAt: itemPublishedTime(item),
			Media:     media,
		}

		switch {
		case strings.HasPrefix(item.Title, feedReplyPrefix):
			p.InReplyTo = replyTarget(item.Title)
		case strings.HasPrefix(item.Title, feedRetweetPrefix):
			p.References = append(p.References, Reference{Type: "retweeted"})
		}

		if p.Text == "" {
			p.Text = strings.TrimSpace(item.Title)
		}
		posts = append(posts, p)
	}
	return posts
}

func itemStatusID(item *gofeed.Item) (int64, bool) {
	for _, candidate := range []string{item.Link, item.GUID} {
		m := statusIDRe.FindStringSubmatch(candidate)
		if m == nil {
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return id, true
		}
	}
	return 0, false
}

func itemPublishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func itemHTML(item *gofeed.Item) string {
	if item.Content != "" {
		return item.Content
	}
	return item.Description
}

// replyTarget extracts the handle from a title like "R to @someone: text".
func replyTarget(title string) string {
	rest := strings.TrimPrefix(title, feedReplyPrefix)
	if i := strings.IndexAny(rest, ": "); i > 0 {
		return rest[:i]
	}
	if rest == "" {
		return "unknown"
	}
	return rest
}

// parseItemHTML returns the readable text of an item body and the media it
// embeds.
func parseItemHTML(raw string) (string, []Media) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(raw), nil
	}

	var media []Media
	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			return
		}
		media = append(media, Media{
			Key:  mediaKey("img", i, src),
			Type: "photo",
			URL:  src,
		})
	})
	doc.Find("video").Each(func(i int, s *goquery.Selection) {
		m := Media{Key: mediaKey("video", i, ""), Type: "video"}
		if src, ok := s.Attr("src"); ok && src != "" {
			m.Variants = append(m.Variants, Variant{ContentType: "video/mp4", URL: src})
		}
		s.Find("source").Each(func(_ int, src *goquery.Selection) {
			u, ok := src.Attr("src")
			if !ok || u == "" {
				return
			}
			ct, _ := src.Attr("type")
			m.Variants = append(m.Variants, Variant{ContentType: ct, URL: u})
		})
		if len(m.Variants) > 0 {
			media = append(media, m)
		}
	})

	text := whitespaceRe.ReplaceAllString(doc.Text(), "\n\n")
	return strings.TrimSpace(text), media
}

func mediaKey(kind string, i int, src string) string {
	if src != "" {
		base := path.Base(strings.SplitN(src, "?", 2)[0])
		if ext := path.Ext(base); ext != "" {
			base = strings.TrimSuffix(base, ext)
		}
		if base != "" && base != "." && base != "/" {
			return base
		}
	}
	return fmt.Sprintf("%s%d", kind, i)
}
