package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	xBaseURL      = "https://api.twitter.com"
	xTimeout      = 30 * time.Second
	xUserAgent    = "relaypan/1.0"
	xMinBatch     = 5
	xMaxBatch     = 100
	xRequestEvery = 1 * time.Second
)

// XClient reads a timeline through the platform's v2 REST API using one
// bearer token.
type XClient struct {
	label   string
	token   string
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewX creates an API client. label identifies the credential in logs.
func NewX(label, bearerToken string) (*XClient, error) {
	if strings.TrimSpace(bearerToken) == "" {
		return nil, errors.New("x: bearer token is required")
	}
	return &XClient{
		label:   label,
		token:   bearerToken,
		client:  &http.Client{Timeout: xTimeout},
		baseURL: xBaseURL,
		limiter: rate.NewLimiter(rate.Every(xRequestEvery), 2),
	}, nil
}

func (x *XClient) Name() string {
	return x.label
}

func (x *XClient) FetchProfile(ctx context.Context, username string) (Profile, error) {
	q := url.Values{}
	q.Set("user.fields", "pinned_tweet_id")
	endpoint := fmt.Sprintf("%s/2/users/by/username/%s?%s", x.baseURL, url.PathEscape(username), q.Encode())

	var resp xUserResponse
	if err := x.get(ctx, endpoint, &resp); err != nil {
		return Profile{}, fmt.Errorf("fetch user %s: %w", username, err)
	}
	if resp.Data == nil {
		return Profile{}, fmt.Errorf("fetch user %s: %w%s", username, ErrNotFound, xErrorDetail(resp.Errors))
	}

	var pinned int64
	if resp.Data.PinnedTweetID != "" {
		id, err := strconv.ParseInt(resp.Data.PinnedTweetID, 10, 64)
		if err != nil {
			return Profile{}, fmt.Errorf("parse pinned id %q: %w", resp.Data.PinnedTweetID, err)
		}
		pinned = id
	}

	return Profile{
		ID:           resp.Data.ID,
		Username:     resp.Data.Username,
		PinnedPostID: pinned,
	}, nil
}

func (x *XClient) FetchRecentPosts(ctx context.Context, userID string, limit int) ([]Post, error) {
	// The API rejects max_results outside [5, 100]; trim locally instead.
	maxResults := limit
	if maxResults < xMinBatch {
		maxResults = xMinBatch
	}
	if maxResults > xMaxBatch {
		maxResults = xMaxBatch
	}

	q := url.Values{}
	q.Set("max_results", strconv.Itoa(maxResults))
	q.Set("tweet.fields", "referenced_tweets,in_reply_to_user_id,created_at,attachments,text")
	q.Set("expansions", "attachments.media_keys,referenced_tweets.id,author_id")
	q.Set("media.fields", "url,preview_image_url,type,variants")
	endpoint := fmt.Sprintf("%s/2/users/%s/tweets?%s", x.baseURL, url.PathEscape(userID), q.Encode())

	var resp xTimelineResponse
	if err := x.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch posts for %s: %w", userID, err)
	}

	posts, err := postsFromTimeline(resp)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (x *XClient) get(ctx context.Context, endpoint string, out any) error {
	if err := x.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for pacing: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+x.token)
	req.Header.Set("User-Agent", xUserAgent)

	resp, err := x.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		detail := strings.TrimSpace(string(body))
		if reset := resp.Header.Get("x-rate-limit-reset"); reset != "" && resp.StatusCode == http.StatusTooManyRequests {
			detail = "window resets at " + reset
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: detail}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func postsFromTimeline(resp xTimelineResponse) ([]Post, error) {
	media := make(map[string]xMedia, len(resp.Includes.Media))
	for _, m := range resp.Includes.Media {
		media[m.MediaKey] = m
	}

	posts := make([]Post, 0, len(resp.Data))
	for _, t := range resp.Data {
		id, err := strconv.ParseInt(t.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse post id %q: %w", t.ID, err)
		}

		p := Post{
			ID:        id,
			Text:      t.Text,
			InReplyTo: t.InReplyToUserID,
		}
		if t.CreatedAt != "" {
			if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
				p.CreatedAt = ts
			}
		}
		for _, ref := range t.ReferencedTweets {
			refID, err := strconv.ParseInt(ref.ID, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse referenced id %q of post %d: %w", ref.ID, id, err)
			}
			p.References = append(p.References, Reference{Type: ref.Type, ID: refID})
		}
		if t.Attachments != nil {
			for _, key := range t.Attachments.MediaKeys {
				m, ok := media[key]
				if !ok {
					continue
				}
				item := Media{Key: m.MediaKey, Type: m.Type, URL: m.URL}
				for _, v := range m.Variants {
					item.Variants = append(item.Variants, Variant{
						ContentType: v.ContentType,
						Bitrate:     v.BitRate,
						URL:         v.URL,
					})
				}
				p.Media = append(p.Media, item)
			}
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func xErrorDetail(errs []xError) string {
	if len(errs) == 0 {
		return ""
	}
	if errs[0].Detail != "" {
		return ": " + errs[0].Detail
	}
	return ": " + errs[0].Title
}

type xUserResponse struct {
	Data *struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		PinnedTweetID string `json:"pinned_tweet_id"`
	} `json:"data"`
	Errors []xError `json:"errors"`
}

type xTimelineResponse struct {
	Data     []xTweet `json:"data"`
	Includes struct {
		Media []xMedia `json:"media"`
	} `json:"includes"`
	Errors []xError `json:"errors"`
}

type xTweet struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	CreatedAt        string `json:"created_at"`
	InReplyToUserID  string `json:"in_reply_to_user_id"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
	Attachments *struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
}

type xMedia struct {
	MediaKey string `json:"media_key"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Variants []struct {
		BitRate     int    `json:"bit_rate"`
		ContentType string `json:"content_type"`
		URL         string `json:"url"`
	} `json:"variants"`
}

type xError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}
