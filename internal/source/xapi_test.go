package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"golang.org/x/time/rate"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func xWithTransport(t *testing.T, rt roundTripFunc) *XClient {
	t.Helper()
	x, err := NewX("acct-1", "token-abc")
	if err != nil {
		t.Fatalf("new x: %v", err)
	}
	x.baseURL = "https://x.test"
	x.client = &http.Client{Transport: rt}
	x.limiter = rate.NewLimiter(rate.Inf, 1)
	return x
}

func TestNewX_EmptyToken(t *testing.T) {
	if _, err := NewX("a", "  "); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestXFetchProfile(t *testing.T) {
	x := xWithTransport(t, func(r *http.Request) (*http.Response, error) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-abc" {
			t.Errorf("authorization = %q", got)
		}
		if r.URL.Path != "/2/users/by/username/wolverine" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("user.fields"); got != "pinned_tweet_id" {
			t.Errorf("user.fields = %q", got)
		}
		return response(http.StatusOK, `{"data":{"id":"42","username":"wolverine","pinned_tweet_id":"990"}}`), nil
	})

	p, err := x.FetchProfile(context.Background(), "wolverine")
	if err != nil {
		t.Fatalf("fetch profile: %v", err)
	}
	if p.ID != "42" || p.Username != "wolverine" || p.PinnedPostID != 990 {
		t.Fatalf("unexpected profile: %+v", p)
	}
}

func TestXFetchProfile_NotFoundBody(t *testing.T) {
	x := xWithTransport(t, func(_ *http.Request) (*http.Response, error) {
		return response(http.StatusOK, `{"errors":[{"title":"Not Found Error","detail":"Could not find user"}]}`), nil
	})

	_, err := x.FetchProfile(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestXStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindUnauthorized},
		{http.StatusNotFound, KindNotFound},
		{http.StatusBadGateway, KindOther},
	}

	for _, tt := range tests {
		tt := tt
		x := xWithTransport(t, func(_ *http.Request) (*http.Response, error) {
			return response(tt.status, `{"title":"nope"}`), nil
		})
		_, err := x.FetchProfile(context.Background(), "wolverine")
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if got := Classify(err); got != tt.want {
			t.Errorf("status %d: kind = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestXFetchRecentPosts(t *testing.T) {
	body := `{
	  "data": [
	    {"id":"1005","text":"fresh take","created_at":"2026-02-16T10:00:00.000Z","attachments":{"media_keys":["3_1","7_1"]}},
	    {"id":"1004","text":"@bob sure","in_reply_to_user_id":"77"},
	    {"id":"1003","text":"RT @carol: hi","referenced_tweets":[{"type":"retweeted","id":"500"}]}
	  ],
	  "includes": {
	    "media": [
	      {"media_key":"3_1","type":"photo","url":"https://pbs.test/a.jpg"},
	      {"media_key":"7_1","type":"video","variants":[
	        {"content_type":"application/x-mpegURL","url":"https://video.test/pl.m3u8"},
	        {"bit_rate":832000,"content_type":"video/mp4","url":"https://video.test/low.mp4"},
	        {"bit_rate":2176000,"content_type":"video/mp4","url":"https://video.test/high.mp4"}
	      ]}
	    ]
	  }
	}`

	x := xWithTransport(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/2/users/42/tweets" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("max_results"); got != "5" {
			t.Errorf("max_results = %q, want 5", got)
		}
		return response(http.StatusOK, body), nil
	})

	posts, err := x.FetchRecentPosts(context.Background(), "42", 5)
	if err != nil {
		t.Fatalf("fetch posts: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("got %d posts, want 3", len(posts))
	}

	first := posts[0]
	if first.ID != 1005 || first.CreatedAt.IsZero() {
		t.Errorf("unexpected first post: %+v", first)
	}
	if len(first.Media) != 2 {
		t.Fatalf("got %d media, want 2", len(first.Media))
	}
	if first.Media[1].Type != "video" || len(first.Media[1].Variants) != 3 {
		t.Errorf("unexpected video media: %+v", first.Media[1])
	}
	if first.Media[1].Variants[2].Bitrate != 2176000 {
		t.Errorf("bitrate = %d", first.Media[1].Variants[2].Bitrate)
	}

	if !posts[1].IsReply() {
		t.Error("expected second post to be a reply")
	}
	if !posts[2].IsRetweet() {
		t.Error("expected third post to be a retweet")
	}
}

func TestXFetchRecentPosts_ClampsBatch(t *testing.T) {
	x := xWithTransport(t, func(r *http.Request) (*http.Response, error) {
		if got := r.URL.Query().Get("max_results"); got != "5" {
			t.Errorf("max_results = %q, want 5", got)
		}
		return response(http.StatusOK, `{"data":[{"id":"3","text":"c"},{"id":"2","text":"b"},{"id":"1","text":"a"}]}`), nil
	})

	posts, err := x.FetchRecentPosts(context.Background(), "42", 2)
	if err != nil {
		t.Fatalf("fetch posts: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
}

func TestXFetchRecentPosts_Empty(t *testing.T) {
	x := xWithTransport(t, func(_ *http.Request) (*http.Response, error) {
		return response(http.StatusOK, `{"meta":{"result_count":0}}`), nil
	})

	posts, err := x.FetchRecentPosts(context.Background(), "42", 5)
	if err != nil {
		t.Fatalf("fetch posts: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("got %d posts, want 0", len(posts))
	}
}

func TestXRateLimitDetail(t *testing.T) {
	x := xWithTransport(t, func(_ *http.Request) (*http.Response, error) {
		r := response(http.StatusTooManyRequests, `{}`)
		r.Header.Set("x-rate-limit-reset", "1771236000")
		return r, nil
	})

	_, err := x.FetchRecentPosts(context.Background(), "42", 5)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if !strings.Contains(err.Error(), "1771236000") {
		t.Errorf("error %q should mention the reset time", err)
	}
}

func TestXFetchRecentPosts_MalformedReference(t *testing.T) {
	x := xWithTransport(t, func(_ *http.Request) (*http.Response, error) {
		return response(http.StatusOK, `{"data":[
		    {"id":"1004","text":"RT @dave: hey","referenced_tweets":[{"type":"retweeted","id":"not-a-number"}]}
		]}`), nil
	})

	_, err := x.FetchRecentPosts(context.Background(), "42", 5)
	if err == nil {
		t.Fatal("expected error for malformed referenced id")
	}
	if !strings.Contains(err.Error(), "not-a-number") {
		t.Errorf("error %q should name the bad id", err)
	}
	if Classify(err) != KindOther {
		t.Errorf("Classify = %s, want %s", Classify(err), KindOther)
	}
}

func TestXTransportErrorIsNotRateLimit(t *testing.T) {
	x := xWithTransport(t, func(_ *http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset by peer")
	})

	_, err := x.FetchRecentPosts(context.Background(), "1429553", 5)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if got := Classify(err); got != KindOther {
		t.Fatalf("Classify(%v) = %s, want %s", err, got, KindOther)
	}

	_, err = x.FetchProfile(context.Background(), "trader401")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if got := Classify(err); got != KindOther {
		t.Fatalf("Classify(%v) = %s, want %s", err, got, KindOther)
	}
}
