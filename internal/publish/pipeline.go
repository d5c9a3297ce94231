// Package publish pushes a selected post to the configured sinks: its text to
// an append-only log (spreadsheet or file) and its media, or a placeholder
// when it has none, to a file store.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/relaypan/internal/privacy"
	"github.com/ppiankov/relaypan/internal/source"
)

const (
	downloadTimeout = 2 * time.Minute
	maxMediaBytes   = 512 << 20
)

// Record is the text entry appended for each published post.
type Record struct {
	PostID    int64
	Text      string
	URL       string
	CreatedAt time.Time
}

// TextSink appends one record per published post.
type TextSink interface {
	Name() string
	AppendText(ctx context.Context, rec Record) error
}

// FileSink stores media files and placeholders.
type FileSink interface {
	Name() string
	Upload(ctx context.Context, name, mimeType string, data []byte) error
}

// Pipeline publishes posts. Any sink or download error aborts the publish so
// the post stays eligible for a later pass.
type Pipeline struct {
	texts    []TextSink
	files    []FileSink
	redactor *privacy.Redactor
	client   *http.Client
	logger   zerolog.Logger
}

type Option func(*Pipeline)

func WithRedactor(r *privacy.Redactor) Option {
	return func(p *Pipeline) { p.redactor = r }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.client = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func NewPipeline(texts []TextSink, files []FileSink, opts ...Option) (*Pipeline, error) {
	if len(texts) == 0 && len(files) == 0 {
		return nil, errors.New("at least one sink is required")
	}
	p := &Pipeline{
		texts:  texts,
		files:  files,
		client: &http.Client{Timeout: downloadTimeout},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish runs the text sinks, then the media uploads.
func (p *Pipeline) Publish(ctx context.Context, post source.Post) error {
	log := p.logger.With().Int64("post_id", post.ID).Logger()

	rec := Record{
		PostID:    post.ID,
		Text:      p.redactor.Apply(post.Text),
		URL:       post.URL,
		CreatedAt: post.CreatedAt,
	}
	for _, sink := range p.texts {
		if err := sink.AppendText(ctx, rec); err != nil {
			return fmt.Errorf("%s: append text: %w", sink.Name(), err)
		}
		log.Debug().Str("sink", sink.Name()).Msg("text appended")
	}

	if len(p.files) == 0 {
		return nil
	}

	if len(post.Media) == 0 {
		name, data := Placeholder(post.ID, rec.Text)
		return p.upload(ctx, name, "text/plain", data)
	}

	for _, m := range post.Media {
		asset, ok := Describe(m)
		if !ok {
			log.Warn().Str("media_key", m.Key).Str("type", m.Type).Msg("no usable rendition, skipping media")
			continue
		}
		data, err := p.download(ctx, asset.URL)
		if err != nil {
			return fmt.Errorf("download %s: %w", m.Key, err)
		}
		name := fmt.Sprintf("media_%d_%s%s", post.ID, m.Key, asset.Ext)
		if err := p.upload(ctx, name, asset.MIMEType, data); err != nil {
			return err
		}
		log.Debug().Str("file", name).Int("bytes", len(data)).Msg("media uploaded")
	}
	return nil
}

func (p *Pipeline) upload(ctx context.Context, name, mimeType string, data []byte) error {
	for _, sink := range p.files {
		if err := sink.Upload(ctx, name, mimeType, data); err != nil {
			return fmt.Errorf("%s: upload %s: %w", sink.Name(), name, err)
		}
	}
	return nil
}

func (p *Pipeline) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("media larger than %d bytes", maxMediaBytes)
	}
	return data, nil
}

// Asset is the downloadable rendition chosen for a media item.
type Asset struct {
	URL      string
	Ext      string
	MIMEType string
}

// Describe picks what to download for m. Photos use their URL; videos and
// GIFs use the highest-bitrate video/mp4 variant. ok is false when nothing
// usable exists.
func Describe(m source.Media) (Asset, bool) {
	switch m.Type {
	case "photo":
		if m.URL == "" {
			return Asset{}, false
		}
		ext := strings.ToLower(path.Ext(strings.SplitN(m.URL, "?", 2)[0]))
		mimeType := "image/jpeg"
		switch ext {
		case ".png":
			mimeType = "image/png"
		case ".webp":
			mimeType = "image/webp"
		default:
			ext = ".jpg"
		}
		return Asset{URL: m.URL, Ext: ext, MIMEType: mimeType}, true
	case "video", "animated_gif":
		mp4 := make([]source.Variant, 0, len(m.Variants))
		for _, v := range m.Variants {
			if v.ContentType == "video/mp4" && v.URL != "" {
				mp4 = append(mp4, v)
			}
		}
		if len(mp4) == 0 {
			return Asset{}, false
		}
		sort.SliceStable(mp4, func(i, j int) bool { return mp4[i].Bitrate > mp4[j].Bitrate })
		return Asset{URL: mp4[0].URL, Ext: ".mp4", MIMEType: "video/mp4"}, true
	default:
		return Asset{}, false
	}
}

// Placeholder is the text file stored for a post without media, so every
// published post leaves at least one file behind.
func Placeholder(postID int64, text string) (string, []byte) {
	body := fmt.Sprintf("Tweet ID: %d\nText: %s\nNo media.", postID, text)
	return fmt.Sprintf("dummy_%d.txt", postID), []byte(body)
}
