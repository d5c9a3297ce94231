// Package rotation drives one polling pass over a pool of platform
// credentials: it picks the next usable credential, cools down rate-limited
// ones, and publishes at most one new post per pass.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/relaypan/internal/metrics"
	"github.com/ppiankov/relaypan/internal/selector"
	"github.com/ppiankov/relaypan/internal/source"
)

const (
	DefaultBatchSize   = 5
	DefaultCooldown    = 16 * time.Minute
	DefaultCallTimeout = 30 * time.Second
)

// ErrNoCredentials is returned when the pool is empty.
var ErrNoCredentials = errors.New("no credentials configured")

// Credential is one pool member. Connect builds its client; a failure counts
// as a hard error for that attempt.
type Credential struct {
	Label   string
	Connect func() (source.Client, error)
}

// PublishedPost is what the scheduler hands to the store once a post is out.
type PublishedPost struct {
	PostID      int64
	Text        string
	MediaCount  int
	Position    int
	PublishedAt time.Time
}

// Store persists rotation state and the watermark.
type Store interface {
	LoadRotation(ctx context.Context) (State, error)
	SaveRotation(ctx context.Context, st State) error
	Watermark(ctx context.Context) (int64, bool, error)
	// AdvanceWatermark must be durable on return and never lower the stored
	// watermark.
	AdvanceWatermark(ctx context.Context, p PublishedPost) error
}

// Publisher pushes a post's text and media to the external sinks.
type Publisher interface {
	Publish(ctx context.Context, post source.Post) error
}

// Notification is the automation trigger payload.
type Notification struct {
	PostID   int64
	PostText string
}

// Notifier fires the downstream automation. Failures are logged, never retried.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Config is the per-deployment input of a pass.
type Config struct {
	Username    string
	BatchSize   int
	Cooldown    time.Duration
	CallTimeout time.Duration
}

// Outcome is the terminal result of a pass.
type Outcome string

const (
	OutcomeFound     Outcome = "found"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeCanceled  Outcome = "canceled"
)

// AttemptOutcome is what happened with one credential.
type AttemptOutcome string

const (
	AttemptBlocked       AttemptOutcome = "blocked"
	AttemptRateLimited   AttemptOutcome = "rate_limited"
	AttemptUnauthorized  AttemptOutcome = "unauthorized"
	AttemptFailed        AttemptOutcome = "failed"
	AttemptNotFound      AttemptOutcome = "not_found"
	AttemptEmpty         AttemptOutcome = "empty"
	AttemptNoCandidate   AttemptOutcome = "no_candidate"
	AttemptPublishFailed AttemptOutcome = "publish_failed"
	AttemptPublished     AttemptOutcome = "published"
)

// Attempt records one credential try.
type Attempt struct {
	Position int
	Label    string
	Outcome  AttemptOutcome
	Err      error
}

// Result summarises a pass.
type Result struct {
	Outcome  Outcome
	PostID   int64 // set when Outcome is OutcomeFound
	Attempts []Attempt
}

// Scheduler runs rotation passes.
type Scheduler struct {
	cfg       Config
	creds     []Credential
	store     Store
	publisher Publisher
	notifier  Notifier
	logger    zerolog.Logger
	now       func() time.Time
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithNotifier sets the automation trigger.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New validates its inputs and builds a Scheduler. The credential slice is
// copied so the pool cannot change during a pass.
func New(cfg Config, creds []Credential, st Store, pub Publisher, opts ...Option) (*Scheduler, error) {
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	if cfg.Username == "" {
		return nil, errors.New("username is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	s := &Scheduler{
		cfg:       cfg,
		creds:     append([]Credential(nil), creds...),
		store:     st,
		publisher: pub,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run performs one pass: at most one attempt per credential, at most one
// published post. Rotation state is loaded once and saved once. The returned
// error is reserved for store failures; credential and publish problems only
// shape the Result.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	start := s.now()
	n := len(s.creds)

	wmID, wmSet, err := s.store.Watermark(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load watermark: %w", err)
	}
	wm := selector.Watermark{ID: wmID, Set: wmSet}

	loaded, err := s.store.LoadRotation(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load rotation state: %w", err)
	}
	st := loaded.Normalize(n)

	res := Result{Outcome: OutcomeExhausted}
	var fatal error

	for attempts := 0; attempts < n; attempts++ {
		if ctx.Err() != nil {
			res.Outcome = OutcomeCanceled
			break
		}

		pos := st.Cursor
		att, published, err := s.attempt(ctx, pos, &st, wm)
		res.Attempts = append(res.Attempts, att)
		metrics.AttemptsTotal.WithLabelValues(string(att.Outcome)).Inc()
		st.Cursor = Advance(pos, n)

		if err != nil {
			fatal = err
			break
		}
		if published != nil {
			res.Outcome = OutcomeFound
			res.PostID = published.ID
			break
		}
	}

	// Cooldowns recorded before a cancel must still land.
	if err := s.store.SaveRotation(context.WithoutCancel(ctx), st); err != nil {
		return res, errors.Join(fatal, fmt.Errorf("save rotation state: %w", err))
	}

	metrics.PassesTotal.WithLabelValues(string(res.Outcome)).Inc()
	metrics.PassDuration.Observe(s.now().Sub(start).Seconds())

	if res.Outcome == OutcomeExhausted {
		s.logger.Info().Int("attempts", len(res.Attempts)).Msg("no new posts from any available credential")
	}
	return res, fatal
}

// attempt tries the credential at pos. It returns the published post on
// success. A non-nil error means the pass must stop.
func (s *Scheduler) attempt(ctx context.Context, pos int, st *State, wm selector.Watermark) (Attempt, *source.Post, error) {
	cred := s.creds[pos]
	att := Attempt{Position: pos, Label: cred.Label}
	log := s.logger.With().Int("position", pos).Str("credential", cred.Label).Logger()

	blocked, healed := CheckBlocked(st.Credentials[pos], s.now())
	st.Credentials[pos] = healed
	if blocked {
		att.Outcome = AttemptBlocked
		log.Info().Time("blocked_until", healed.BlockedUntil).Msg("credential cooling down, skipping")
		return att, nil, nil
	}

	client, err := cred.Connect()
	if err != nil {
		att.Outcome, att.Err = AttemptFailed, err
		log.Warn().Err(err).Msg("cannot build client, rotating")
		return att, nil, nil
	}

	posts, pinned, err := s.fetch(ctx, client)
	if err != nil {
		att.Err = err
		switch source.Classify(err) {
		case source.KindRateLimited:
			att.Outcome = AttemptRateLimited
			st.Credentials[pos] = Block(st.Credentials[pos], s.now(), s.cfg.Cooldown)
			metrics.CooldownsTotal.WithLabelValues(cred.Label).Inc()
			log.Warn().Err(err).Time("blocked_until", st.Credentials[pos].BlockedUntil).Msg("rate limited, cooling down")
		case source.KindUnauthorized:
			att.Outcome = AttemptUnauthorized
			log.Warn().Err(err).Msg("credential rejected, rotating")
		case source.KindNotFound:
			att.Outcome = AttemptNotFound
			log.Warn().Str("username", s.cfg.Username).Msg("account not found with this credential, rotating")
		default:
			att.Outcome = AttemptFailed
			log.Warn().Err(err).Msg("fetch failed, rotating")
		}
		return att, nil, nil
	}

	if len(posts) == 0 {
		att.Outcome = AttemptEmpty
		log.Info().Msg("no recent posts returned, rotating")
		return att, nil, nil
	}

	sel := selector.Select(posts, pinned, wm)
	for _, d := range sel.Trail {
		log.Debug().Int64("post_id", d.PostID).Str("verdict", string(d.Verdict)).Msg("classified post")
	}
	if !sel.Found {
		att.Outcome = AttemptNoCandidate
		log.Info().Int("fetched", len(posts)).Msg("no new original post, rotating")
		return att, nil, nil
	}

	post := sel.Candidate
	log = log.With().Int64("post_id", post.ID).Logger()
	log.Info().Msg("candidate found, publishing")

	if err := s.publisher.Publish(ctx, post); err != nil {
		att.Outcome, att.Err = AttemptPublishFailed, err
		metrics.PublishErrors.Inc()
		log.Error().Err(err).Msg("publish failed, post left for a later pass")
		return att, nil, nil
	}

	// The post is out; recording it must not be cut short by a cancel.
	publishedAt := s.now()
	if err := s.store.AdvanceWatermark(context.WithoutCancel(ctx), PublishedPost{
		PostID:      post.ID,
		Text:        post.Text,
		MediaCount:  len(post.Media),
		Position:    pos,
		PublishedAt: publishedAt,
	}); err != nil {
		// The post is out but not recorded; another credential would publish
		// it again, so the pass stops here.
		att.Outcome, att.Err = AttemptPublished, err
		return att, nil, fmt.Errorf("advance watermark to %d: %w", post.ID, err)
	}
	att.Outcome = AttemptPublished
	metrics.PublishedTotal.Inc()
	metrics.LastPublished.Set(float64(publishedAt.Unix()))
	log.Info().Msg("post published")

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, Notification{PostID: post.ID, PostText: post.Text}); err != nil {
			metrics.NotifyErrors.Inc()
			log.Warn().Err(err).Msg("automation trigger failed")
		}
	}

	return att, &post, nil
}

// fetch resolves the account and its recent posts with one client. Each call
// gets its own timeout.
func (s *Scheduler) fetch(ctx context.Context, client source.Client) ([]source.Post, int64, error) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	profile, err := client.FetchProfile(pctx, s.cfg.Username)
	cancel()
	if err != nil {
		return nil, 0, err
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	posts, err := client.FetchRecentPosts(tctx, profile.ID, s.cfg.BatchSize)
	if err != nil {
		return nil, 0, err
	}
	return posts, profile.PinnedPostID, nil
}
