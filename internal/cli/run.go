package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ppiankov/relaypan/internal/config"
	"github.com/ppiankov/relaypan/internal/metrics"
	"github.com/ppiankov/relaypan/internal/privacy"
	"github.com/ppiankov/relaypan/internal/publish"
	"github.com/ppiankov/relaypan/internal/rotation"
	"github.com/ppiankov/relaypan/internal/runlock"
	"github.com/ppiankov/relaypan/internal/source"
	"github.com/ppiankov/relaypan/internal/store"
)

var runEvery string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one rotation pass, or keep running with --every",
	RunE:  runAction,
}

func init() {
	runCmd.Flags().StringVar(&runEvery, "every", "", "repeat passes at this interval (e.g. 5m)")
	rootCmd.AddCommand(runCmd)
}

// passRunner executes passes against one loaded configuration. Watch mode
// keeps a single runner for all of its passes.
type passRunner interface {
	Pass(ctx context.Context) error
	Close() error
}

var newPassRunner = func(dir string) (passRunner, error) {
	return newRelay(dir)
}

func runAction(cmd *cobra.Command, _ []string) error {
	interval, err := parseRunEvery(runEvery)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	runner, err := newPassRunner(configDir)
	if err != nil {
		return err
	}
	defer func() { _ = runner.Close() }()

	if interval == 0 {
		return runner.Pass(ctx)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runWatch(ctx, interval, func() error {
		return runner.Pass(ctx)
	})
}

func parseRunEvery(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}

	interval, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --every value %q: %w", raw, err)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("invalid --every value %q: must be greater than zero", raw)
	}
	return interval, nil
}

// runWatch runs immediately, then once per interval until ctx is done. A pass
// error stops the loop.
func runWatch(ctx context.Context, interval time.Duration, runOnce func() error) error {
	if err := runOnce(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := runOnce(); err != nil {
				return err
			}
		}
	}
}

// relay wires the configured stack into a scheduler.
type relay struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  *store.Store
	locker runlock.Locker
	sched  *rotation.Scheduler
	pool   int
}

func newRelay(dir string) (*relay, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	logger, err := setupLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	accounts, err := config.LoadAccounts(cfg.Resolve(cfg.Accounts.File))
	if err != nil {
		return nil, err
	}
	for i, a := range accounts {
		logger.Debug().
			Int("position", i).
			Str("credential", a.Name).
			Str("kind", a.Kind).
			Str("token", privacy.Mask(a.BearerToken)).
			Msg("credential loaded")
	}

	locker, err := newLocker(cfg)
	if err != nil {
		return nil, err
	}
	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Resolve(cfg.Storage.Path))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sched, err := rotation.New(rotation.Config{
		Username:    cfg.Target.Username,
		BatchSize:   cfg.Target.BatchSize,
		Cooldown:    cfg.Rotation.Cooldown.Duration,
		CallTimeout: cfg.Rotation.CallTimeout.Duration,
	}, credentialsFor(accounts), st, pipeline,
		rotation.WithLogger(logger),
		rotation.WithNotifier(notifier),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &relay{
		cfg:    cfg,
		logger: logger,
		store:  st,
		locker: locker,
		sched:  sched,
		pool:   len(accounts),
	}, nil
}

func (r *relay) Close() error {
	return r.store.Close()
}

// Pass runs one locked rotation pass and records it. A pass that finds the
// lock held is skipped without error.
func (r *relay) Pass(ctx context.Context) error {
	lease, err := r.locker.Acquire(ctx)
	if errors.Is(err, runlock.ErrLocked) {
		r.logger.Warn().Msg("another pass holds the run lock, skipping")
		fmt.Println("Skipped: another pass is running.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}

	bg := context.WithoutCancel(ctx)
	defer func() {
		if err := lease.Release(bg); err != nil {
			r.logger.Warn().Err(err).Msg("release run lock")
		}
	}()

	// A lost lease cancels the pass; cooldowns gathered so far are still saved.
	ctx, stopKeep := runlock.Keep(ctx, lease, r.cfg.Lock.TTL.Duration/3, func(err error) {
		r.logger.Warn().Err(err).Msg("refresh run lock")
	})
	defer stopKeep()

	run := store.Run{ID: uuid.NewString(), StartedAt: time.Now()}
	res, passErr := r.sched.Run(ctx)
	run.FinishedAt = time.Now()
	run.Outcome = string(res.Outcome)
	run.Attempts = len(res.Attempts)
	run.PostID = res.PostID
	if passErr != nil {
		run.Error = passErr.Error()
		if run.Outcome == "" {
			run.Outcome = "error"
		}
	}

	if err := r.store.RecordRun(bg, run); err != nil {
		r.logger.Warn().Err(err).Str("run", run.ID).Msg("record run")
	}
	if n, err := r.store.PruneRuns(bg, r.cfg.Storage.RetainDays); err != nil {
		r.logger.Warn().Err(err).Msg("prune runs")
	} else if n > 0 {
		r.logger.Debug().Int64("pruned", n).Msg("pruned old runs")
	}
	if err := metrics.Push(bg, r.cfg.Metrics.Pushgateway, r.cfg.Metrics.Job); err != nil {
		r.logger.Warn().Err(err).Msg("metrics push failed")
	}

	printResult(res, r.pool)
	return passErr
}

func printResult(res rotation.Result, pool int) {
	switch res.Outcome {
	case rotation.OutcomeFound:
		fmt.Printf("Published post %d (%d of %d credentials tried).\n", res.PostID, len(res.Attempts), pool)
	case rotation.OutcomeCanceled:
		fmt.Printf("Pass canceled after %d attempts.\n", len(res.Attempts))
	default:
		fmt.Printf("No new post (%d of %d credentials tried).\n", len(res.Attempts), pool)
	}
	for _, a := range res.Attempts {
		if a.Err != nil {
			fmt.Printf("  [%d] %s: %s (%v)\n", a.Position, a.Label, a.Outcome, a.Err)
			continue
		}
		fmt.Printf("  [%d] %s: %s\n", a.Position, a.Label, a.Outcome)
	}
}

func newLocker(cfg *config.Config) (runlock.Locker, error) {
	if cfg.Lock.RedisURL != "" {
		l, err := runlock.NewRedisURL(cfg.Lock.RedisURL, cfg.Lock.Key, cfg.Lock.TTL.Duration)
		if err != nil {
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		return l, nil
	}
	l, err := runlock.NewFile(cfg.Resolve(cfg.Lock.Path), cfg.Lock.TTL.Duration)
	if err != nil {
		return nil, fmt.Errorf("file lock: %w", err)
	}
	return l, nil
}

func newPipeline(cfg *config.Config, logger zerolog.Logger) (*publish.Pipeline, error) {
	var (
		texts []publish.TextSink
		files []publish.FileSink
	)
	p := cfg.Publish

	// The token sources refresh on this context for the life of the process.
	ctx := context.Background()

	if p.Sheets.Enabled() {
		s, err := publish.NewSheets(ctx, p.Sheets.SpreadsheetID, p.Sheets.Range, googleCredentials(cfg, p.Sheets.GoogleAuth))
		if err != nil {
			return nil, fmt.Errorf("sheets sink: %w", err)
		}
		texts = append(texts, s)
	}
	if p.Drive.Enabled() {
		d, err := publish.NewDrive(ctx, p.Drive.FolderID, googleCredentials(cfg, p.Drive.GoogleAuth))
		if err != nil {
			return nil, fmt.Errorf("drive sink: %w", err)
		}
		files = append(files, d)
	}
	if p.Dir.Enabled() {
		d, err := publish.NewDir(cfg.Resolve(p.Dir.Path))
		if err != nil {
			return nil, fmt.Errorf("dir sink: %w", err)
		}
		texts = append(texts, d)
		files = append(files, d)
	}

	opts := []publish.Option{publish.WithLogger(logger)}
	if p.Redact.Enabled {
		r, err := privacy.NewRedactor(p.Redact.Patterns)
		if err != nil {
			return nil, fmt.Errorf("redact patterns: %w", err)
		}
		opts = append(opts, publish.WithRedactor(r))
	}
	return publish.NewPipeline(texts, files, opts...)
}

func googleCredentials(cfg *config.Config, a config.GoogleAuth) publish.GoogleCredentials {
	return publish.GoogleCredentials{File: cfg.Resolve(a.CredentialsFile), Token: a.Token}
}

func newNotifier(cfg *config.Config) (rotation.Notifier, error) {
	w := cfg.Publish.Webhook
	if !w.Enabled() {
		return publish.NoopNotifier{}, nil
	}
	n, err := publish.NewWebhook(w.URL, w.Token, w.Timeout.Duration)
	if err != nil {
		return nil, fmt.Errorf("webhook: %w", err)
	}
	return n, nil
}

func credentialsFor(accounts []config.Account) []rotation.Credential {
	creds := make([]rotation.Credential, 0, len(accounts))
	for _, a := range accounts {
		a := a
		creds = append(creds, rotation.Credential{
			Label: a.Name,
			Connect: func() (source.Client, error) {
				return source.New(a)
			},
		})
	}
	return creds
}
