package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/relaypan/internal/rotation"
)

var t0 = time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relaypan.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	st.now = func() time.Time { return t0 }
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestOpenTwiceKeepsState(t *testing.T) {
	st, path := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveRotation(ctx, rotation.State{Cursor: 2, Credentials: make([]rotation.CredentialState, 3)}); err != nil {
		t.Fatalf("save rotation: %v", err)
	}
	_ = st.Close()

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = again.Close() }()

	got, err := again.LoadRotation(ctx)
	if err != nil {
		t.Fatalf("load rotation: %v", err)
	}
	if got.Cursor != 2 || len(got.Credentials) != 3 {
		t.Fatalf("unexpected state after reopen: %+v", got)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	st, path := openTestStore(t)
	if _, err := st.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = st.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for newer schema")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNilStore(t *testing.T) {
	var st *Store
	if err := st.Close(); err != nil {
		t.Fatalf("close nil store: %v", err)
	}
	if _, _, err := st.Watermark(context.Background()); err == nil {
		t.Fatal("expected error from nil store")
	}
}

func TestLoadRotationFresh(t *testing.T) {
	st, _ := openTestStore(t)

	got, err := st.LoadRotation(context.Background())
	if err != nil {
		t.Fatalf("load rotation: %v", err)
	}
	if got.Cursor != 0 {
		t.Fatalf("cursor = %d, want 0", got.Cursor)
	}
	if len(got.Credentials) != 0 {
		t.Fatalf("expected no credential states, got %d", len(got.Credentials))
	}
}

func TestSaveAndLoadRotation(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	want := rotation.State{
		Cursor: 1,
		Credentials: []rotation.CredentialState{
			rotation.Block(rotation.Available(), t0, 16*time.Minute),
			rotation.Available(),
			{},
		},
	}
	if err := st.SaveRotation(ctx, want); err != nil {
		t.Fatalf("save rotation: %v", err)
	}

	got, err := st.LoadRotation(ctx)
	if err != nil {
		t.Fatalf("load rotation: %v", err)
	}
	if got.Cursor != 1 {
		t.Fatalf("cursor = %d, want 1", got.Cursor)
	}
	if len(got.Credentials) != 3 {
		t.Fatalf("len = %d, want 3", len(got.Credentials))
	}
	if got.Credentials[0].Status != rotation.StatusBlocked {
		t.Fatalf("position 0 status = %s", got.Credentials[0].Status)
	}
	if !got.Credentials[0].BlockedUntil.Equal(t0.Add(16 * time.Minute)) {
		t.Fatalf("position 0 blocked_until = %s", got.Credentials[0].BlockedUntil)
	}
	if got.Credentials[2].Status != rotation.StatusAvailable {
		t.Fatalf("empty status should be stored as available, got %q", got.Credentials[2].Status)
	}
}

func TestSaveRotationKeepsPositionsOutsidePool(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	blocked := rotation.Block(rotation.Available(), t0, time.Hour)
	if err := st.SaveRotation(ctx, rotation.State{Credentials: []rotation.CredentialState{
		rotation.Available(), rotation.Available(), blocked,
	}}); err != nil {
		t.Fatalf("save rotation: %v", err)
	}
	// A smaller pool only rewrites the positions it knows about.
	if err := st.SaveRotation(ctx, rotation.State{Credentials: []rotation.CredentialState{
		rotation.Available(),
	}}); err != nil {
		t.Fatalf("save smaller rotation: %v", err)
	}

	got, err := st.LoadRotation(ctx)
	if err != nil {
		t.Fatalf("load rotation: %v", err)
	}
	if len(got.Credentials) != 3 || got.Credentials[2].Status != rotation.StatusBlocked {
		t.Fatalf("position 2 lost: %+v", got.Credentials)
	}
}

func TestUnblock(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	blocked := rotation.Block(rotation.Available(), t0, time.Hour)
	if err := st.SaveRotation(ctx, rotation.State{Credentials: []rotation.CredentialState{
		blocked, rotation.Available(), blocked,
	}}); err != nil {
		t.Fatalf("save rotation: %v", err)
	}

	n, err := st.Unblock(ctx, 2)
	if err != nil {
		t.Fatalf("unblock one: %v", err)
	}
	if n != 1 {
		t.Fatalf("unblocked %d, want 1", n)
	}

	got, _ := st.LoadRotation(ctx)
	if got.Credentials[0].Status != rotation.StatusBlocked {
		t.Fatal("position 0 should still be blocked")
	}
	if got.Credentials[2] != rotation.Available() {
		t.Fatalf("position 2 = %+v", got.Credentials[2])
	}

	n, err = st.Unblock(ctx, -1)
	if err != nil {
		t.Fatalf("unblock all: %v", err)
	}
	if n != 1 {
		t.Fatalf("unblocked %d, want 1", n)
	}
}

func TestWatermarkUnset(t *testing.T) {
	st, _ := openTestStore(t)

	id, ok, err := st.Watermark(context.Background())
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if ok || id != 0 {
		t.Fatalf("expected unset watermark, got %d %v", id, ok)
	}
}

func TestAdvanceWatermarkIsMonotonic(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	steps := []struct {
		id   int64
		want int64
	}{
		{1000, 1000},
		{1005, 1005},
		{1003, 1005},
		{1005, 1005},
		{2000, 2000},
	}
	for i, step := range steps {
		err := st.AdvanceWatermark(ctx, rotation.PublishedPost{
			PostID:      step.id,
			Text:        "post",
			PublishedAt: t0.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("advance to %d: %v", step.id, err)
		}
		got, ok, err := st.Watermark(ctx)
		if err != nil || !ok {
			t.Fatalf("watermark: %v %v", ok, err)
		}
		if got != step.want {
			t.Fatalf("after %d watermark = %d, want %d", step.id, got, step.want)
		}
	}
}

func TestAdvanceWatermarkRecordsHistory(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	for i, id := range []int64{10, 20} {
		if err := st.AdvanceWatermark(ctx, rotation.PublishedPost{
			PostID:      id,
			Text:        "hello",
			MediaCount:  i,
			Position:    i + 1,
			PublishedAt: t0.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	got, err := st.RecentPublished(ctx, 10)
	if err != nil {
		t.Fatalf("recent published: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].PostID != 20 || got[0].MediaCount != 1 || got[0].Position != 2 {
		t.Fatalf("unexpected newest row: %+v", got[0])
	}
	if !got[1].PublishedAt.Equal(t0) {
		t.Fatalf("published_at = %s", got[1].PublishedAt)
	}
}

func TestAdvanceWatermarkRejectsZero(t *testing.T) {
	st, _ := openTestStore(t)
	if err := st.AdvanceWatermark(context.Background(), rotation.PublishedPost{}); err == nil {
		t.Fatal("expected error for zero post id")
	}
}

func TestAdvanceWatermarkConcurrent(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = st.AdvanceWatermark(ctx, rotation.PublishedPost{PostID: id, PublishedAt: t0})
		}(i)
	}
	wg.Wait()

	got, _, err := st.Watermark(ctx)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if got != 20 {
		t.Fatalf("watermark = %d, want 20", got)
	}
}

func TestSeedWatermark(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.SeedWatermark(ctx, 500); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.SeedWatermark(ctx, 400); err != nil {
		t.Fatalf("seed lower: %v", err)
	}
	got, _, _ := st.Watermark(ctx)
	if got != 500 {
		t.Fatalf("watermark = %d, want 500", got)
	}

	published, err := st.RecentPublished(ctx, 0)
	if err != nil {
		t.Fatalf("recent published: %v", err)
	}
	if len(published) != 0 {
		t.Fatalf("seed should not add history, got %d rows", len(published))
	}

	if err := st.SeedWatermark(ctx, 0); err == nil {
		t.Fatal("expected error for zero watermark")
	}
}

func TestRecordAndListRuns(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	runs := []Run{
		{ID: "a", StartedAt: t0, FinishedAt: t0.Add(time.Second), Outcome: "exhausted", Attempts: 3},
		{ID: "b", StartedAt: t0.Add(time.Hour), FinishedAt: t0.Add(time.Hour + time.Second), Outcome: "found", Attempts: 2, PostID: 1005},
	}
	for _, r := range runs {
		if err := st.RecordRun(ctx, r); err != nil {
			t.Fatalf("record run %s: %v", r.ID, err)
		}
	}

	got, err := st.RecentRuns(ctx, 5)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "b" || got[0].PostID != 1005 {
		t.Fatalf("unexpected newest run: %+v", got[0])
	}
	if got[1].PostID != 0 || got[1].Error != "" {
		t.Fatalf("unexpected oldest run: %+v", got[1])
	}

	if err := st.RecordRun(ctx, Run{Outcome: "found"}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestPruneRuns(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	old := Run{ID: "old", StartedAt: t0.AddDate(0, 0, -40), FinishedAt: t0.AddDate(0, 0, -40), Outcome: "exhausted"}
	fresh := Run{ID: "fresh", StartedAt: t0.Add(-time.Hour), FinishedAt: t0, Outcome: "found"}
	for _, r := range []Run{old, fresh} {
		if err := st.RecordRun(ctx, r); err != nil {
			t.Fatalf("record run: %v", err)
		}
	}

	n, err := st.PruneRuns(ctx, 30)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}

	n, err = st.PruneRuns(ctx, 0)
	if err != nil || n != 0 {
		t.Fatalf("prune disabled: %d %v", n, err)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 16, 10, 0, 0, 123456789, time.FixedZone("X", 3600))
	got, err := parseTime(formatTime(ts))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(ts) {
		t.Fatalf("got %s, want %s", got, ts)
	}

	zero, err := parseTime("")
	if err != nil || !zero.IsZero() {
		t.Fatalf("empty value: %s %v", zero, err)
	}
}
