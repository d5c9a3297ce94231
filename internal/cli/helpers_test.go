package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ppiankov/relaypan/internal/store"
)

const testTimeline = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>wolverine / @wolverine</title>
  <link>https://mirror.test/wolverine</link>
  <item>
    <title>Second post</title>
    <description><![CDATA[<p>Second post</p>]]></description>
    <pubDate>Mon, 16 Feb 2026 10:00:00 GMT</pubDate>
    <link>https://mirror.test/wolverine/status/2002#m</link>
  </item>
  <item>
    <title>First post</title>
    <description><![CDATA[<p>First post</p>]]></description>
    <pubDate>Mon, 16 Feb 2026 09:00:00 GMT</pubDate>
    <link>https://mirror.test/wolverine/status/2001#m</link>
  </item>
</channel>
</rss>`

// timelineServer serves testTimeline under /ok/ and answers 429 under
// /limited/.
func timelineServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/limited/"):
			w.WriteHeader(http.StatusTooManyRequests)
		case strings.HasPrefix(r.URL.Path, "/ok/"):
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = io.WriteString(w, testTimeline)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeWorkspace creates a config directory with a dir sink and two feed
// accounts: position 0 is rate limited, position 1 serves the timeline.
// publishExtra is inserted under the publish section.
func writeWorkspace(t *testing.T, feedURL, publishExtra string) string {
	t.Helper()
	dir := t.TempDir()

	cfg := fmt.Sprintf(`target:
  username: wolverine
  batch_size: 5
publish:
  dir:
    path: out
%s
log:
  level: error
  format: json
`, publishExtra)
	writeTestFile(t, filepath.Join(dir, "config.yaml"), cfg)

	accounts := fmt.Sprintf(`accounts:
  - name: limited
    kind: feed
    feed_url: "%[1]s/limited/{username}"
  - name: mirror
    kind: feed
    feed_url: "%[1]s/ok/{username}"
`, feedURL)
	writeTestFile(t, filepath.Join(dir, "accounts.yaml"), accounts)
	return dir
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// useWorkspace points the package flags at dir and restores them afterwards.
func useWorkspace(t *testing.T, dir string) {
	t.Helper()

	oldConfigDir := configDir
	oldRunEvery := runEvery
	oldNoColor := noColor
	oldLogLevel := logLevel
	oldLogFormat := logFormat
	oldStatusFormat := statusFormat
	oldHistoryFormat := historyFormat
	oldHistoryLimit := historyLimit
	oldUnblockAll := unblockAll
	oldImportState := importState
	oldImportLastID := importLastID
	oldImportAccounts := importAccounts
	oldImportDryRun := importDryRun
	t.Cleanup(func() {
		configDir = oldConfigDir
		runEvery = oldRunEvery
		noColor = oldNoColor
		logLevel = oldLogLevel
		logFormat = oldLogFormat
		statusFormat = oldStatusFormat
		historyFormat = oldHistoryFormat
		historyLimit = oldHistoryLimit
		unblockAll = oldUnblockAll
		importState = oldImportState
		importLastID = oldImportLastID
		importAccounts = oldImportAccounts
		importDryRun = oldImportDryRun
	})

	configDir = dir
	runEvery = ""
	noColor = true
	logLevel = ""
	logFormat = ""
	statusFormat = "terminal"
	historyFormat = "terminal"
	historyLimit = 10
	unblockAll = false
	importState = ""
	importLastID = ""
	importAccounts = ""
	importDryRun = false
}

func testCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("open stdout pipe: %v", err)
	}

	os.Stdout = writer
	runErr := fn()
	_ = writer.Close()
	os.Stdout = oldStdout

	out, readErr := io.ReadAll(reader)
	_ = reader.Close()
	if readErr != nil {
		t.Fatalf("read stdout pipe: %v", readErr)
	}
	return string(out), runErr
}

func openWorkspaceStore(t *testing.T, dir string) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(dir, "relaypan.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()

	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, got)
	}
}
