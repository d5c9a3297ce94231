package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/relaypan/internal/config"
	"github.com/ppiankov/relaypan/internal/privacy"
	"github.com/ppiankov/relaypan/internal/rotation"
)

var (
	importState    string
	importLastID   string
	importAccounts string
	importDryRun   bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import credentials, rotation state and the last post ID from an older installation",
	Long: "import reads the files an older installation kept next to its script: the JSON credential " +
		"list, the state file with cooldowns and the current position, and the file holding the last " +
		"published post ID. Cooldown times without an offset are read in the local time zone.",
	RunE: importAction,
}

func init() {
	importCmd.Flags().StringVar(&importState, "state", "", "rotation state file (api_states.json)")
	importCmd.Flags().StringVar(&importLastID, "last-id", "", "file holding the last published post ID")
	importCmd.Flags().StringVar(&importAccounts, "accounts", "", "JSON credential list to append to the accounts file")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "show what would be imported without writing anything")
	rootCmd.AddCommand(importCmd)
}

func importAction(cmd *cobra.Command, _ []string) error {
	if importState == "" && importLastID == "" && importAccounts == "" {
		return errors.New("nothing to import: pass --state, --last-id or --accounts")
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if importAccounts != "" {
		if err := importAccountList(cfg.Resolve(cfg.Accounts.File), importAccounts); err != nil {
			return err
		}
	}

	var (
		state    rotation.State
		hasState bool
		lastID   int64
	)
	if importState != "" {
		data, err := os.ReadFile(importState)
		if err != nil {
			return fmt.Errorf("read state: %w", err)
		}
		state, err = rotation.ParseRecord(data, time.Local)
		if err != nil {
			return fmt.Errorf("parse state: %w", err)
		}
		hasState = true
	}
	if importLastID != "" {
		lastID, err = readLastID(importLastID)
		if err != nil {
			return err
		}
	}

	if importDryRun {
		if hasState {
			fmt.Printf("Would import rotation state: %d positions, cursor %d, %d cooling down.\n",
				len(state.Credentials), state.Cursor, countBlocked(state))
		}
		if lastID > 0 {
			fmt.Printf("Would seed watermark at %d.\n", lastID)
		}
		return nil
	}
	if !hasState && lastID == 0 {
		return nil
	}

	_, st, err := openWorkspace()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := cmd.Context()
	if hasState {
		if err := st.SaveRotation(ctx, state); err != nil {
			return err
		}
		fmt.Printf("Imported rotation state: %d positions, cursor %d, %d cooling down.\n",
			len(state.Credentials), state.Cursor, countBlocked(state))
	}
	if lastID > 0 {
		if err := st.SeedWatermark(ctx, lastID); err != nil {
			return err
		}
		wm, _, err := st.Watermark(ctx)
		if err != nil {
			return err
		}
		if wm != lastID {
			fmt.Printf("Watermark already at %d, kept (imported %d).\n", wm, lastID)
		} else {
			fmt.Printf("Seeded watermark at %d.\n", lastID)
		}
	}
	return nil
}

// readLastID parses a file holding a single post ID. An empty file means no
// post was published yet.
func readLastID(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read last id: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("last id file %s: invalid post id %q", path, raw)
	}
	return id, nil
}

func countBlocked(st rotation.State) int {
	n := 0
	for _, c := range st.Credentials {
		if c.Status == rotation.StatusBlocked {
			n++
		}
	}
	return n
}

// importAccountList appends the credentials in legacyPath that accountsPath
// does not already hold. Order is kept, so pool positions line up with the
// imported rotation state.
func importAccountList(accountsPath, legacyPath string) error {
	incoming, err := config.LoadAccounts(legacyPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", legacyPath, err)
	}

	existing, err := config.LoadAccounts(accountsPath)
	if err != nil && !errors.Is(err, config.ErrNoAccounts) && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, a := range existing {
		if a.BearerToken != "" {
			known[a.BearerToken] = true
		}
	}

	var added []config.Account
	skipped := 0
	for _, a := range incoming {
		if a.BearerToken == "" || known[a.BearerToken] {
			skipped++
			continue
		}
		known[a.BearerToken] = true
		a.Name = fmt.Sprintf("account-%d", len(existing)+len(added))
		added = append(added, a)
	}

	if len(added) == 0 {
		fmt.Printf("All %d credentials already present, nothing to add.\n", skipped)
		return nil
	}

	if importDryRun {
		fmt.Printf("Would add %d credentials (skipping %d):\n", len(added), skipped)
		for _, a := range added {
			fmt.Printf("  + %s %s\n", a.Name, privacy.Mask(a.BearerToken))
		}
		return nil
	}

	if err := mergeAccounts(accountsPath, added); err != nil {
		return fmt.Errorf("merge accounts: %w", err)
	}
	fmt.Printf("Added %d credentials, skipped %d.\n", len(added), skipped)
	return nil
}

// mergeAccounts appends entries to the accounts sequence of path, keeping the
// rest of the document (comments included) as it was.
func mergeAccounts(path string, added []config.Account) error {
	var doc yaml.Node
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		data = []byte("accounts: []\n")
	case err != nil:
		return fmt.Errorf("read accounts: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse accounts YAML: %w", err)
	}

	seq := findAccountsNode(&doc)
	if seq == nil {
		return fmt.Errorf("could not find an accounts list in %s", path)
	}
	seq.Style = 0

	for _, a := range added {
		seq.Content = append(seq.Content, &yaml.Node{
			Kind: yaml.MappingNode,
			Tag:  "!!map",
			Content: []*yaml.Node{
				scalar("name"), scalar(a.Name),
				scalar("kind"), scalar(config.AccountKindAPI),
				scalar("bearer_token"), quoted(a.BearerToken),
			},
		})
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}

func findAccountsNode(doc *yaml.Node) *yaml.Node {
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return findAccountsNode(doc.Content[0])
	}
	node := findMapValue(doc, "accounts")
	if node == nil || node.Kind != yaml.SequenceNode {
		return nil
	}
	return node
}

func findMapValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func quoted(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v, Style: yaml.DoubleQuotedStyle}
}
