package cli

import "testing"

func TestVersionNotEmpty(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestExecuteVersion(t *testing.T) {
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	out, err := captureStdout(t, rootCmd.Execute)
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	requireContains(t, out, "relaypan dev")
}

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{"run", "status", "history", "unblock", "import", "doctor", "init", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestGlobalFlagsBound(t *testing.T) {
	for _, name := range []string{"config", "log-level", "log-format", "no-color"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("persistent flag --%s missing", name)
		}
	}
	if f := rootCmd.PersistentFlags().Lookup("config"); f != nil && f.DefValue != defaultConfigDir {
		t.Errorf("--config default = %q, want %q", f.DefValue, defaultConfigDir)
	}
}
