package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func TestCommands_Registered(t *testing.T) {
	t.Parallel()

	want := []string{"scan", "refresh", "reindex", "retry", "find", "get", "archives", "stats", "watch", "dump", "restore", "events"}
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("expected %q subcommand to be registered on rootCmd", name)
		}
	}
}

func TestCommands_Flags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd  *cobra.Command
		flag string
	}{
		{rootCmd, "archive-root"},
		{rootCmd, "catalog"},
		{rootCmd, "workers"},
		{rootCmd, "signature-mode"},
		{rootCmd, "telemetry"},
		{rootCmd, "metrics-file"},
		{reindexCmd, "force"},
		{findCmd, "category"},
		{findCmd, "prefix"},
		{findCmd, "after"},
		{findCmd, "limit"},
		{watchCmd, "debounce"},
		{restoreCmd, "purge"},
		{eventsCmd, "follow"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Name()+"/"+tt.flag, func(t *testing.T) {
			t.Parallel()
			flags := tt.cmd.Flags()
			if tt.cmd == rootCmd {
				flags = tt.cmd.PersistentFlags()
			}
			if flags.Lookup(tt.flag) == nil {
				t.Errorf("expected flag %q to be registered on %s", tt.flag, tt.cmd.Name())
			}
		})
	}
}

func TestFindHelpNamesExcludedStatuses(t *testing.T) {
	t.Parallel()

	for _, want := range []string{"indexed and stale", "failed or unindexed", "--status"} {
		if !strings.Contains(findCmd.Long, want) {
			t.Errorf("find help does not mention %q:\n%s", want, findCmd.Long)
		}
	}
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2024-06-03", time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), false},
		{"2024-06-03T12:30:00Z", time.Date(2024, 6, 3, 12, 30, 0, 0, time.UTC), false},
		{"yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTime(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPrintEvent(t *testing.T) {
	t.Parallel()

	line := `{"ts":"2025-01-01T10:00:00Z","kind":"reindex_done","run":"0123456789abcdef","archive":"LOCA.bin","data":{"outcome":"indexed","upserted":3}}`
	var buf bytes.Buffer
	printEvent(&buf, line, "")
	got := buf.String()
	for _, want := range []string{"[2025-01-01 10:00:00]", "reindex_done", "run=01234567", "archive=LOCA.bin", "outcome=indexed upserted=3"} {
		if !strings.Contains(got, want) {
			t.Errorf("printEvent output missing %q: %s", want, got)
		}
	}

	buf.Reset()
	printEvent(&buf, line, "other.bin")
	if buf.Len() != 0 {
		t.Errorf("expected event for another archive to be filtered, got %q", buf.String())
	}

	buf.Reset()
	printEvent(&buf, "not json", "")
	if !strings.HasPrefix(buf.String(), "???") {
		t.Errorf("expected ??? for a bad line, got %q", buf.String())
	}
}

// execute runs rootCmd with args and returns what it printed. Not safe for
// parallel use: cobra and viper state is global.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	defer resetFlags(rootCmd)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// resetFlags restores every flag of c and its children to its default so
// state does not leak between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestEndToEnd_RefreshFindDumpRestore(t *testing.T) {
	// Not parallel: drives the shared rootCmd.
	root := t.TempDir()
	for rel, body := range map[string]string{
		"LOCA.bin/LOCA.bin.mdat": "mdat",
		"LOCA.bin/logs/run.log":  "log line",
		"LOCA.bin/conf/deck.dat": "deck",
	} {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	work := t.TempDir()
	db := filepath.Join(work, "catalog.db")
	events := filepath.Join(work, "events.jsonl")
	prom := filepath.Join(work, "assasdb.prom")
	common := []string{"--catalog", db, "--log-level", "error"}

	out, err := execute(t, append([]string{"refresh", "--archive-root", root, "--telemetry", events, "--metrics-file", prom}, common...)...)
	if err != nil {
		t.Fatalf("refresh: %v\n%s", err, out)
	}
	if !strings.Contains(out, "LOCA.bin: indexed") {
		t.Errorf("refresh output missing indexed line:\n%s", out)
	}
	if data, err := os.ReadFile(prom); err != nil || !strings.Contains(string(data), "assasdb_manager_scans_total 1") {
		t.Errorf("metrics file not written correctly (err %v):\n%s", err, data)
	}

	out, err = execute(t, append([]string{"find", "--category", "log"}, common...)...)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !strings.Contains(out, "LOCA.bin:logs/run.log") || strings.Contains(out, "deck.dat") {
		t.Errorf("find --category log output:\n%s", out)
	}

	out, err = execute(t, append([]string{"get", "LOCA.bin", "logs/run.log"}, common...)...)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out, "log") || !strings.Contains(out, "8 B") {
		t.Errorf("get output:\n%s", out)
	}

	snapshot := filepath.Join(work, "catalog.dump")
	if out, err = execute(t, append([]string{"dump", snapshot}, common...)...); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if !strings.Contains(out, "dumped 1 archives, 3 documents") {
		t.Errorf("dump output:\n%s", out)
	}

	fresh := filepath.Join(work, "restored.db")
	out, err = execute(t, "restore", snapshot, "--catalog", fresh, "--log-level", "error")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !strings.Contains(out, "restored 1 archives, 3 documents") {
		t.Errorf("restore output:\n%s", out)
	}

	out, err = execute(t, "archives", "--catalog", fresh, "--log-level", "error")
	if err != nil {
		t.Fatalf("archives: %v", err)
	}
	if !strings.Contains(out, "LOCA.bin") || !strings.Contains(out, "indexed") {
		t.Errorf("archives output:\n%s", out)
	}

	out, err = execute(t, "events", events, "--archive", "LOCA.bin")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out, "archive_discovered") || !strings.Contains(out, "reindex_done") {
		t.Errorf("events output:\n%s", out)
	}
}

func TestEndToEnd_RequiresArchiveRoot(t *testing.T) {
	// Not parallel: drives the shared rootCmd.
	t.Setenv("ASSAS_ARCHIVE_ROOT", "")
	t.Setenv("LSDF_ARCHIVE", "")
	db := filepath.Join(t.TempDir(), "catalog.db")
	if _, err := execute(t, "scan", "--catalog", db, "--log-level", "error"); err == nil || !strings.Contains(err.Error(), "archive_root is not set") {
		t.Errorf("scan without root err = %v", err)
	}
}
