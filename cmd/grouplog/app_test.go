package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"grouplog/pkg/chatlog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const importFixture = `[
	{"message_id": 1, "time": 1700000000, "sender": {"user_id": 10001, "nickname": "Alice"},
	 "message": [{"type": "text", "data": {"text": "hello"}}]},
	{"message_id": 2, "time": 1700000060, "sender": {"user_id": 10002, "nickname": "Bob"},
	 "message": [
		{"type": "reply", "data": {"id": 1}},
		{"type": "text", "data": {"text": "hi"}},
		{"type": "at", "data": {"qq": 10001}}
	 ]}
]`

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	dataDir := filepath.Join(dir, "logs")
	configPath := filepath.Join(dir, "grouplog.json")
	content := `{"log_level": "error", "timezone": "UTC", "max_history": 10, "data_dir": ` +
		strconvQuote(dataDir) + `}`
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return configPath, dataDir
}

func strconvQuote(value string) string {
	encoded, _ := json.Marshal(value)
	return string(encoded)
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return stdout.String(), err
}

func TestImportTranscriptReset(t *testing.T) {
	t.Parallel()

	configPath, dataDir := writeTestConfig(t)
	fixturePath := filepath.Join(t.TempDir(), "messages.json")
	if err := os.WriteFile(fixturePath, []byte(importFixture), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	out, err := execute(t, "", "--config", configPath, "import", "123", fixturePath)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if want := "group 123: added 2, skipped 0, dropped 0, total 2\n"; out != want {
		t.Fatalf("import output = %q, want %q", out, want)
	}

	out, err = execute(t, importFixture, "--config", configPath, "import", "123", "-")
	if err != nil {
		t.Fatalf("re-import failed: %v", err)
	}
	if want := "group 123: added 0, skipped 2, dropped 0, total 2\n"; out != want {
		t.Fatalf("re-import output = %q, want %q", out, want)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "123.json")); err != nil {
		t.Fatalf("log file missing: %v", err)
	}

	out, err = execute(t, "", "--config", configPath, "transcript", "123")
	if err != nil {
		t.Fatalf("transcript failed: %v", err)
	}
	want := "[Alice(id:10001)/2023-11-14 22:13:20]:hello" + "\n---\n" +
		"[Bob(id:10002)/2023-11-14 22:14:20]:[quote: Alice(id:10001)'s message: hello]hi[@Alice(id:10001)]\n"
	if out != want {
		t.Fatalf("transcript =\n%s\nwant\n%s", out, want)
	}

	out, err = execute(t, "", "--config", configPath, "transcript", "123", "--json")
	if err != nil {
		t.Fatalf("transcript --json failed: %v", err)
	}
	var decoded transcriptOutput
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode transcript json: %v", err)
	}
	if decoded.GroupID != "123" || decoded.Images == nil || !strings.HasPrefix(decoded.Text, "[Alice") {
		t.Fatalf("transcript json = %+v", decoded)
	}

	out, err = execute(t, "", "--config", configPath, "reset", "123")
	if err != nil || out != "group 123: reset\n" {
		t.Fatalf("reset = %q, %v", out, err)
	}

	_, err = execute(t, "", "--config", configPath, "transcript", "123")
	if !errors.Is(err, chatlog.ErrNotFound) {
		t.Fatalf("transcript after reset error = %v, want not found", err)
	}
}

func TestCommandErrors(t *testing.T) {
	t.Parallel()

	configPath, _ := writeTestConfig(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing config file", args: []string{"--config", filepath.Join(t.TempDir(), "none.json"), "reset", "1"}},
		{name: "invalid group id", args: []string{"--config", configPath, "reset", "../escape"}},
		{name: "import without arguments", args: []string{"--config", configPath, "import", "123"}},
		{name: "sync without driver", args: []string{"--config", configPath, "sync", "123"}},
		{name: "serve without driver", args: []string{"--config", configPath, "serve"}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if _, err := execute(t, "", testCase.args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDecodeImport(t *testing.T) {
	t.Parallel()

	message := `{"message_id": 5, "time": 1, "sender": {"user_id": 1}, "message": "x"}`
	tests := []struct {
		name    string
		data    string
		wantLen int
		wantErr bool
	}{
		{name: "bare array", data: `[` + message + `]`, wantLen: 1},
		{name: "history data", data: `{"messages": [` + message + `,` + message + `]}`, wantLen: 2},
		{name: "full response", data: `{"status": "ok", "data": {"messages": [` + message + `]}}`, wantLen: 1},
		{name: "invalid json", data: `{`, wantErr: true},
		{name: "no array", data: `{"data": {}}`, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			messages, err := decodeImport([]byte(testCase.data))
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeImport() failed: %v", err)
			}
			if len(messages) != testCase.wantLen {
				t.Fatalf("messages = %d, want %d", len(messages), testCase.wantLen)
			}
		})
	}
}

func TestWaitGroupBoundsShutdown(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	group := &errgroup.Group{}
	group.Go(func() error {
		<-release
		return nil
	})

	cancel()
	err := waitGroup(ctx, group, 20*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "shutdown timed out") {
		t.Fatalf("waitGroup() = %v, want timeout", err)
	}

	close(release)
	if err := group.Wait(); err != nil {
		t.Fatalf("group.Wait() = %v", err)
	}
}
