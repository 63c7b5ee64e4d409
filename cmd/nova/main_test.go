package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.Contains(out.String(), "Nova") {
		t.Errorf("version output = %q", out.String())
	}
	if !strings.Contains(out.String(), "go_version") {
		t.Error("version output missing build fields")
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.Contains(out.String(), `"version"`) {
		t.Errorf("json output = %q", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"dance"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v, want unknown command", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"-frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("err = %v, want unknown flag", err)
	}
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), strings.NewReader(""), &out, &errOut, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"chat", "serve", "export", "import", "version"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("usage missing %q", want)
		}
	}
}

func TestRunBadOutputFormat(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"-o", "xml", "version"})
	if err == nil || !strings.Contains(err.Error(), "output format") {
		t.Errorf("err = %v, want output format error", err)
	}
}

func TestExportRequiresFile(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"export"})
	if err == nil || !strings.Contains(err.Error(), "usage: nova export") {
		t.Errorf("err = %v", err)
	}
}

func TestImportRequiresFile(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut, []string{"import"})
	if err == nil || !strings.Contains(err.Error(), "usage: nova import") {
		t.Errorf("err = %v", err)
	}
}

// writeTestConfig creates a minimal config file with no API key, with
// session storage under dir.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	cfg := "data_dir: " + dir + "\nlog_level: error\n"
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestExportImportWithoutAPIKey(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	t.Setenv("GEMINI_API_KEY", "")

	backupPath := filepath.Join(dir, "backup.json")
	var out, errOut bytes.Buffer
	if err := run(context.Background(), strings.NewReader(""), &out, &errOut,
		[]string{"-config", cfgPath, "export", backupPath}); err != nil {
		t.Fatalf("export without credentials: %v", err)
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	if !strings.Contains(string(data), `"version": 1`) {
		t.Errorf("backup = %s", data)
	}

	out.Reset()
	if err := run(context.Background(), strings.NewReader("y\n"), &out, &errOut,
		[]string{"-config", cfgPath, "import", backupPath}); err != nil {
		t.Fatalf("import without credentials: %v", err)
	}
	if !strings.Contains(out.String(), "Restored") {
		t.Errorf("import output = %q", out.String())
	}
}

func TestChatRequiresAPIKey(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	t.Setenv("GEMINI_API_KEY", "")

	var out, errOut bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &errOut,
		[]string{"-config", cfgPath, "chat"})
	if err == nil || !strings.Contains(err.Error(), "API key") {
		t.Errorf("err = %v, want a missing key error", err)
	}
}
