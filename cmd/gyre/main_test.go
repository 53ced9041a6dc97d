package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, args)
	return stdout.String(), stderr.String(), err
}

func TestRun_NoCommandPrintsUsage(t *testing.T) {
	out, _, err := runCLI(t)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "Usage: gyre") {
		t.Errorf("usage text missing, got:\n%s", out)
	}
	for _, cmd := range []string{"run", "journal", "init", "version"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("usage missing command %q", cmd)
		}
	}
}

func TestRun_HelpFlag(t *testing.T) {
	for _, flag := range []string{"-h", "-help", "--help"} {
		out, _, err := runCLI(t, flag)
		if err != nil {
			t.Fatalf("%s failed: %v", flag, err)
		}
		if !strings.Contains(out, "Usage: gyre") {
			t.Errorf("%s did not print usage", flag)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	_, _, err := runCLI(t, "bogus")
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected unknown command error, got %v", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	_, _, err := runCLI(t, "-frobnicate")
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Errorf("expected unknown flag error, got %v", err)
	}
}

func TestRun_BadOutputFormat(t *testing.T) {
	_, _, err := runCLI(t, "-o", "xml", "version")
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Errorf("expected output format error, got %v", err)
	}
}

func TestRun_RunRequiresPrompt(t *testing.T) {
	_, _, err := runCLI(t, "run")
	if err == nil || !strings.Contains(err.Error(), "usage: gyre run") {
		t.Errorf("expected prompt usage error, got %v", err)
	}
}

func TestRun_MissingExplicitConfig(t *testing.T) {
	_, _, err := runCLI(t, "-config", "/nonexistent/config.yaml", "run", "hi")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected config not found error, got %v", err)
	}
}

func TestRunVersion_Text(t *testing.T) {
	out, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "gyre") {
		t.Errorf("version output missing binary name:\n%s", out)
	}
	for _, key := range []string{"version:", "go_version:", "os:", "arch:"} {
		if !strings.Contains(out, key) {
			t.Errorf("version output missing %q", key)
		}
	}
}

func TestRunVersion_JSON(t *testing.T) {
	out, _, err := runCLI(t, "-o", "json", "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("version -o json produced invalid JSON: %v\n%s", err, out)
	}
	if info["version"] == "" {
		t.Error("version field empty in JSON output")
	}
}

func TestRun_FlagEqualsForms(t *testing.T) {
	out, _, err := runCLI(t, "-o=json", "version")
	if err != nil {
		t.Fatalf("-o=json failed: %v", err)
	}
	if !json.Valid([]byte(out)) {
		t.Errorf("-o=json did not produce JSON:\n%s", out)
	}
}
