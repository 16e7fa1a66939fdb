package main

import (
	"bytes"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	cases := map[string]string{
		"52428800":  "small",
		"104857600": "large",
	}
	for size, want := range cases {
		out, err := run(t, "classify", size)
		if err != nil {
			t.Fatalf("classify %s: %v", size, err)
		}
		if strings.TrimSpace(out) != want {
			t.Fatalf("classify %s = %q, want %s", size, out, want)
		}
	}
	out, err := run(t, "classify", "--threshold", "10", "20971520")
	if err != nil || strings.TrimSpace(out) != "large" {
		t.Fatalf("custom threshold: %q %v", out, err)
	}
	if _, err := run(t, "classify", "lots"); err == nil {
		t.Fatal("expected error for non-numeric size")
	}
}

func TestRedispatchRejectsForeignKeys(t *testing.T) {
	if _, err := run(t, "job", "redispatch", "uploads", "outputs/abc/a.mp4"); err == nil {
		t.Fatal("expected error for key outside uploads/")
	}
}

func TestServeHasEveryRole(t *testing.T) {
	root := newRootCommand()
	serve, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("find serve: %v", err)
	}
	roles := map[string]bool{}
	for _, c := range serve.Commands() {
		roles[c.Name()] = true
	}
	for _, want := range []string{"api", "executor", "worker"} {
		if !roles[want] {
			t.Fatalf("serve is missing %s", want)
		}
	}
}
