package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/vovakirdan/presencebridge/internal/auth"
)

func TestHashPasswordCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"hash-password", "s3cret"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if err := auth.ComparePassword(hash, "s3cret"); err != nil {
		t.Fatalf("printed hash does not match: %v", err)
	}
}

func TestHashPasswordFromStdin(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("from-stdin\n"))
	cmd.SetArgs([]string{"hash-password"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := auth.ComparePassword(strings.TrimSpace(out.String()), "from-stdin"); err != nil {
		t.Fatalf("printed hash does not match: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), version) {
		t.Fatalf("unexpected version output %q", out.String())
	}
}
