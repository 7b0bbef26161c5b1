package util

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("Expected lines of at most %d characters, got %d: %q", Wrap, len(line), line)
		}
	}
	if got := WrapString("short text"); got != "short text" {
		t.Errorf("Expected short text unchanged, got %q", got)
	}
}

func TestStoreLifecycle(t *testing.T) {
	cmd := StoreCommand(&cobra.Command{Use: "test"})
	SetupStoreFlags(cmd)
	if err := cmd.ParseFlags([]string{"--engine", "maple"}); err != nil {
		t.Fatal(err)
	}

	if err := cmd.PersistentPreRunE(cmd, nil); err != nil {
		t.Fatalf("Expected the store to open, got %v", err)
	}
	if Store() == nil {
		t.Fatalf("Expected an open store")
	}
	if err := CloseStore(); err != nil {
		t.Errorf("Expected clean close, got %v", err)
	}
	if err := CloseStore(); err != nil {
		t.Errorf("Expected a second close to be a no-op, got %v", err)
	}
}
