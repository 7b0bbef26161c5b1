package cmd

import (
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/hkv/lib/common"
	"github.com/ValentinKolb/hkv/lib/db"
	"github.com/ValentinKolb/hkv/lib/store"
	"github.com/ValentinKolb/hkv/lib/store/lstore"
)

func execute(t *testing.T, dir string, args ...string) error {
	t.Helper()
	base := []string{"--engine", "bolt", "--data-dir", dir, "--log-level", "error", "--gc-interval=-1s"}
	RootCmd.SetArgs(append(base, args...))
	return RootCmd.Execute()
}

func TestCommandsPersistAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	steps := [][]string{
		{"hash", "hset", "user", "name", "alice", "age", "41"},
		{"hash", "hincrby", "user", "age", "1"},
		{"hash", "hdel", "user", "missing"},
		{"kv", "set", "greeting", "hello"},
		{"hash", "hcheck", "user"},
		{"range", "scan"},
		{"db", "dump", filepath.Join(dir, "hkv.dump")},
	}
	for _, args := range steps {
		if err := execute(t, dir, args...); err != nil {
			t.Fatalf("Expected %v to succeed, got %v", args, err)
		}
	}

	if err := execute(t, dir, "hash", "hincrby", "user", "name", "1"); err == nil {
		t.Errorf("Expected incrementing a non-integer field to fail")
	}
	if err := execute(t, dir, "hash", "hincrby", "user", "age", "one"); err == nil {
		t.Errorf("Expected an unparsable delta to fail")
	}

	// Reopen the engine directly and check what the commands left behind
	cfg := common.DefaultStoreConfig()
	cfg.Engine = db.ImplBolt
	cfg.DataDir = dir
	cfg.GCInterval = -1
	s, err := lstore.NewLocalStore(cfg.ToDBFactory(), nil)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s.Close()

	age, err := s.Hash().Get([]byte("user"), []byte("age"))
	if err != nil || string(age) != "42" {
		t.Errorf("Expected age 42, got %q (%v)", age, err)
	}
	if n, _ := s.Hash().Length([]byte("user")); n != 2 {
		t.Errorf("Expected 2 fields, got %d", n)
	}
	greeting, err := s.KV().Get([]byte("greeting"))
	if err != nil || string(greeting) != "hello" {
		t.Errorf("Expected greeting hello, got %q (%v)", greeting, err)
	}
	if _, err := s.KV().Get([]byte("user")); !store.IsNotFound(err) {
		t.Errorf("Expected the hash key to be absent from the kv keyspace, got %v", err)
	}
}

func TestRangeDeleteCommand(t *testing.T) {
	dir := t.TempDir()

	for _, args := range [][]string{
		{"hash", "hset", "a", "f", "v"},
		{"kv", "set", "b", "v"},
		{"hash", "hset", "c", "f", "v"},
		{"range", "del", "a", "b"},
	} {
		if err := execute(t, dir, args...); err != nil {
			t.Fatalf("Expected %v to succeed, got %v", args, err)
		}
	}

	cfg := common.DefaultStoreConfig()
	cfg.Engine = db.ImplBolt
	cfg.DataDir = dir
	cfg.GCInterval = -1
	s, err := lstore.NewLocalStore(cfg.ToDBFactory(), nil)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s.Close()

	if n, _ := s.Hash().Length([]byte("a")); n != 0 {
		t.Errorf("Expected hash a to be deleted, got %d fields", n)
	}
	if _, err := s.KV().Get([]byte("b")); !store.IsNotFound(err) {
		t.Errorf("Expected key b to be deleted, got %v", err)
	}
	if n, _ := s.Hash().Length([]byte("c")); n != 1 {
		t.Errorf("Expected hash c to survive, got %d fields", n)
	}
}
