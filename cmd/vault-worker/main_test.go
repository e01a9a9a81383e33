package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IvPalmer/vault-sub000/internal/amqp"
	"github.com/IvPalmer/vault-sub000/internal/store"
)

func TestBackupWriter_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "backup.jsonl")
	w, err := newBackupWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg := amqp.NewCommitMessage(store.NewEvent("transaction.renamed", 7))
	if err := w.Append(ctx, msg); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(ctx, amqp.NewCommitMessage(store.NewEvent("mapping.updated", 9))); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"transaction.renamed"`) {
		t.Errorf("first line = %s, want the renamed event", lines[0])
	}
}
