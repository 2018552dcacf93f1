package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/keyhaven/keybridge/internal/testutil/testlog"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	now := time.Unix(1700000000, 0).UTC()

	if _, ok, err := s.Get("accounts"); err != nil || ok {
		t.Fatalf("expected miss on fresh store, ok=%v err=%v", ok, err)
	}

	entry := Entry{Key: "accounts", Value: json.RawMessage(`{"accounts":[]}`), StoredAt: now}
	if err := s.Set(entry); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := s.Get("accounts")
	if err != nil || !ok {
		t.Fatalf("get after set: ok=%v err=%v", ok, err)
	}
	if string(got.Value) != `{"accounts":[]}` {
		t.Fatalf("unexpected value %s", got.Value)
	}
	if !got.StoredAt.Equal(now) {
		t.Fatalf("timestamp not preserved: %v", got.StoredAt)
	}

	entry.Value = json.RawMessage(`{"accounts":[{"id":1}]}`)
	if err := s.Set(entry); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, _ = s.Get("accounts")
	if string(got.Value) != `{"accounts":[{"id":1}]}` {
		t.Fatalf("overwrite not applied: %s", got.Value)
	}

	if err := s.Delete("accounts"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get("accounts"); ok {
		t.Fatalf("entry survived delete")
	}
	// Deleting an absent key is not an error.
	if err := s.Delete("accounts"); err != nil {
		t.Fatalf("double delete: %v", err)
	}

	if err := s.Set(Entry{Key: "  "}); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testlog.Start(t)
	exerciseStore(t, NewMemory())
}

func TestBadgerStore(t *testing.T) {
	testlog.Start(t)
	b, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	exerciseStore(t, b)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	b, err := OpenBadger(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	entry := Entry{Key: "cards", Value: json.RawMessage(`{"cards":[]}`), StoredAt: time.Now().UTC()}
	if err := b.Set(entry); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err = OpenBadger(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	if _, ok, err := b.Get("cards"); err != nil || !ok {
		t.Fatalf("entry lost across reopen: ok=%v err=%v", ok, err)
	}
}
