package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestLocalStoreRequiresDirectory(t *testing.T) {
	if _, err := NewLocalStore("   "); err == nil {
		t.Fatal("expected error for blank directory")
	}
}

func TestLocalStoreExists(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "template1.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ok, err := store.Exists(context.Background(), "template1.png")
	if err != nil || !ok {
		t.Fatalf("expected present asset, got ok=%v err=%v", ok, err)
	}

	ok, err = store.Exists(context.Background(), "missing.png")
	if err != nil {
		t.Fatalf("a missing asset is not an error: %v", err)
	}
	if ok {
		t.Fatal("expected missing asset")
	}
}

func TestLocalStoreLoad(t *testing.T) {
	dir := t.TempDir()
	want := []byte{0x89, 'P', 'N', 'G'}
	if err := os.WriteFile(filepath.Join(dir, "template2.png"), want, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	got, err := store.Load(context.Background(), "template2.png")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if _, err := store.Load(context.Background(), "missing.png"); err == nil {
		t.Fatal("expected error for missing asset")
	}
}

func TestLocalStoreListSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.png"), []byte("a"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.png"), []byte("b"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	keys, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a.png" || keys[1] != "b.png" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}
