package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()

	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore error: %v", err)
	}
	return store
}

func TestLocalStore_ApplyAndRead(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	err := store.Apply(ctx, Changeset{
		Message: "add order",
		Files: []File{
			{Path: "img/mug/mug_1/lamina_mug_1.png", Content: []byte("png")},
			{Path: "pedidos.json", Content: []byte("[]")},
		},
	})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	data, err := store.ReadFile(ctx, "img/mug/mug_1/lamina_mug_1.png")
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(data) != "png" {
		t.Errorf("expected %q, got %q", "png", string(data))
	}

	info, err := os.Stat(filepath.Join(store.Root(), "pedidos.json"))
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("expected mode 0644, got %v", info.Mode().Perm())
	}
}

func TestLocalStore_ListDir(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	err := store.Apply(ctx, Changeset{Files: []File{
		{Path: "img/mug/mug_1/a.png", Content: []byte("a")},
		{Path: "img/mug/mug_2/b.png", Content: []byte("b")},
		{Path: "img/mug/notes.txt", Content: []byte("c")},
	}})
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	entries, err := store.ListDir(ctx, "img/mug")
	if err != nil {
		t.Fatalf("ListDir error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(entries), entries)
	}

	dirs := 0
	for _, e := range entries {
		if e.IsDir {
			dirs++
		}
		if e.Path != "img/mug/"+e.Name {
			t.Errorf("unexpected path %q for entry %q", e.Path, e.Name)
		}
	}
	if dirs != 2 {
		t.Errorf("expected 2 directories, got %d", dirs)
	}
}

func TestLocalStore_NotFound(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	if _, err := store.ListDir(ctx, "img/camiseta"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound from ListDir, got %v", err)
	}
	if _, err := store.ReadFile(ctx, "pedidos.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound from ReadFile, got %v", err)
	}
}

func TestLocalStore_URL(t *testing.T) {
	store := newTestLocalStore(t)

	got, err := store.URL(context.Background(), "img/mug/mug_1/lamina_mug_1.png")
	if err != nil {
		t.Fatalf("URL error: %v", err)
	}
	if got != "/img/mug/mug_1/lamina_mug_1.png" {
		t.Errorf("unexpected url %q", got)
	}
}

func TestLocalStore_RejectsEscapingPaths(t *testing.T) {
	store := newTestLocalStore(t)

	err := store.Apply(context.Background(), Changeset{Files: []File{{Path: "../outside.txt", Content: []byte("x")}}})
	if err == nil {
		t.Fatal("expected error for path leaving the store root")
	}
}

func TestCleanPath(t *testing.T) {
	valid := map[string]string{
		"img/mug":      "img/mug",
		"/img/mug/":    "img/mug",
		"img//mug/./a": "img/mug/a",
		"pedidos.json": "pedidos.json",
	}
	for in, want := range valid {
		got, err := CleanPath(in)
		if err != nil {
			t.Errorf("CleanPath(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("CleanPath(%q) = %q, want %q", in, got, want)
		}
	}

	for _, in := range []string{"", "/", "..", "img/../../etc", `img\mug`} {
		if _, err := CleanPath(in); err == nil {
			t.Errorf("CleanPath(%q) expected error", in)
		}
	}
}
