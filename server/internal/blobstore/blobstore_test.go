package blobstore

import (
	"path/filepath"
	"testing"
)

type doc struct {
	Values []int `json:"values"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "nested", "blob.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := doc{Values: []int{1, 2, 3}}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got doc
	if err := s.Load(&got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Values) != 3 || got.Values[2] != 3 {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLoadMissingFileLeavesDestUntouched(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "blob.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := doc{Values: []int{9}}
	if err := s.Load(&got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Values) != 1 || got.Values[0] != 9 {
		t.Fatalf("Load mutated dst on missing file: %+v", got)
	}
}

func TestSaveLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "blob.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Save(doc{Values: []int{1}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, ".*.tmp"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("leftover temp files: %v", matches)
	}
}
