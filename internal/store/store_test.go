package store

import (
	"errors"
	"testing"
)

func TestSaveAndRead(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Save("bom.xlsx", []byte("payload")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Read("bom.xlsx")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Read = %q, want %q", got, "payload")
	}
}

func TestSaveOverwrites(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Save("bom.xlsx", []byte("v1")); err != nil {
		t.Fatalf("Save v1: %v", err)
	}
	if err := s.Save("bom.xlsx", []byte("v2")); err != nil {
		t.Fatalf("Save v2: %v", err)
	}
	got, _ := s.Read("bom.xlsx")
	if string(got) != "v2" {
		t.Errorf("Read = %q, want %q", got, "v2")
	}
}

func TestReadMissing(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.Read("nope.xlsx")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Read missing = %v, want ErrNotFound", err)
	}
}

func TestRejectsTraversalNames(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, name := range []string{"", ".", "..", "../etc/passwd", "a/b.xlsx", `a\b.xlsx`} {
		if err := s.Save(name, []byte("x")); !errors.Is(err, ErrBadName) {
			t.Errorf("Save(%q) = %v, want ErrBadName", name, err)
		}
		if _, err := s.Read(name); !errors.Is(err, ErrBadName) {
			t.Errorf("Read(%q) = %v, want ErrBadName", name, err)
		}
	}
}
