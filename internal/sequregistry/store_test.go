package sequregistry

import (
	"path/filepath"
	"testing"

	"github.com/mxrc/control-core/internal/coreerr"
	"github.com/mxrc/control-core/internal/sequence"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterAndGetSequence(t *testing.T) {
	s := openTestStore(t)
	def := sequence.SequenceDefinition{ID: "seq-1", Name: "pallet move", Version: 1}

	if err := s.RegisterSequence(def); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok, err := s.GetSequence("seq-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Name != "pallet move" {
		t.Fatalf("got = %+v", got)
	}
}

func TestGetSequenceNotFound(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetSequence("missing")
	if err != nil || ok {
		t.Fatalf("expected not-found, got ok=%v err=%v", ok, err)
	}
}

func TestRemoveSequence(t *testing.T) {
	s := openTestStore(t)
	s.RegisterSequence(sequence.SequenceDefinition{ID: "seq-1"})
	if err := s.RemoveSequence("seq-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveSequence("seq-1"); err != coreerr.ErrNotFound {
		t.Fatalf("second remove err = %v, want ErrNotFound", err)
	}
}

func TestListSequences(t *testing.T) {
	s := openTestStore(t)
	s.RegisterSequence(sequence.SequenceDefinition{ID: "a"})
	s.RegisterSequence(sequence.SequenceDefinition{ID: "b"})
	ids, err := s.ListSequences()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want 2 entries", ids)
	}
}

func TestRegisterAndGetTemplate(t *testing.T) {
	s := openTestStore(t)
	tmpl := sequence.Template{ID: "tmpl-1", Name: "pick template"}
	if err := s.RegisterTemplate(tmpl); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, ok, err := s.GetTemplate("tmpl-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Name != "pick template" {
		t.Fatalf("got = %+v", got)
	}
}
