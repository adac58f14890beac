// Package sequregistry persists registered sequence definitions and
// templates (spec §4.D's "registers the resulting concrete sequence",
// named explicitly as SequenceRegistry in original_source/). Working data
// — not configuration — so it survives a process restart the same way the
// teacher's storage.DB persists baselines and ledger entries: BoltDB with
// named buckets, JSON values, a schema-version guard on open.
package sequregistry

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mxrc/control-core/internal/coreerr"
	"github.com/mxrc/control-core/internal/sequence"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketSequences = "sequences"
	bucketTemplates = "templates"
	bucketMeta      = "meta"
)

// Record is the persisted envelope around a registered sequence
// definition.
type Record struct {
	Definition sequence.SequenceDefinition `json:"definition"`
	RegisteredAt time.Time                 `json:"registered_at"`
}

// TemplateRecord is the persisted envelope around a registered template.
type TemplateRecord struct {
	Template     sequence.Template `json:"template"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// Store is a BoltDB-backed SequenceRegistry.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the registry database at path, initialising
// buckets and verifying schema compatibility.
func Open(path string) (*Store, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("sequregistry.Open(%q): %w", path, err)
	}

	s := &Store{db: bdb}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketSequences, bucketTemplates, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			return meta.Put([]byte("schema_version"), []byte(SchemaVersion))
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("sequregistry: init: %w", err)
	}

	if err := s.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) checkSchemaVersion() error {
	return s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketMeta)).Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf("sequregistry: schema version mismatch: have %q, want %q", v, SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RegisterSequence persists def under its own id. Overwrites any existing
// record with the same id.
func (s *Store) RegisterSequence(def sequence.SequenceDefinition) error {
	rec := Record{Definition: def, RegisteredAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sequregistry.RegisterSequence marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSequences)).Put([]byte(def.ID), data)
	})
}

// GetSequence returns the registered definition for id.
func (s *Store) GetSequence(id string) (sequence.SequenceDefinition, bool, error) {
	var rec Record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketSequences)).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return sequence.SequenceDefinition{}, false, fmt.Errorf("sequregistry.GetSequence(%q): %w", id, err)
	}
	if !found {
		return sequence.SequenceDefinition{}, false, nil
	}
	return rec.Definition, true, nil
}

// ListSequences returns all registered sequence ids.
func (s *Store) ListSequences() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSequences)).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// RemoveSequence deletes a registered sequence. Returns ErrNotFound if it
// was not registered.
func (s *Store) RemoveSequence(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSequences))
		if b.Get([]byte(id)) == nil {
			return coreerr.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// RegisterTemplate persists tmpl under its own id.
func (s *Store) RegisterTemplate(tmpl sequence.Template) error {
	rec := TemplateRecord{Template: tmpl, RegisteredAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sequregistry.RegisterTemplate marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketTemplates)).Put([]byte(tmpl.ID), data)
	})
}

// GetTemplate returns the registered template for id.
func (s *Store) GetTemplate(id string) (sequence.Template, bool, error) {
	var rec TemplateRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketTemplates)).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return sequence.Template{}, false, fmt.Errorf("sequregistry.GetTemplate(%q): %w", id, err)
	}
	if !found {
		return sequence.Template{}, false, nil
	}
	return rec.Template, true, nil
}
