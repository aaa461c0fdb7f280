package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/halcyonmail/campaignd/internal/models"
)

var (
	bucketEvents    = []byte("events")
	bucketByMessage = []byte("by_message")
)

// Store is an append-only audit log of raw provider delivery events,
// kept regardless of whether the rest of webhook processing no-ops so
// that incidents can be replayed forensically.
type Store struct {
	db *bolt.DB
}

// NewStore opens the event store at path
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketByMessage} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Append stores a delivery event. Events are never updated or deleted.
func (s *Store) Append(event *models.DeliveryEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		key := makeKey(event.CreatedAt, event.ID)
		if err := tx.Bucket(bucketEvents).Put(key, data); err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}

		// Secondary index for lookup by provider message id. The
		// time-ordered primary key is the suffix so iteration under one
		// message id follows append order.
		if event.MessageID != "" {
			idxKey := []byte(event.MessageID + ":" + string(key))
			if err := tx.Bucket(bucketByMessage).Put(idxKey, key); err != nil {
				return fmt.Errorf("failed to index event: %w", err)
			}
		}
		return nil
	})
}

// ListByMessageID returns all stored events for a provider message id
// in append order.
func (s *Store) ListByMessageID(messageID string) ([]*models.DeliveryEvent, error) {
	var events []*models.DeliveryEvent

	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketByMessage)
		evBucket := tx.Bucket(bucketEvents)

		c := idx.Cursor()
		prefix := []byte(messageID + ":")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := evBucket.Get(v)
			if data == nil {
				continue
			}
			var ev models.DeliveryEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				continue // skip corrupt entries
			}
			events = append(events, &ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Count returns the total number of stored events
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketEvents).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// makeKey builds a time-ordered key so iteration is append order
func makeKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d:%s", t.UnixNano(), id))
}
