// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

// Package jobs tracks export tickets. Ticket status lives in BadgerDB with a
// TTL, so finished jobs age out on their own and crashed workers leave a
// visible stale "processing" record instead of a dangling row.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/sensoria/internal/models"
)

// Key prefixes for BadgerDB storage.
const (
	statusKeyPrefix = "status:"
	flagKeyPrefix   = "flag:"
)

// ErrTicketNotFound indicates an unknown or expired ticket.
var ErrTicketNotFound = errors.New("ticket not found")

// Store persists job status and flag records.
type Store struct {
	db         *badger.DB
	cleanupTTL time.Duration
}

// NewStore opens the ticket store at path. An empty path opens an in-memory
// store, used by tests and by deployments that accept losing tickets on
// restart. cleanupTTL bounds how long a status record survives without being
// rewritten.
func NewStore(path string, cleanupTTL time.Duration) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ticket store: %w", err)
	}
	return &Store{db: db, cleanupTTL: cleanupTTL}, nil
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewTicket returns a fresh ticket identifier.
func NewTicket() string {
	return uuid.New().String()
}

// SetStatus writes the full status record for a ticket, refreshing its TTL.
func (s *Store) SetStatus(ticket string, status models.JobStatus) error {
	status.Ticket = ticket
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode job status: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(statusKeyPrefix+ticket), data)
		if s.cleanupTTL > 0 {
			entry = entry.WithTTL(s.cleanupTTL)
		}
		return txn.SetEntry(entry)
	})
}

// GetStatus reads the status record for a ticket.
func (s *Store) GetStatus(ticket string) (models.JobStatus, error) {
	var status models.JobStatus

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(statusKeyPrefix + ticket))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrTicketNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read job status: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &status)
		})
	})
	if err != nil {
		return models.JobStatus{}, err
	}
	return status, nil
}

// SetFlag stores a named boolean with its own TTL. The export pipeline sets
// "<ticket>_suppresscleanup" after a successful dump so the cleanup sweep
// leaves the persisted parts alone for the flag's lifetime.
func (s *Store) SetFlag(name string, value bool, ttl time.Duration) error {
	data := []byte("0")
	if value {
		data = []byte("1")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(flagKeyPrefix+name), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// GetFlag reads a named boolean. Missing or expired flags are false.
func (s *Store) GetFlag(name string) (bool, error) {
	var value bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(flagKeyPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read flag: %w", err)
		}
		return item.Value(func(val []byte) error {
			value = string(val) == "1"
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	return value, nil
}
