// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// =============================================================================
// Dead-Letter Log
// =============================================================================

// DeadLetterEntry records one embedding batch that exhausted its retries.
// Entries are kept for operator inspection and manual replay; nothing in
// the service consumes them automatically.
type DeadLetterEntry struct {
	DocumentID string    `json:"documentId"`
	BatchIndex int       `json:"batchIndex"`
	Ordinals   []int     `json:"ordinals"`
	Reason     string    `json:"reason"`
	RecordedAt time.Time `json:"recordedAt"`
}

// DeadLetter is the sink for failed batches.
type DeadLetter interface {
	Record(entry DeadLetterEntry) error
}

// BadgerDeadLetter stores entries in the embedded warm tier under
// dlq/<documentId>/<batchIndex>.
type BadgerDeadLetter struct {
	db *badger.DB
}

func NewBadgerDeadLetter(db *badger.DB) *BadgerDeadLetter {
	return &BadgerDeadLetter{db: db}
}

// Record implements DeadLetter.
func (b *BadgerDeadLetter) Record(entry DeadLetterEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter entry: %w", err)
	}
	key := fmt.Sprintf("dlq/%s/%d", entry.DocumentID, entry.BatchIndex)
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), payload)
	})
	if err != nil {
		return fmt.Errorf("failed to persist dead-letter entry: %w", err)
	}
	return nil
}

// List returns all recorded entries, oldest key order.
func (b *BadgerDeadLetter) List() ([]DeadLetterEntry, error) {
	var entries []DeadLetterEntry
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("dlq/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var entry DeadLetterEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter entries: %w", err)
	}
	return entries, nil
}
