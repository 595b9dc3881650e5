// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

// =============================================================================
// Review Store
// =============================================================================

const (
	reviewKeyPrefix = "review/"
	textKeyPrefix   = "review_text/"
)

// Store persists review records in the embedded warm tier. The extracted
// contract text is stored under a separate key so listing reviews never
// loads full contract bodies.
type Store struct {
	db *badger.DB
}

func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func reviewKey(id string) []byte { return []byte(reviewKeyPrefix + id) }
func textKey(id string) []byte   { return []byte(textKeyPrefix + id) }

// Create persists a new review record and its extracted text.
func (s *Store) Create(review datatypes.ContractReview) error {
	payload, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("marshal review: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(reviewKey(review.ID), payload); err != nil {
			return err
		}
		return txn.Set(textKey(review.ID), []byte(review.ExtractedText))
	})
	if err != nil {
		return fmt.Errorf("persist review %s: %w", review.ID, err)
	}
	return nil
}

// Get returns the review record without its extracted text.
func (s *Store) Get(reviewID string) (datatypes.ContractReview, error) {
	var review datatypes.ContractReview
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(reviewKey(reviewID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &review)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return review, datatypes.NewError(datatypes.KindNotFound, "review %s not found", reviewID)
	}
	if err != nil {
		return review, fmt.Errorf("load review %s: %w", reviewID, err)
	}
	return review, nil
}

// ExtractedText returns the stored contract text for a review.
func (s *Store) ExtractedText(reviewID string) (string, error) {
	var text string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(textKey(reviewID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			text = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", datatypes.NewError(datatypes.KindNotFound, "review %s not found", reviewID)
	}
	if err != nil {
		return "", fmt.Errorf("load review text %s: %w", reviewID, err)
	}
	return text, nil
}

// Transition applies mutate to the stored record and enforces the one-way
// lifecycle: the update is rejected when the stored status cannot move to
// the mutated status. The read-modify-write runs in one transaction, so
// concurrent transitions serialize on the store rather than clobbering
// each other.
func (s *Store) Transition(reviewID string, mutate func(*datatypes.ContractReview)) (datatypes.ContractReview, error) {
	var updated datatypes.ContractReview
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(reviewKey(reviewID))
		if err != nil {
			return err
		}
		var current datatypes.ContractReview
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}

		next := current
		mutate(&next)
		if next.Status != current.Status && !current.Status.CanTransitionTo(next.Status) {
			return datatypes.NewError(datatypes.KindConflict,
				"illegal review transition %s -> %s", current.Status, next.Status)
		}

		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal review: %w", err)
		}
		if err := txn.Set(reviewKey(reviewID), payload); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return updated, datatypes.NewError(datatypes.KindNotFound, "review %s not found", reviewID)
	}
	if err != nil {
		return updated, err
	}
	return updated, nil
}

// ListByUser returns a user's reviews, newest first.
func (s *Store) ListByUser(userID string) ([]datatypes.ContractReview, error) {
	var reviews []datatypes.ContractReview
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(reviewKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var review datatypes.ContractReview
				if err := json.Unmarshal(val, &review); err != nil {
					return err
				}
				if review.UserID == userID {
					reviews = append(reviews, review)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	sort.Slice(reviews, func(i, j int) bool {
		return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
	})
	return reviews, nil
}

// Delete removes a review and its extracted text. Missing ids are a no-op.
func (s *Store) Delete(reviewID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(reviewKey(reviewID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Delete(textKey(reviewID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete review %s: %w", reviewID, err)
	}
	return nil
}
