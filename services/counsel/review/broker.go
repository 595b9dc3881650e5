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
	"sync"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

// subscriberBuffer sizes per-subscriber channels. A stalled SSE client
// loses intermediate frames rather than blocking the pipeline.
const subscriberBuffer = 16

// =============================================================================
// Progress Broker
// =============================================================================

// Broker fans review progress events out to SSE subscribers.
//
// A new subscriber immediately receives the most recent event for its
// review, so a client that connects mid-pipeline sees the current stage
// instead of silence. Publishing a terminal event closes every subscriber
// channel; subscribing to an already-terminal review yields the terminal
// event and a closed channel.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	last     *datatypes.ProgressEvent
	subs     map[chan datatypes.ProgressEvent]struct{}
	finished bool
}

func NewBroker() *Broker {
	return &Broker{topics: map[string]*topic{}}
}

func (b *Broker) topicLocked(reviewID string) *topic {
	t, ok := b.topics[reviewID]
	if !ok {
		t = &topic{subs: map[chan datatypes.ProgressEvent]struct{}{}}
		b.topics[reviewID] = t
	}
	return t
}

// Publish delivers an event to all current subscribers and records it for
// replay. Slow subscribers are skipped, never waited on. A terminal event
// (Completed=true) closes all subscriber channels and marks the topic
// finished.
func (b *Broker) Publish(event datatypes.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(event.ReviewID)
	if t.finished {
		return
	}
	t.last = &event

	for ch := range t.subs {
		select {
		case ch <- event:
		default:
		}
	}

	if event.Completed {
		t.finished = true
		for ch := range t.subs {
			close(ch)
		}
		t.subs = map[chan datatypes.ProgressEvent]struct{}{}
	}
}

// Subscribe returns a channel of events for one review and a cancel
// function. The most recent event, if any, is replayed first.
func (b *Broker) Subscribe(reviewID string) (<-chan datatypes.ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(reviewID)
	ch := make(chan datatypes.ProgressEvent, subscriberBuffer)
	if t.last != nil {
		ch <- *t.last
	}
	if t.finished {
		close(ch)
		return ch, func() {}
	}

	t.subs[ch] = struct{}{}
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Forget drops a finished topic so the broker does not accumulate one
// entry per review forever. Called after the review record is persisted.
func (b *Broker) Forget(reviewID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[reviewID]; ok && t.finished {
		delete(b.topics, reviewID)
	}
}
