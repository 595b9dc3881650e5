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
	"testing"
	"time"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
)

func event(reviewID string, stage datatypes.ReviewStage, completed bool) datatypes.ProgressEvent {
	return datatypes.ProgressEvent{
		ReviewID:  reviewID,
		Stage:     stage,
		Progress:  datatypes.StageProgress(stage),
		Completed: completed,
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestBrokerReplaysLastEvent(t *testing.T) {
	b := NewBroker()
	b.Publish(event("r1", datatypes.StageParsing, false))
	b.Publish(event("r1", datatypes.StageAnalyzing, false))

	ch, cancel := b.Subscribe("r1")
	defer cancel()

	select {
	case got := <-ch:
		if got.Stage != datatypes.StageAnalyzing {
			t.Errorf("replayed stage = %s, want ANALYZING", got.Stage)
		}
		if got.Progress != 60 {
			t.Errorf("replayed progress = %d, want 60", got.Progress)
		}
	default:
		t.Fatal("expected an immediate replay event")
	}
}

func TestBrokerTerminalEventClosesSubscribers(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("r1")
	defer cancel()

	b.Publish(event("r1", datatypes.StageParsing, false))
	b.Publish(event("r1", datatypes.StageCompleted, true))

	var got []datatypes.ProgressEvent
	for e := range ch {
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	if !got[1].Completed {
		t.Error("last event should be terminal")
	}
}

func TestBrokerSubscribeAfterTerminal(t *testing.T) {
	b := NewBroker()
	b.Publish(event("r1", datatypes.StageError, true))

	ch, cancel := b.Subscribe("r1")
	defer cancel()

	got, ok := <-ch
	if !ok {
		t.Fatal("expected the terminal event to be replayed")
	}
	if got.Stage != datatypes.StageError || !got.Completed {
		t.Errorf("got %+v, want terminal ERROR event", got)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after the terminal replay")
	}
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("r1")
	defer cancel()

	// Overfill the subscriber buffer without draining; Publish must not
	// block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(event("r1", datatypes.StageAnalyzing, false))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	_ = ch
}

func TestBrokerCancelStopsDelivery(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("r1")
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should close on cancel")
	}
	// Publishing after cancel must not panic.
	b.Publish(event("r1", datatypes.StageParsing, false))
}

func TestBrokerForget(t *testing.T) {
	b := NewBroker()
	b.Publish(event("r1", datatypes.StageCompleted, true))
	b.Forget("r1")

	// A fresh subscription sees no replay: the topic is gone.
	ch, cancel := b.Subscribe("r1")
	defer cancel()
	select {
	case <-ch:
		t.Error("forgotten topic should have no replay event")
	default:
	}
}
