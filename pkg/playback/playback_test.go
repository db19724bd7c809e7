/*
Copyright 2023 The Sunwet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package playback

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// recvEnvelope drains one message from p.send with a test-scoped
// timeout, decoding it back into an Envelope.
func recvEnvelope(t *testing.T, p *peer) Envelope {
	t.Helper()
	select {
	case b := <-p.send:
		var e Envelope
		if err := json.Unmarshal(b, &e); err != nil {
			t.Fatalf("decoding envelope: %v", err)
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

// TestBarrierDelayFactor: start_at - now must be at least
// DelayFactor * max(observed delay) at broadcast time.
func TestBarrierDelayFactor(t *testing.T) {
	h := NewHub(Config{DelayFactor: 5, BarrierTimeout: time.Second})
	base := time.Now()
	h.clock = func() time.Time { return base }

	s := newSession("s1")
	primary := newPeer("primary")
	link1 := newPeer("link1")
	link2 := newPeer("link2")
	s.primary = primary
	s.links["link1"] = link1
	s.links["link2"] = link2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.runBarrier(ctx, h, Prepare{Album: "A", Artist: "B", Name: "C"})
		close(done)
	}()

	// Links should each receive a Prepare broadcast first.
	for _, l := range []*peer{link1, link2} {
		env := recvEnvelope(t, l)
		if env.Kind != KindPrepare {
			t.Fatalf("link got kind %q, want prepare", env.Kind)
		}
	}

	// Feed back Ready at staggered "observed delay" offsets: primary 1s,
	// link1 2s, link2 3s (max is link2's 3s).
	primary.deliverReady(base.Add(-1 * time.Second))
	link1.deliverReady(base.Add(-2 * time.Second))
	link2.deliverReady(base.Add(-3 * time.Second))

	<-done

	for name, p := range map[string]*peer{"primary": primary, "link1": link1, "link2": link2} {
		env := recvEnvelope(t, p)
		if env.Kind != KindPlay {
			t.Fatalf("%s got kind %q, want play", name, env.Kind)
		}
		if env.PlayAt == nil {
			t.Fatalf("%s: play message missing play_at", name)
		}
		gotDelay := env.PlayAt.Sub(base)
		wantMin := 5 * 3 * time.Second
		if gotDelay < wantMin {
			t.Fatalf("%s: start_at - now = %v, want >= %v", name, gotDelay, wantMin)
		}
	}
}

// TestBarrierDisconnectDoesNotStall: a link that disconnects before
// sending Ready must not stall the barrier forever.
func TestBarrierDisconnectDoesNotStall(t *testing.T) {
	h := NewHub(Config{DelayFactor: 5, BarrierTimeout: 50 * time.Millisecond})

	s := newSession("s2")
	primary := newPeer("primary")
	link1 := newPeer("link1")
	s.primary = primary
	s.links["link1"] = link1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.runBarrier(ctx, h, Prepare{Album: "A"})
		close(done)
	}()

	// Drain the Prepare broadcast to link1, then disconnect it without
	// ever sending Ready.
	recvEnvelope(t, link1)
	link1.markClosed()

	primary.deliverReady(time.Now())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier stalled past its configured timeout")
	}

	env := recvEnvelope(t, primary)
	if env.Kind != KindPlay {
		t.Fatalf("primary got kind %q, want play", env.Kind)
	}
}

// TestSupersededPrimaryIgnored: once a second primary connection takes
// over, the first's further messages are ignored because it is no
// longer session.primary.
func TestSupersededPrimaryIgnored(t *testing.T) {
	s := newSession("s3")
	first := newPeer("first")
	second := newPeer("second")

	if old := s.setPrimary(first); old != nil {
		t.Fatalf("expected no prior primary, got %v", old)
	}
	if !s.isPrimary(first) {
		t.Fatal("first should be primary")
	}

	if old := s.setPrimary(second); old != first {
		t.Fatalf("setPrimary did not report the superseded peer")
	}
	if s.isPrimary(first) {
		t.Fatal("first should no longer be primary")
	}
	if !s.isPrimary(second) {
		t.Fatal("second should be primary")
	}
}
