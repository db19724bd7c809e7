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

// Package playback implements the playback coordinator: a websocket
// barrier that prepares a primary session plus any number of mirror
// "link" peers to begin playback at the same wall-clock instant despite
// each peer observing a different network delay.
//
// The hub is a read-mostly map of sessions guarded by a mutex, with
// one outbound send channel per peer connection pumped by its own
// writePump goroutine. The barrier is one goroutine per Prepare round
// that awaits one completion channel per attached peer, then
// broadcasts Play.
package playback

import (
	"context"
	"log"
	"sync"
	"time"

	"sunwet.dev/sunwet/pkg/fhash"
)

// MediaKind discriminates the three media shapes a Prepare can carry.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
)

// Media is the prepared media descriptor: Audio carries an optional
// cover image alongside the audio file, Video and Image each carry a
// single file.
type Media struct {
	Kind  MediaKind   `json:"kind"`
	Cover *fhash.Hash `json:"cover,omitempty"`
	Audio *fhash.Hash `json:"audio,omitempty"`
	File  *fhash.Hash `json:"file,omitempty"`
}

// Prepare is the descriptor the primary sends to start a playback round.
type Prepare struct {
	Album     string  `json:"album"`
	Artist    string  `json:"artist"`
	Name      string  `json:"name"`
	Media     Media   `json:"media"`
	MediaTime float64 `json:"media_time"`
}

// Config tunes the barrier. DelayFactor scales the largest observed
// peer delay into the scheduling margin; the default of 5 empirically
// absorbs jitter after one RTT sample, and it is a knob rather than a
// constant because nothing proves that bound. BarrierTimeout bounds
// how long the coordinator waits for a peer's Ready before giving up
// on it, so a dead peer can't stall the round.
type Config struct {
	DelayFactor    float64
	BarrierTimeout time.Duration
}

// DefaultConfig returns the default barrier tuning.
func DefaultConfig() Config {
	return Config{DelayFactor: 5, BarrierTimeout: 30 * time.Second}
}

// Clock abstracts time.Now so tests can control delay measurements.
type Clock func() time.Time

// Hub owns every live playback session, keyed by session id: a
// read-mostly, mutex-guarded map.
type Hub struct {
	cfg   Config
	clock Clock

	mu       sync.Mutex
	sessions map[string]*session
}

// NewHub builds a Hub with cfg (zero value is replaced by DefaultConfig).
func NewHub(cfg Config) *Hub {
	if cfg.DelayFactor == 0 {
		cfg.DelayFactor = DefaultConfig().DelayFactor
	}
	if cfg.BarrierTimeout == 0 {
		cfg.BarrierTimeout = DefaultConfig().BarrierTimeout
	}
	return &Hub{cfg: cfg, clock: time.Now, sessions: make(map[string]*session)}
}

func (h *Hub) sessionFor(id string) *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.sessions[id]
	if s == nil {
		s = newSession(id)
		h.sessions[id] = s
	}
	return s
}

func (h *Hub) dropSessionIfEmpty(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.mu.Lock()
	empty := s.primary == nil && len(s.links) == 0
	s.mu.Unlock()
	if empty {
		delete(h.sessions, s.id)
	}
}

// peer is one websocket connection attached to a session, either the
// primary or a link. send is its outbound queue, pumped by writePump in
// http.go; closed is closed exactly once, when the connection's readPump
// exits, so a pending barrier round can notice disconnection without a
// second channel per round.
type peer struct {
	id     string
	send   chan []byte
	closed chan struct{}

	mu      sync.Mutex
	round   chan time.Time // non-nil while a barrier round is awaiting this peer's Ready
	closeOK sync.Once
}

func newPeer(id string) *peer {
	return &peer{id: id, send: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *peer) markClosed() {
	p.closeOK.Do(func() { close(p.closed) })
}

// deliverReady routes an incoming Ready(sentAt) to whatever barrier round
// is currently waiting on this peer, if any. A Ready with no pending
// round (arrived late, or unsolicited) is dropped.
func (p *peer) deliverReady(sentAt time.Time) {
	p.mu.Lock()
	ch := p.round
	p.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- sentAt:
	default:
	}
}

func (p *peer) armRound() chan time.Time {
	ch := make(chan time.Time, 1)
	p.mu.Lock()
	p.round = ch
	p.mu.Unlock()
	return ch
}

func (p *peer) disarmRound(ch chan time.Time) {
	p.mu.Lock()
	if p.round == ch {
		p.round = nil
	}
	p.mu.Unlock()
}

// session is one playback-coordination context: at most one primary, any
// number of links, and at most one outstanding prepare->play barrier.
type session struct {
	id string

	mu      sync.Mutex
	primary *peer
	links   map[string]*peer

	barrierCancel context.CancelFunc // non-nil while a barrier is in flight
}

func newSession(id string) *session {
	return &session{id: id, links: make(map[string]*peer)}
}

// setPrimary installs p as the session's primary, superseding any prior
// primary. The superseded peer is returned so the
// caller can close its connection.
func (s *session) setPrimary(p *peer) (superseded *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	superseded = s.primary
	s.primary = p
	return superseded
}

// isPrimary reports whether p is still the session's current primary --
// readPump consults this before acting on a message, so a superseded
// primary's further sends are silently ignored (S4).
func (s *session) isPrimary(p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary == p
}

func (s *session) clearPrimary(p *peer) {
	s.mu.Lock()
	if s.primary == p {
		s.primary = nil
		if s.barrierCancel != nil {
			s.barrierCancel()
			s.barrierCancel = nil
		}
	}
	s.mu.Unlock()
}

func (s *session) addLink(p *peer) {
	s.mu.Lock()
	s.links[p.id] = p
	s.mu.Unlock()
}

func (s *session) removeLink(p *peer) {
	s.mu.Lock()
	if s.links[p.id] == p {
		delete(s.links, p.id)
	}
	s.mu.Unlock()
}

// snapshot returns the primary and the current links, for a barrier
// round to operate on a fixed membership.
func (s *session) snapshot() (primary *peer, links []*peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	primary = s.primary
	links = make([]*peer, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	return primary, links
}

// runBarrier implements the prepare/ready/play protocol:
// broadcast Prepare to every currently-attached link, wait (bounded) for
// a Ready from each attached peer including the primary, compute
// start_at = now + max(observed delay) * DelayFactor, and broadcast Play
// to every peer that was part of this round.
func (s *session) runBarrier(ctx context.Context, h *Hub, prep Prepare) {
	primary, links := s.snapshot()
	if primary == nil {
		return
	}
	peers := append([]*peer{primary}, links...)

	rounds := make(map[*peer]chan time.Time, len(peers))
	for _, p := range peers {
		rounds[p] = p.armRound()
	}
	defer func() {
		for p, ch := range rounds {
			p.disarmRound(ch)
		}
	}()

	for _, l := range links {
		sendEnvelope(l, Envelope{Kind: KindPrepare, Prepare: &prep})
	}

	var (
		mu      sync.Mutex
		maxWait time.Duration
		any     bool
	)
	var wg sync.WaitGroup
	for _, p := range peers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sentAt := <-rounds[p]:
				delay := h.clock().Sub(sentAt)
				if delay < 0 {
					delay = 0
				}
				mu.Lock()
				any = true
				if delay > maxWait {
					maxWait = delay
				}
				mu.Unlock()
			case <-p.closed:
			case <-ctx.Done():
			case <-time.After(h.cfg.BarrierTimeout):
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil || !any {
		return
	}

	startAt := h.clock().Add(time.Duration(float64(maxWait) * h.cfg.DelayFactor))
	env := Envelope{Kind: KindPlay, PlayAt: &startAt}
	for _, p := range peers {
		sendEnvelope(p, env)
	}
}

// HandlePrepare is called by the primary's readPump on a Prepare message.
// It supersedes any in-flight barrier for this session and starts a new
// one.
func (h *Hub) HandlePrepare(s *session, p *peer, prep Prepare) {
	if !s.isPrimary(p) {
		return
	}
	s.mu.Lock()
	if s.barrierCancel != nil {
		s.barrierCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.barrierCancel = cancel
	s.mu.Unlock()
	go func() {
		s.runBarrier(ctx, h, prep)
		s.mu.Lock()
		if s.barrierCancel != nil && ctx.Err() == nil {
			s.barrierCancel = nil
		}
		s.mu.Unlock()
	}()
}

// HandleReady routes a Ready(sentAt) from p into the currently armed
// barrier round, if any.
func (h *Hub) HandleReady(p *peer, sentAt time.Time) {
	p.deliverReady(sentAt)
}

// HandlePause broadcasts Pause to every link immediately, with no
// barrier.
func (h *Hub) HandlePause(s *session, p *peer) {
	if !s.isPrimary(p) {
		return
	}
	_, links := s.snapshot()
	env := Envelope{Kind: KindPause}
	for _, l := range links {
		sendEnvelope(l, env)
	}
}

func sendEnvelope(p *peer, env Envelope) {
	b, err := env.marshal()
	if err != nil {
		log.Printf("playback: marshaling %s: %v", env.Kind, err)
		return
	}
	select {
	case p.send <- b:
	case <-p.closed:
	}
}
