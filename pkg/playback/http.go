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
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// A websocket connection that goes quiet for pongWait is assumed
// dead; writePump pings every pingPeriod to keep intermediaries from
// closing an idle link.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServePrimary upgrades r to the primary websocket endpoint for
// sessionID. At most one primary is
// current per session; a new connection supersedes any prior one, and
// the superseded peer's further messages are ignored.
func (h *Hub) ServePrimary(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("playback: primary upgrade for session %q: %v", sessionID, err)
		return
	}
	s := h.sessionFor(sessionID)
	p := newPeer("primary:" + sessionID)
	if old := s.setPrimary(p); old != nil {
		old.markClosed()
	}
	go writePump(conn, p)
	h.primaryReadPump(conn, s, p)
	s.clearPrimary(p)
	h.dropSessionIfEmpty(s)
}

// ServeLink upgrades r to a link websocket endpoint for sessionID. Any
// number of links may attach to one session.
func (h *Hub) ServeLink(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("playback: link upgrade for session %q: %v", sessionID, err)
		return
	}
	s := h.sessionFor(sessionID)
	p := newPeer(sessionID + ":" + r.RemoteAddr + ":" + time.Now().Format(time.RFC3339Nano))
	s.addLink(p)
	go writePump(conn, p)
	h.linkReadPump(conn, s, p)
	s.removeLink(p)
	p.markClosed()
	h.dropSessionIfEmpty(s)
}

func (h *Hub) primaryReadPump(conn *websocket.Conn, s *session, p *peer) {
	defer func() {
		p.markClosed()
		conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := parseEnvelope(msg)
		if err != nil {
			log.Printf("playback: ignoring bad primary message: %v", err)
			continue
		}
		switch env.Kind {
		case KindPrepare:
			h.HandlePrepare(s, p, *env.Prepare)
		case KindReady:
			h.HandleReady(p, *env.ReadyAt)
		case KindPause:
			h.HandlePause(s, p)
		}
	}
}

func (h *Hub) linkReadPump(conn *websocket.Conn, s *session, p *peer) {
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := parseEnvelope(msg)
		if err != nil {
			log.Printf("playback: ignoring bad link message: %v", err)
			continue
		}
		if env.Kind == KindReady {
			h.HandleReady(p, *env.ReadyAt)
		}
	}
}

// writePump drains p.send to the connection, pinging on pingPeriod so
// intermediaries don't kill an idle link.
func writePump(conn *websocket.Conn, p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-p.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case <-p.closed:
			return
		}
	}
}
