package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"anvil.sim/internal/observerproto"
)

// RunInfo describes the run being observed.
type RunInfo struct {
	RunID string
	Mode  string
	SimHz uint32
	Seed  uint64
}

type session struct {
	out   chan []byte
	parts bool
}

// Server streams world hashes to loopback websocket clients. The simulation
// side only calls Publish; slow clients miss messages instead of blocking it.
type Server struct {
	log  *log.Logger
	info RunInfo

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*session
	lastTick uint64
	lastHash string

	dropped atomic.Uint64

	// Subscribers are read-only, so the server pings them and extends the
	// read deadline on each pong.
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewServer(info RunInfo, logger *log.Logger) *Server {
	return &Server{
		log:        logger,
		info:       info,
		sessions:   map[string]*session{},
		pongWait:   60 * time.Second,
		pingPeriod: 54 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler serves /observer/bootstrap and /observer/ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/observer/ws", s.WSHandler())
	return mux
}

// Sessions is the number of connected subscribers.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Dropped counts messages not delivered because a client queue was full.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Publish fans a hash out to every subscriber without blocking.
func (s *Server) Publish(tick, hash uint64, parts map[string]uint64) {
	msg := observerproto.TickHashMsg{
		Type:            observerproto.TypeTickHash,
		ProtocolVersion: observerproto.Version,
		Tick:            tick,
		Hash:            fmt.Sprintf("%016x", hash),
	}
	plain, err := json.Marshal(msg)
	if err != nil {
		return
	}
	var withParts []byte

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTick = tick
	s.lastHash = msg.Hash
	for _, id := range s.sortedIDsLocked() {
		sess := s.sessions[id]
		b := plain
		if sess.parts && len(parts) > 0 {
			if withParts == nil {
				msg.Parts = make(map[string]string, len(parts))
				for k, v := range parts {
					msg.Parts[k] = fmt.Sprintf("%016x", v)
				}
				withParts, _ = json.Marshal(msg)
			}
			b = withParts
		}
		select {
		case sess.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) sortedIDsLocked() []string {
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		s.mu.Lock()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			RunID:           s.info.RunID,
			Mode:            s.info.Mode,
			SimHz:           s.info.SimHz,
			Seed:            fmt.Sprintf("%#x", s.info.Seed),
			Tick:            s.lastTick,
			Hash:            s.lastHash,
		}
		s.mu.Unlock()

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		sess := &session{out: make(chan []byte, 64), parts: sub.Parts}
		s.mu.Lock()
		s.sessions[sid] = sess
		s.mu.Unlock()
		if s.log != nil {
			s.log.Printf("observer %s connected from %s", sid, r.RemoteAddr)
		}
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sid)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.pongWait))
		})

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			ping := time.NewTicker(s.pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case <-ping.C:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						writeErr <- err
						cancel()
						return
					}
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: only used to notice the client going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
