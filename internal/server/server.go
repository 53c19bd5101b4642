package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lotas/titlesentinel/internal/applog"
	"github.com/lotas/titlesentinel/internal/types"
	"nhooyr.io/websocket"
)

// ErrNotConnected is returned when no page agent is attached.
var ErrNotConnected = errors.New("page agent not connected")

// IncomingMsg is a message from the page agent.
type IncomingMsg struct {
	Type     string                 `json:"type"`
	URL      string                 `json:"url,omitempty"`
	Title    string                 `json:"title,omitempty"`
	HasTitle bool                   `json:"hasTitle,omitempty"`
	Op       string                 `json:"op,omitempty"`
	Records  []types.MutationRecord `json:"records,omitempty"`
	Text     string                 `json:"text,omitempty"`
	Present  bool                   `json:"present,omitempty"`
	Index    int                    `json:"index,omitempty"`
	// Command response fields
	ID    string `json:"id,omitempty"`
	OK    *bool  `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
	HTML  string `json:"html,omitempty"`
}

// OutgoingMsg is a command to the page agent.
type OutgoingMsg struct {
	ID        string             `json:"id"`
	Action    string             `json:"action"`
	Title     string             `json:"title,omitempty"`
	Locator   string             `json:"locator,omitempty"`
	Entries   []types.IndexEntry `json:"entries,omitempty"`
	Signature string             `json:"signature,omitempty"`
	Empty     bool               `json:"empty,omitempty"`
	Config    *types.AgentConfig `json:"config,omitempty"`
}

// Agent actions.
const (
	ActionConfigure   = "configure"
	ActionSnapshot    = "snapshot"
	ActionSetTitle    = "set-title"
	ActionScrollTo    = "scroll-to"
	ActionRenderIndex = "render-index"
)

// Server manages the WebSocket connection to the page agent. One agent is
// served at a time; a new connection replaces the old one.
type Server struct {
	port    int
	events  chan types.PageEvent
	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	pending map[string]chan IncomingMsg
}

// New creates a new Server. Port 0 means the caller manages the listener.
func New(port int) *Server {
	return &Server{
		port:    port,
		events:  make(chan types.PageEvent, 64),
		pending: make(map[string]chan IncomingMsg),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Events returns the channel of page events from the agent.
func (s *Server) Events() <-chan types.PageEvent {
	return s.events
}

// Connected reports whether an agent is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send sends a command to the connected agent without waiting for a reply.
// Large messages go out as compressed binary frames.
func (s *Server) Send(msg OutgoingMsg) error {
	s.mu.Lock()
	conn := s.conn
	ctx := s.connCtx
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	applog.Debug("ws.send", "action", msg.Action, "id", msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(data) >= compressThreshold {
		frame, ok, err := EncodeFrame(data)
		if err != nil {
			return err
		}
		if ok {
			return conn.Write(ctx, websocket.MessageBinary, frame)
		}
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Request sends a command and waits for the agent's reply.
func (s *Server) Request(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	msg.ID = uuid.NewString()
	reply := make(chan IncomingMsg, 1)

	s.mu.Lock()
	s.pending[msg.ID] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, msg.ID)
		s.mu.Unlock()
	}()

	if err := s.Send(msg); err != nil {
		return IncomingMsg{}, err
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return IncomingMsg{}, ErrNotConnected
		}
		if resp.OK != nil && !*resp.OK {
			return resp, fmt.Errorf("agent %s: %s", msg.Action, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return IncomingMsg{}, fmt.Errorf("agent %s: %w", msg.Action, ctx.Err())
	}
}

// Snapshot asks the agent to serialize the live document.
func (s *Server) Snapshot(ctx context.Context) (string, error) {
	resp, err := s.Request(ctx, OutgoingMsg{Action: ActionSnapshot})
	if err != nil {
		return "", err
	}
	return resp.HTML, nil
}

// SetTitle writes the document title.
func (s *Server) SetTitle(ctx context.Context, title string) error {
	return s.Send(OutgoingMsg{Action: ActionSetTitle, Title: title})
}

// ScrollTo scrolls the element at loc into view and highlights it. An
// unresolvable locator is ignored by the agent.
func (s *Server) ScrollTo(ctx context.Context, loc string) error {
	return s.Send(OutgoingMsg{Action: ActionScrollTo, Locator: loc})
}

// Render replaces the agent sidebar contents.
func (s *Server) Render(ctx context.Context, idx types.Index) error {
	return s.Send(OutgoingMsg{
		Action:    ActionRenderIndex,
		Entries:   idx.Entries,
		Signature: idx.Signature,
		Empty:     idx.Empty,
	})
}

// Configure tells the agent what to observe.
func (s *Server) Configure(ctx context.Context, cfg types.AgentConfig) error {
	_, err := s.Request(ctx, OutgoingMsg{Action: ActionConfigure, Config: &cfg})
	return err
}

// Handler returns an http.Handler that accepts WebSocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(maxFrameSize)

		ctx := r.Context()
		s.mu.Lock()
		if s.conn != nil {
			applog.Info("ws.replaced")
			s.conn.CloseNow()
		}
		s.conn = conn
		s.connCtx = ctx
		s.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			current := s.conn == conn
			if current {
				s.conn = nil
				s.connCtx = nil
				for id, ch := range s.pending {
					close(ch)
					delete(s.pending, id)
				}
			}
			s.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
			if current {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				s.emit(ctx, types.PageEvent{Type: types.EventClosed, At: time.Now()})
				cancel()
			}
		}()

		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				if data, err = DecodeFrame(data); err != nil {
					applog.Error("ws.frame", err)
					continue
				}
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			if msg.Type == "" && msg.ID != "" {
				s.deliver(msg)
				continue
			}
			ev, err := ParseEvent(msg)
			if err != nil {
				applog.Error("ws.event", err, "type", msg.Type)
				continue
			}
			applog.Debug("ws.recv", "type", msg.Type)
			if !s.emit(ctx, ev) {
				return
			}
		}
	})
}

func (s *Server) deliver(msg IncomingMsg) {
	s.mu.Lock()
	ch, ok := s.pending[msg.ID]
	if ok {
		delete(s.pending, msg.ID)
	}
	s.mu.Unlock()
	if !ok {
		applog.Debug("ws.orphan_reply", "id", msg.ID)
		return
	}
	ch <- msg
}

// emit hands ev to the consumer, waiting while the buffer is full. Page
// events are not dropped: a lost title event could hide a reset.
func (s *Server) emit(ctx context.Context, ev types.PageEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
	}
	applog.Info("ws.backpressure", "type", string(ev.Type))
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// ListenAndServe starts the WebSocket server on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", s.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}
