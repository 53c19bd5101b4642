package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lotas/titlesentinel/internal/types"
	"nhooyr.io/websocket"
)

func dialAgent(t *testing.T, srv *Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

// waitConnected polls until the handler has registered the connection.
func waitConnected(t *testing.T, srv *Server) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !srv.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("server never registered the connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerDeliversEvents(t *testing.T) {
	srv := New(0) // port 0 = pick any free port
	conn, ctx := dialAgent(t, srv)

	hello := `{"type":"hello","url":"https://gemini.google.com/app","title":"Gemini","hasTitle":true}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(hello)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-srv.Events():
		if ev.Type != types.EventHello || ev.Title != "Gemini" {
			t.Errorf("got %+v, want hello", ev)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestServerSkipsMalformedMessages(t *testing.T) {
	srv := New(0)
	conn, ctx := dialAgent(t, srv)

	conn.Write(ctx, websocket.MessageText, []byte(`{not json`))
	conn.Write(ctx, websocket.MessageText, []byte(`{"type":"history","op":"reload"}`))
	conn.Write(ctx, websocket.MessageText, []byte(`{"type":"title","title":"My content","hasTitle":true}`))

	select {
	case ev := <-srv.Events():
		if ev.Type != types.EventTitle {
			t.Errorf("got %+v, want the title event", ev)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestServerSendsCommand(t *testing.T) {
	srv := New(0)
	conn, ctx := dialAgent(t, srv)
	waitConnected(t, srv)

	if err := srv.SetTitle(ctx, "Trip planning to Kyoto"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got OutgoingMsg
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Action != ActionSetTitle || got.Title != "Trip planning to Kyoto" || got.ID == "" {
		t.Errorf("got %+v", got)
	}
}

func TestSendWithoutAgent(t *testing.T) {
	srv := New(0)
	if err := srv.SetTitle(context.Background(), "x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

// TestSnapshotRoundTrip plays the agent: it answers a snapshot request with
// a compressed binary frame.
func TestSnapshotRoundTrip(t *testing.T) {
	srv := New(0)
	conn, ctx := dialAgent(t, srv)
	waitConnected(t, srv)

	html := "<html><body>" + strings.Repeat(`<div data-message-author-role="user">hello</div>`, 2000) + "</body></html>"
	go func() {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd OutgoingMsg
		json.Unmarshal(data, &cmd)
		ok := true
		reply, _ := json.Marshal(IncomingMsg{ID: cmd.ID, OK: &ok, HTML: html})
		frame, compressed, err := EncodeFrame(reply)
		if err != nil || !compressed {
			return
		}
		conn.Write(ctx, websocket.MessageBinary, frame)
	}()

	got, err := srv.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got != html {
		t.Errorf("snapshot length %d, want %d", len(got), len(html))
	}
}

func TestRequestFailsOnAgentError(t *testing.T) {
	srv := New(0)
	conn, ctx := dialAgent(t, srv)
	waitConnected(t, srv)

	go func() {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd OutgoingMsg
		json.Unmarshal(data, &cmd)
		ok := false
		reply, _ := json.Marshal(IncomingMsg{ID: cmd.ID, OK: &ok, Error: "no document"})
		conn.Write(ctx, websocket.MessageText, reply)
	}()

	_, err := srv.Snapshot(ctx)
	if err == nil || !strings.Contains(err.Error(), "no document") {
		t.Errorf("err = %v, want agent error", err)
	}
}

func TestDisconnectEmitsClosed(t *testing.T) {
	srv := New(0)
	conn, ctx := dialAgent(t, srv)
	waitConnected(t, srv)

	conn.Close(websocket.StatusNormalClosure, "")

	select {
	case ev := <-srv.Events():
		if ev.Type != types.EventClosed {
			t.Errorf("got %+v, want closed", ev)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for closed event")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	msg := bytes.Repeat([]byte(`{"type":"mutations"}`), 100)
	frame, ok, err := EncodeFrame(msg)
	if err != nil || !ok {
		t.Fatalf("EncodeFrame: ok=%v err=%v", ok, err)
	}
	got, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Error("frame did not round trip")
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{
		[]byte("short"),
		[]byte("mozLz40\x00\x05\x00\x00\x00hello"),
		append([]byte("tsnLz40\x00\xff\xff\xff\xff"), 0),
	} {
		if _, err := DecodeFrame(data); err == nil {
			t.Errorf("DecodeFrame(%q) succeeded", data)
		}
	}
}

func TestIncompressibleMessageStaysText(t *testing.T) {
	_, ok, err := EncodeFrame([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("tiny message reported as compressed")
	}
}
