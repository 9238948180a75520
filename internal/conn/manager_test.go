package conn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/botdash/internal/proto"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// wsServer accepts push-channel connections and hands each one to handle.
func wsServer(t *testing.T, handle func(n int, c *websocket.Conn)) (*httptest.Server, *int32) {
	t.Helper()
	var accepted int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := int(atomic.AddInt32(&accepted, 1))
		handle(n, c)
	}))
	t.Cleanup(srv.Close)
	return srv, &accepted
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %v, want %v", m.State().Status, want)
}

func TestReceivesEventsAndDropsMalformed(t *testing.T) {
	srv, _ := wsServer(t, func(_ int, c *websocket.Conn) {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"network_stats","data":{"latency":12}}`))
		// Hold the connection open until the client goes away.
		_, _, _ = c.ReadMessage()
	})

	m := New(wsURL(srv), Options{ReconnectDelay: 20 * time.Millisecond})
	defer m.Close()
	m.Connect()

	select {
	case ev := <-m.Events():
		ns, ok := ev.(proto.NetworkStats)
		if !ok || ns.LatencyMs != 12 {
			t.Fatalf("got %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	waitStatus(t, m, Connected)
}

func TestReconnectsAfterDrop(t *testing.T) {
	srv, accepted := wsServer(t, func(n int, c *websocket.Conn) {
		if n == 1 {
			_ = c.Close()
			return
		}
		_, _, _ = c.ReadMessage()
	})

	m := New(wsURL(srv), Options{ReconnectDelay: 20 * time.Millisecond})
	defer m.Close()
	states, cancel := m.Subscribe()
	defer cancel()
	m.Connect()

	sawDisconnect := false
	deadline := time.After(3 * time.Second)
	for atomic.LoadInt32(accepted) < 2 || m.State().Status != Connected {
		select {
		case s := <-states:
			if s.Status == Disconnected {
				sawDisconnect = true
			}
		case <-deadline:
			t.Fatalf("accepted=%d status=%v", atomic.LoadInt32(accepted), m.State().Status)
		}
	}
	if !sawDisconnect {
		t.Fatal("drop was not published")
	}
}

func TestAtMostOneReconnectTimer(t *testing.T) {
	m := New("ws://unused", Options{ReconnectDelay: 30 * time.Millisecond})
	defer m.Close()

	var dials int32
	block := make(chan struct{})
	defer close(block)
	m.dial = func(ctx context.Context, _ string) (*websocket.Conn, error) {
		atomic.AddInt32(&dials, 1)
		<-block
		return nil, errors.New("unreachable")
	}

	m.mu.Lock()
	m.gen = 1
	m.mu.Unlock()

	m.handleDrop(1, errors.New("read failed"))
	m.handleDrop(1, errors.New("close frame"))
	m.handleDrop(0, errors.New("stale"))

	time.Sleep(150 * time.Millisecond)
	if got := atomic.LoadInt32(&dials); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
	if m.State().Status != Connecting {
		t.Fatalf("status = %v", m.State().Status)
	}
}

func TestStaleGenerationIgnored(t *testing.T) {
	m := New("ws://unused", Options{ReconnectDelay: time.Hour})
	defer m.Close()
	m.mu.Lock()
	m.gen = 5
	m.mu.Unlock()

	m.handleDrop(4, errors.New("old socket"))
	m.mu.Lock()
	pending := m.timer != nil
	m.mu.Unlock()
	if pending {
		t.Fatal("stale drop scheduled a reconnect")
	}
}

func TestSend(t *testing.T) {
	got := make(chan string, 1)
	srv, _ := wsServer(t, func(_ int, c *websocket.Conn) {
		_, data, err := c.ReadMessage()
		if err == nil {
			got <- string(data)
		}
		_, _, _ = c.ReadMessage()
	})

	m := New(wsURL(srv), Options{})
	defer m.Close()

	if err := m.Send(map[string]string{"type": "ping"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}

	m.Connect()
	waitStatus(t, m, Connected)

	pos := 1.5
	if err := m.Send(proto.NewControlFrame(proto.MusicControl{GuildID: "1", Action: "pause", PositionSec: &pos})); err != nil {
		t.Fatal(err)
	}
	select {
	case frame := <-got:
		if !strings.Contains(frame, `"type":"music_control"`) || !strings.Contains(frame, `"position":1.5`) {
			t.Fatalf("frame = %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server got nothing")
	}
}

func TestCloseStopsReconnecting(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	m := New("ws://unused", Options{ReconnectDelay: 10 * time.Millisecond})
	m.dial = func(context.Context, string) (*websocket.Conn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return nil, errors.New("refused")
	}
	m.Connect()
	time.Sleep(50 * time.Millisecond)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	before := dials
	mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	after := dials
	mu.Unlock()

	if after != before {
		t.Fatalf("dials continued after Close: %d -> %d", before, after)
	}
	if m.State().Status != Disconnected {
		t.Fatalf("status = %v", m.State().Status)
	}
}
