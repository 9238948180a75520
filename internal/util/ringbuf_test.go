package util

import "testing"

func TestRingBufferOrder(t *testing.T) {
	r := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	if got := r.Len(); got != 3 {
		t.Fatalf("len = %d, want 3", got)
	}
	old := r.Snapshot()
	if old[0] != 3 || old[2] != 5 {
		t.Fatalf("snapshot = %v, want [3 4 5]", old)
	}
	newest := r.Newest()
	if newest[0] != 5 || newest[2] != 3 {
		t.Fatalf("newest = %v, want [5 4 3]", newest)
	}
	if last, ok := r.Last(); !ok || last != 5 {
		t.Fatalf("last = %d,%v want 5,true", last, ok)
	}
}

func TestRingBufferEvictionAndClear(t *testing.T) {
	r := NewRingBuffer[string](2)
	if r.Push("a") || r.Push("b") {
		t.Fatal("unexpected eviction before capacity")
	}
	if !r.Push("c") {
		t.Fatal("expected eviction at capacity")
	}

	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("len after clear = %d", r.Len())
	}
	if _, ok := r.Last(); ok {
		t.Fatal("Last on empty buffer returned ok")
	}
	if r.Cap() != 2 {
		t.Fatalf("cap = %d, want 2", r.Cap())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"こんにちは世界", 5, "こんにちは..."},
	}
	for _, tc := range tests {
		if got := Truncate(tc.in, tc.n); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestWebSocketURL(t *testing.T) {
	if got := WebSocketURL("http://localhost:8001/", "/ws"); got != "ws://localhost:8001/ws" {
		t.Fatalf("got %q", got)
	}
	if got := WebSocketURL("https://bot.example.org", "/ws"); got != "wss://bot.example.org/ws" {
		t.Fatalf("got %q", got)
	}
}
