package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func backend(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/api/")
}

func TestMusicStatus(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/guilds/123/music/status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{"success":true,"data":{"playing":true,"connected":true,"paused":false,"volume":80,
			"current_track":{"title":"A","author":"B","length":200000,"position":1500,"artwork":null,"uri":"yt:1"},
			"queue":[{"title":"C","length":1000}],"loop_mode":"track"}}`)
	})

	st, err := c.MusicStatus(context.Background(), "123")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Playing || st.CurrentTrack == nil || st.CurrentTrack.PositionMs != 1500 || len(st.Queue) != 1 {
		t.Fatalf("got %+v", st)
	}
}

func TestEnvelopeFailure(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"message":"not connected"}`)
	})
	err := c.Control(context.Background(), "1", "pause")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Message != "not connected" {
		t.Fatalf("err = %v", err)
	}
}

func TestHTTPErrorDetail(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"detail":"Not connected to voice channel"}`)
	})
	err := c.Control(context.Background(), "1", "skip")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != 400 || apiErr.Message != "Not connected to voice channel" {
		t.Fatalf("err = %v", err)
	}
}

func TestNotFound(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	if _, err := c.StreamURL(context.Background(), "yt:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestControlRejectsUnknownAction(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent for invalid action")
	})
	if err := c.Control(context.Background(), "1", "rewind"); err == nil {
		t.Fatal("expected error")
	}
}

func TestControlAndPlaybackModeQuery(t *testing.T) {
	var got []string
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		got = append(got, r.URL.Path+"?"+r.URL.RawQuery)
		io.WriteString(w, `{"success":true,"message":"ok"}`)
	})
	ctx := context.Background()
	if err := c.Control(ctx, "9", "resume"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPlaybackMode(ctx, "9", "web"); err != nil {
		t.Fatal(err)
	}
	want := []string{"/api/guilds/9/music/control?action=resume", "/api/guilds/9/music/playback-mode?mode=web"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v", got)
	}
}

func TestStreamURLEscapesURI(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawPath != "/api/stream/https:%2F%2Fyoutu.be%2Fabc" {
			t.Errorf("raw path = %q", r.URL.RawPath)
		}
		io.WriteString(w, `{"success":true,"data":{"stream_url":"http://cdn/a.mp3","format":"mp3"}}`)
	})
	loc, err := c.StreamURL(context.Background(), "https://youtu.be/abc")
	if err != nil {
		t.Fatal(err)
	}
	if loc.StreamURL != "http://cdn/a.mp3" {
		t.Fatalf("got %+v", loc)
	}
}

func TestSetAIModeSendsNumericGuild(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
			return
		}
		if string(body["guild_id"]) != "123456789012345678" {
			t.Errorf("guild_id = %s", body["guild_id"])
		}
		io.WriteString(w, `{"success":true}`)
	})
	if err := c.SetAIMode(context.Background(), "123456789012345678", "creative"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetAIMode(context.Background(), "abc", "creative"); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
}

func TestHealthWithoutEnvelope(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"healthy","bot_ready":true,"guilds":3,"websocket_connections":2}`)
	})
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !h.BotReady || h.Guilds != 3 {
		t.Fatalf("got %+v", h)
	}
}

func TestChatLogsQuery(t *testing.T) {
	c := backend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "50" || r.URL.Query().Get("guild_id") != "7" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		io.WriteString(w, `{"success":true,"data":[{"id":"1","username":"ann","user_message":"hi"}]}`)
	})
	logs, err := c.ChatLogs(context.Background(), "7", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Username != "ann" {
		t.Fatalf("got %+v", logs)
	}
}
