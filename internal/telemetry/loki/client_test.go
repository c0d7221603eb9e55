package loki

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPushEvent(t *testing.T) {
	var got PushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode push body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	err := PushEvent(context.Background(), srv.URL, ts, `{"x":1}`, map[string]string{"event_type": "login_success"})
	if err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	if got.Streams[0].Stream["job"] != "auth-core-audit" || got.Streams[0].Stream["event_type"] != "login_success" {
		t.Errorf("labels = %v", got.Streams[0].Stream)
	}
}

func TestPushEvent_EmptyURL(t *testing.T) {
	if err := PushEvent(context.Background(), "", time.Now(), "line", nil); err == nil {
		t.Fatal("empty base URL should error")
	}
}

func TestPushEvent_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	if err := PushEvent(context.Background(), srv.URL, time.Now(), "line", nil); err == nil {
		t.Fatal("non-2xx should error")
	}
}
