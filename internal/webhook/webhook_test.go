package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fieldtasks/pkg/api"
)

func newTestClient() *Client {
	return New(Config{
		Timeout:         time.Second,
		MaxElapsed:      time.Second,
		InitialInterval: 10 * time.Millisecond,
	})
}

func TestNotify_Success(t *testing.T) {
	var got api.TaskResponse
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected Accept application/json, got %q", r.Header.Get("Accept"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	rsp := api.TaskResponse{
		Task:  api.TaskRenderIndex,
		Atlas: &api.AtlasResult{Slug: "abc", IndexURL: "http://bucket/index-abc.pdf"},
	}
	if err := newTestClient().Notify(context.Background(), server.URL, rsp); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if got.Task != api.TaskRenderIndex {
		t.Errorf("got task %q", got.Task)
	}
	if got.Atlas == nil || got.Atlas.IndexURL != "http://bucket/index-abc.pdf" {
		t.Errorf("unexpected atlas %+v", got.Atlas)
	}
}

func TestNotify_RetriesServerErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			http.Error(w, "try again", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := newTestClient().Notify(context.Background(), server.URL, api.TaskResponse{Task: api.TaskMergePages}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestNotify_RetriesTooManyRequests(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := newTestClient().Notify(context.Background(), server.URL, api.TaskResponse{}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestNotify_ClientErrorIsPermanent(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.Error(w, "no such snapshot", http.StatusNotFound)
	}))
	defer server.Close()

	err := newTestClient().Notify(context.Background(), server.URL, api.TaskResponse{})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d, want 404", se.StatusCode)
	}
	if se.Body != "no such snapshot" {
		t.Errorf("got body %q", se.Body)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestNotify_GivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(Config{MaxElapsed: 100 * time.Millisecond, InitialInterval: 10 * time.Millisecond})

	start := time.Now()
	err := client.Notify(context.Background(), server.URL, api.TaskResponse{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Notify took %v, expected to give up sooner", elapsed)
	}
}

func TestNotify_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := newTestClient().Notify(ctx, server.URL, api.TaskResponse{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
