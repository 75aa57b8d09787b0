package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexusgeo/tablewatch/internal/app"
	"github.com/nexusgeo/tablewatch/internal/debounce"
	"github.com/nexusgeo/tablewatch/internal/store"
)

type fakePipeline struct {
	mu      sync.Mutex
	enabled bool
	reloads int
	frame   []byte
	events  chan app.Event
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{enabled: true, events: make(chan app.Event, 4)}
}

func (f *fakePipeline) Tracks() []debounce.Entry[int] {
	return []debounce.Entry[int]{
		{ID: 7, Count: 12, LastSeen: 40, Active: false},
		{ID: 8, Count: 30, LastSeen: 41, Active: true},
	}
}

func (f *fakePipeline) Subscribe() (<-chan app.Event, func()) {
	return f.events, func() {}
}

func (f *fakePipeline) LatestFrame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

func (f *fakePipeline) ReloadZones() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakePipeline) IsEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakePipeline) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var response map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", response["status"])
	}
	if _, ok := response["uptime"]; !ok {
		t.Error("expected 'uptime' field in response")
	}

	for _, method := range []string{http.MethodPost, http.MethodDelete} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(method, "/api/health", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
		}
	}
}

func TestServer_OptionalRoutes(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/", "/api/alerts", "/api/zones", "/api/tracks", "/api/stream"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d without dependencies, got %d", path, http.StatusNotFound, rec.Code)
		}
	}
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	page := "<html><body>Mesas</body></html>"
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(page), 0644); err != nil {
		t.Fatalf("failed to write index: %v", err)
	}

	s := New(Config{StaticDir: dir})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if rec.Body.String() != page {
		t.Errorf("expected body %q, got %q", page, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing.css", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestServer_Tracks(t *testing.T) {
	s := New(Config{Pipeline: newFakePipeline()})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tracks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var resp struct {
		Tracks []trackResponse `json:"tracks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(resp.Tracks))
	}
	if got := resp.Tracks[1]; got.TrackID != 8 || got.Count != 30 || !got.Active {
		t.Errorf("unexpected track: %+v", got)
	}
}

func TestServer_Detection(t *testing.T) {
	p := newFakePipeline()
	s := New(Config{Pipeline: p})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/detection", strings.NewReader(`{"enabled":false}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if p.IsEnabled() {
		t.Error("expected detection to be disabled")
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/detection", nil))
	var state detectionState
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if state.Enabled {
		t.Error("expected enabled=false")
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/detection", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/detection", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestServer_StoreRoutes(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	p := newFakePipeline()
	s := New(Config{Store: st, Pipeline: p})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alerts", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("alerts: expected status %d, got %d", http.StatusOK, rec.Code)
	}

	body := `{"table_id":4,"name":"Mesa 4","polygon":[[0,0],[100,0],[100,100]]}`
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/zones", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("zones: expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	if p.reloads != 1 {
		t.Errorf("expected the pipeline to reload zones once, got %d", p.reloads)
	}
}

func TestStreamHandler(t *testing.T) {
	p := newFakePipeline()
	p.frame = []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}

	srv := httptest.NewServer(New(Config{Pipeline: p}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stream")
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("unexpected Content-Type %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read boundary: %v", err)
	}
	if line != "--frame\r\n" {
		t.Fatalf("expected boundary line, got %q", line)
	}

	// Skip the part headers.
	for {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read part header: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}

	got := make([]byte, len(p.frame))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	if !bytes.Equal(got, p.frame) {
		t.Errorf("expected frame % x, got % x", p.frame, got)
	}
}

func TestEventsHandler(t *testing.T) {
	p := newFakePipeline()

	srv := httptest.NewServer(New(Config{Pipeline: p}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	p.events <- app.Event{
		ID:         "a1",
		TrackID:    7,
		Table:      3,
		Type:       "service_hand",
		Confidence: 0.9,
		Timestamp:  time.Date(2026, 3, 1, 20, 15, 0, 0, time.UTC),
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg eventMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if msg.Type != "alert" {
		t.Errorf("expected type alert, got %q", msg.Type)
	}
	if msg.Alert.Table != 3 || msg.Alert.TrackID != 7 {
		t.Errorf("unexpected event: %+v", msg.Alert)
	}
}
