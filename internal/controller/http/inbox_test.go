package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/view"
)

type fakePolicy struct {
	mu      sync.Mutex
	result  view.Result
	err     error
	calls   []string
	updates chan view.Result
	closed  bool
}

func newFakePolicy() *fakePolicy {
	return &fakePolicy{
		result: view.Result{
			Items:  []entity.Conversation{{ID: "c1", Kind: entity.KindDirect, Source: entity.SourceDirectChats}},
			Filter: view.FilterAll,
			Pass:   3,
		},
		updates: make(chan view.Result, 4),
	}
}

func (p *fakePolicy) record(call string) (view.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return p.result, p.err
}

func (p *fakePolicy) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePolicy) View(userID string) (view.Result, error) {
	if userID == "" {
		return view.Result{}, entity.ErrUserRequired
	}
	return p.record("view:" + userID)
}

func (p *fakePolicy) SetFilter(userID, filter string) (view.Result, error) {
	if filter == "bogus" {
		return view.Result{}, fmt.Errorf("%w: %q", entity.ErrInvalidFilter, filter)
	}
	return p.record("filter:" + filter)
}

func (p *fakePolicy) SetSearch(userID, search string) (view.Result, error) {
	return p.record("search:" + search)
}

func (p *fakePolicy) Pin(_ context.Context, userID, conversationID string) (view.Result, error) {
	return p.record("pin:" + conversationID)
}

func (p *fakePolicy) Accept(_ context.Context, userID, conversationID string) (view.Result, error) {
	return p.record("accept:" + conversationID)
}

func (p *fakePolicy) Refresh(_ context.Context, userID string) (view.Result, error) {
	return p.record("refresh")
}

func (p *fakePolicy) Subscribe(userID string) (<-chan view.Result, func(), error) {
	if userID == "" {
		return nil, nil, entity.ErrUserRequired
	}
	return p.updates, func() {}, nil
}

func (p *fakePolicy) Close(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return true
}

func newTestRouter(p InboxPolicy) http.Handler {
	r := chi.NewRouter()
	NewInboxHandler(p).RegisterRoutes(r)
	return r
}

func TestGetInbox(t *testing.T) {
	p := newFakePolicy()
	rec := httptest.NewRecorder()
	newTestRouter(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inbox/?user_id=me", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var body InboxResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].ID != "c1" {
		t.Errorf("Expected one item c1, got %+v", body.Items)
	}
	if body.Pass != 3 {
		t.Errorf("Expected pass 3, got %d", body.Pass)
	}
}

func TestInboxItemsCarryDisplayName(t *testing.T) {
	p := newFakePolicy()
	rec := httptest.NewRecorder()
	newTestRouter(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inbox/?user_id=me", nil))

	var body struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Items) != 1 {
		t.Fatalf("Expected one item, got %d", len(body.Items))
	}
	if got := body.Items[0]["display_name"]; got != entity.PlaceholderName {
		t.Errorf("Expected display_name %q, got %v", entity.PlaceholderName, got)
	}
	if got := body.Items[0]["id"]; got != "c1" {
		t.Errorf("Expected id c1 at top level, got %v", got)
	}
}

func TestInboxErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", entity.ErrConversationNotFound, http.StatusNotFound},
		{"not pinnable", entity.ErrNotPinnable, http.StatusConflict},
		{"own request", entity.ErrOwnRequest, http.StatusConflict},
		{"not acceptable", entity.ErrNotAcceptable, http.StatusConflict},
		{"session closed", entity.ErrSessionClosed, http.StatusServiceUnavailable},
		{"wrapped", fmt.Errorf("pin c9: %w", entity.ErrConversationNotFound), http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePolicy()
			p.err = tt.err

			rec := httptest.NewRecorder()
			newTestRouter(p).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inbox/conversations/c1/pin?user_id=me", nil))

			if rec.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestMissingUser(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(newFakePolicy()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inbox/", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestSetFilter(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		p := newFakePolicy()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/inbox/filter?user_id=me", strings.NewReader(`{"filter":"events"}`))
		newTestRouter(p).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		if calls := p.Calls(); len(calls) != 1 || calls[0] != "filter:events" {
			t.Errorf("Expected filter:events call, got %v", calls)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/inbox/filter?user_id=me", strings.NewReader(`{"filter":"bogus"}`))
		newTestRouter(newFakePolicy()).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/inbox/filter?user_id=me", bytes.NewReader([]byte("{")))
		newTestRouter(newFakePolicy()).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
	})
}

func TestSetSearchAndAccept(t *testing.T) {
	p := newFakePolicy()
	router := newTestRouter(p)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/inbox/search?user_id=me", strings.NewReader(`{"search":"jfk"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for search, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inbox/conversations/p1/accept?user_id=me", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for accept, got %d", rec.Code)
	}

	calls := p.Calls()
	if len(calls) != 2 || calls[0] != "search:jfk" || calls[1] != "accept:p1" {
		t.Errorf("Unexpected calls %v", calls)
	}
}

func TestRefreshFailureKeepsInbox(t *testing.T) {
	p := newFakePolicy()
	p.err = fmt.Errorf("%w: events: timeout", entity.ErrSourceUnavailable)

	rec := httptest.NewRecorder()
	newTestRouter(p).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inbox/refresh?user_id=me", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d", rec.Code)
	}

	var body RefreshFailedResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Error != "failed to refresh" {
		t.Errorf("Expected error message, got %q", body.Error)
	}
	if len(body.Inbox.Items) != 1 {
		t.Errorf("Expected last good inbox, got %+v", body.Inbox)
	}
}

func TestCloseSession(t *testing.T) {
	p := newFakePolicy()
	rec := httptest.NewRecorder()
	newTestRouter(p).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/inbox/session?user_id=me", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rec.Code)
	}
	if !p.closed {
		t.Error("Expected session to be closed")
	}
}

func TestStream(t *testing.T) {
	p := newFakePolicy()
	srv := httptest.NewServer(newTestRouter(p))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/inbox/ws?user_id=me"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	t.Run("pushes inbox frames", func(t *testing.T) {
		p.updates <- view.Result{Items: []entity.Conversation{{ID: "e1"}}, Pass: 7}

		var frame StreamFrame
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("ReadJSON failed: %v", err)
		}
		if frame.Type != FrameInbox || frame.Inbox == nil || frame.Inbox.Pass != 7 {
			t.Fatalf("Unexpected frame %+v", frame)
		}
	})

	t.Run("reports command errors", func(t *testing.T) {
		if err := ws.WriteJSON(StreamCommand{Type: "filter", Filter: "bogus"}); err != nil {
			t.Fatalf("WriteJSON failed: %v", err)
		}

		var frame StreamFrame
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("ReadJSON failed: %v", err)
		}
		if frame.Type != FrameError || !strings.Contains(frame.Error, "invalid filter") {
			t.Fatalf("Expected invalid filter error frame, got %+v", frame)
		}
	})

	t.Run("dispatches commands", func(t *testing.T) {
		if err := ws.WriteJSON(StreamCommand{Type: "pin", ConversationID: "c1"}); err != nil {
			t.Fatalf("WriteJSON failed: %v", err)
		}

		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			for _, c := range p.Calls() {
				if c == "pin:c1" {
					return
				}
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("Expected pin:c1 call, got %v", p.Calls())
	})
}

func TestStreamRequiresUser(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(newFakePolicy()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inbox/ws", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}
