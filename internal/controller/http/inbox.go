package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/entity"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/view"
	"github.com/BasedOctavian/LayoverApp-sub004/internal/httpx/response"
)

// InboxPolicy defines the inbox operations exposed over HTTP
type InboxPolicy interface {
	View(userID string) (view.Result, error)
	SetFilter(userID, filter string) (view.Result, error)
	SetSearch(userID, search string) (view.Result, error)
	Pin(ctx context.Context, userID, conversationID string) (view.Result, error)
	Accept(ctx context.Context, userID, conversationID string) (view.Result, error)
	Refresh(ctx context.Context, userID string) (view.Result, error)
	Subscribe(userID string) (<-chan view.Result, func(), error)
	Close(userID string) bool
}

// InboxHandler handles HTTP requests for the aggregated inbox
type InboxHandler struct {
	policy InboxPolicy
}

// NewInboxHandler creates a new inbox handler
func NewInboxHandler(p InboxPolicy) *InboxHandler {
	return &InboxHandler{policy: p}
}

// RegisterRoutes registers inbox routes
func (h *InboxHandler) RegisterRoutes(r chi.Router) {
	r.Route("/inbox", func(r chi.Router) {
		r.Get("/", h.Get())
		r.Put("/filter", h.SetFilter())
		r.Put("/search", h.SetSearch())
		r.Post("/conversations/{conversationId}/pin", h.Pin())
		r.Post("/conversations/{conversationId}/accept", h.Accept())
		r.Post("/refresh", h.Refresh())
		r.Delete("/session", h.CloseSession())

		// Live updates
		r.Get("/ws", h.Stream())
	})
}

// ConversationResponse is one rendered inbox entry
type ConversationResponse struct {
	entity.Conversation
	DisplayName string `json:"display_name"`
}

// InboxResponse is the rendered inbox
type InboxResponse struct {
	Items  []ConversationResponse `json:"items"`
	Counts view.Counts            `json:"counts"`
	Filter view.Filter            `json:"filter"`
	Search string                 `json:"search"`
	Pass   uint64                 `json:"pass"`
}

func toResponse(res view.Result) InboxResponse {
	items := make([]ConversationResponse, 0, len(res.Items))
	for _, c := range res.Items {
		items = append(items, ConversationResponse{Conversation: c, DisplayName: c.DisplayName()})
	}
	return InboxResponse{
		Items:  items,
		Counts: res.Counts,
		Filter: res.Filter,
		Search: res.Search,
		Pass:   res.Pass,
	}
}

// RefreshFailedResponse carries the last good inbox along with the error
type RefreshFailedResponse struct {
	Error string        `json:"error"`
	Inbox InboxResponse `json:"inbox"`
}

// SetFilterRequest represents the request body for changing the filter
type SetFilterRequest struct {
	Filter string `json:"filter"`
}

// SetSearchRequest represents the request body for changing the search text
type SetSearchRequest struct {
	Search string `json:"search"`
}

// Get handles GET /inbox
func (h *InboxHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.policy.View(r.URL.Query().Get("user_id"))
		if err != nil {
			handleInboxError(w, err)
			return
		}

		response.OK(w, toResponse(res))
	}
}

// SetFilter handles PUT /inbox/filter
func (h *InboxHandler) SetFilter() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetFilterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}

		res, err := h.policy.SetFilter(r.URL.Query().Get("user_id"), req.Filter)
		if err != nil {
			handleInboxError(w, err)
			return
		}

		response.OK(w, toResponse(res))
	}
}

// SetSearch handles PUT /inbox/search
func (h *InboxHandler) SetSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}

		res, err := h.policy.SetSearch(r.URL.Query().Get("user_id"), req.Search)
		if err != nil {
			handleInboxError(w, err)
			return
		}

		response.OK(w, toResponse(res))
	}
}

// Pin handles POST /inbox/conversations/{conversationId}/pin
func (h *InboxHandler) Pin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.policy.Pin(r.Context(), r.URL.Query().Get("user_id"), chi.URLParam(r, "conversationId"))
		if err != nil {
			handleInboxError(w, err)
			return
		}

		response.OK(w, toResponse(res))
	}
}

// Accept handles POST /inbox/conversations/{conversationId}/accept
func (h *InboxHandler) Accept() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.policy.Accept(r.Context(), r.URL.Query().Get("user_id"), chi.URLParam(r, "conversationId"))
		if err != nil {
			handleInboxError(w, err)
			return
		}

		response.OK(w, toResponse(res))
	}
}

// Refresh handles POST /inbox/refresh
func (h *InboxHandler) Refresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.policy.Refresh(r.Context(), r.URL.Query().Get("user_id"))
		switch {
		case err == nil:
			response.OK(w, toResponse(res))
		case errors.Is(err, entity.ErrSourceUnavailable), errors.Is(err, entity.ErrMergePassFailed):
			response.JSON(w, http.StatusBadGateway, RefreshFailedResponse{
				Error: "failed to refresh",
				Inbox: toResponse(res),
			})
		default:
			handleInboxError(w, err)
		}
	}
}

// CloseSession handles DELETE /inbox/session
func (h *InboxHandler) CloseSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			handleInboxError(w, entity.ErrUserRequired)
			return
		}

		h.policy.Close(userID)
		response.NoContent(w)
	}
}

// handleInboxError maps domain errors to HTTP responses
func handleInboxError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrUserRequired):
		response.BadRequest(w, "user_id is required")
	case errors.Is(err, entity.ErrInvalidFilter):
		response.BadRequest(w, err.Error())
	case errors.Is(err, entity.ErrConversationNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, entity.ErrNotPinnable),
		errors.Is(err, entity.ErrNotAcceptable),
		errors.Is(err, entity.ErrOwnRequest):
		response.Conflict(w, err.Error())
	case errors.Is(err, entity.ErrSessionClosed):
		response.Unavailable(w, err.Error())
	default:
		response.InternalError(w, "internal server error")
	}
}
