package api

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/cartsync/internal/domain"
	"github.com/dukerupert/cartsync/internal/handler"
	"github.com/dukerupert/cartsync/internal/session"
	"github.com/dukerupert/cartsync/internal/telemetry"
)

// SessionSignal is the part of session.Signal the handlers drive.
type SessionSignal interface {
	Current() *session.User
	Login(u session.User)
	Logout()
}

// SessionHandler lets the UI report login and logout. It is the local
// counterpart of the NATS session feed.
type SessionHandler struct {
	signal SessionSignal
	engine CartEngine
	// settle blocks until the merge triggered by a login has finished.
	settle func()
	logger *slog.Logger
}

// NewSessionHandler creates a session handler. settle may be nil.
func NewSessionHandler(signal SessionSignal, engine CartEngine, settle func(), logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if settle == nil {
		settle = func() {}
	}
	return &SessionHandler{
		signal: signal,
		engine: engine,
		settle: settle,
		logger: logger,
	}
}

type loginRequest struct {
	ID    string `json:"id" validate:"required,max=128"`
	Email string `json:"email" validate:"omitempty,email"`
	Token string `json:"token" validate:"required"`
}

type sessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	UserID        string       `json:"userId,omitempty"`
	Cart          CartResponse `json:"cart"`
}

// Login handles POST /api/session/login
//
// The response waits for the guest cart merge so it carries the merged cart.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := handler.DecodeJSON(r, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("session.login", "User ID and token are required"))
		return
	}

	h.signal.Login(session.User{ID: req.ID, Email: req.Email, Token: req.Token})
	telemetry.SetUser(req.ID, req.Email)
	h.settle()

	h.logger.Info("session started", "user_id", req.ID)
	h.write(w)
}

// Logout handles POST /api/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.signal.Logout()
	telemetry.SetUser("", "")
	h.write(w)
}

// Current handles GET /api/session
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	h.write(w)
}

func (h *SessionHandler) write(w http.ResponseWriter) {
	resp := sessionResponse{Cart: NewCartResponse(h.engine.Snapshot())}
	if u := h.signal.Current(); u != nil {
		resp.Authenticated = true
		resp.UserID = u.ID
	}
	handler.JSON(w, http.StatusOK, resp)
}
