package http

import (
	"net/http"
	"time"

	"finapp/internal/core"
	applog "finapp/internal/log"
)

// userResponse omits device tokens; only their count is exposed.
type userResponse struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	Settings    core.Settings `json:"settings"`
	DeviceCount int           `json:"deviceCount"`
	CreatedAt   time.Time     `json:"createdAt"`
}

func newUserResponse(u core.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		Settings:    u.Settings,
		DeviceCount: len(u.DeviceTokens),
		CreatedAt:   u.CreatedAt,
	}
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpCreateUser, err)
		return
	}

	user, err := s.ledger.CreateUser(r.Context(), sanitizeInput(req.Name), sanitizeInput(req.Email), req.settings())
	if err != nil {
		writeError(w, r, applog.OpCreateUser, err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "User created",
		applog.FieldUserID, user.ID, applog.FieldOperation, applog.OpCreateUser)
	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/users/"+user.ID).
		JSON(newUserResponse(user)).
		Write(w)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.ledger.GetUser(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, r, "get_user", err)
		return
	}
	NewResponse().JSON(newUserResponse(user)).Write(w)
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpRegisterDevice, err)
		return
	}

	user, err := s.ledger.RegisterDevice(r.Context(), r.PathValue("userID"), sanitizeInput(req.Token))
	if err != nil {
		writeError(w, r, applog.OpRegisterDevice, err)
		return
	}
	NewResponse().JSON(newUserResponse(user)).Write(w)
}

func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.RemoveDevice(r.Context(), r.PathValue("userID"), r.PathValue("token")); err != nil {
		writeError(w, r, applog.OpRemoveDevice, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}
