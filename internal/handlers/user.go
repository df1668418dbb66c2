package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/flockchat/users-api/internal/services"
	"github.com/flockchat/users-api/internal/store"
	"github.com/flockchat/users-api/types"
)

// UserHandler provides HTTP handlers for user accounts.
type UserHandler struct {
	userService *services.UserService
}

// NewUserHandler constructs a handler with the provided service.
func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// UserRouter registers user routes on the given router.
//
// Reads take an optional token; registration is open; the only mutation
// requires a token and the profile lookup used during login requires
// basic credentials.
func UserRouter(r chi.Router, userService *services.UserService, gate *Gate) {
	handler := NewUserHandler(userService)

	r.Post("/", handler.CreateUser)
	r.With(gate.OptionalToken).Get("/", handler.ListUsers)
	r.With(gate.RequireBasic).Get("/me", handler.Me)
	r.With(gate.OptionalToken).Get("/{userID}", handler.GetUser)
	r.With(gate.RequireToken).Put("/{userID}", handler.UpdateUser)
}

// CreateUser registers a new account. Anyone may call it; the response
// carries the stored representation and a Location header.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if err := validateNickname(req.Nickname); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	user, err := h.userService.Register(r.Context(), req.Nickname, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusBadRequest, "nickname already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	w.Header().Set("Location", userLocation(user.ID))
	writeJSON(w, http.StatusCreated, newUserResponse(user))
}

// ListUsers returns all users matching the optional online and
// updated_since filters, ordered by updated_at then nickname so clients
// can poll for changes and resume from the last timestamp they saw.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	users, err := h.userService.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	items := make([]UserResponse, 0, len(users))
	for _, user := range users {
		items = append(items, newUserResponse(user))
	}
	writeJSON(w, http.StatusOK, UserListResponse{Users: items})
}

// GetUser returns a single user by id.
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	user, err := h.userService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch user")
		return
	}

	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// Me returns the caller's own record. The gate has already verified the
// basic credentials and touched presence, so the response reflects the
// caller as online.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFromContext(r.Context())
	if err != nil {
		writeAuthRequired(w)
		return
	}

	user, err := h.userService.GetByID(r.Context(), caller.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "account for credential no longer exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch user")
		return
	}

	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// UpdateUser applies a partial update to the addressed user. Callers may
// only modify themselves.
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	// Existence is checked before ownership so that a stale id yields
	// 404 rather than leaking through as a permission error.
	if _, err := h.userService.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch user")
		return
	}

	caller, err := callerFromContext(r.Context())
	if err != nil {
		writeAuthRequired(w)
		return
	}
	if caller.UserID != id {
		writeError(w, http.StatusForbidden, "users may only modify themselves")
		return
	}

	var patch types.UserPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if patch.Nickname != nil {
		if err := validateNickname(*patch.Nickname); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if patch.Password != nil && *patch.Password == "" {
		writeError(w, http.StatusBadRequest, "password must not be empty")
		return
	}

	if err := h.userService.UpdateProfile(r.Context(), id, patch); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusBadRequest, "nickname already taken")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to update user")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateUserRequest is the registration payload.
type CreateUserRequest struct {
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

// UserLinks points at resources related to a user, matching the
// hypermedia layout shared by the sibling chat services.
type UserLinks struct {
	Self     string `json:"self"`
	Messages string `json:"messages"`
	Tokens   string `json:"tokens"`
}

// UserResponse is the public representation of a user.
type UserResponse struct {
	types.User
	Links UserLinks `json:"_links"`
}

// UserListResponse is the collection listing payload.
type UserListResponse struct {
	Users []UserResponse `json:"users"`
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newUserResponse(user types.User) UserResponse {
	return UserResponse{
		User: user,
		Links: UserLinks{
			Self:     userLocation(user.ID),
			Messages: fmt.Sprintf("/messages/%d", user.ID),
			Tokens:   "/tokens",
		},
	}
}

func userLocation(id int64) string {
	return fmt.Sprintf("/users/%d", id)
}

func validateNickname(nickname string) error {
	if nickname == "" {
		return errors.New("nickname is required")
	}
	if utf8.RuneCountInString(nickname) > types.NicknameMaxLen {
		return fmt.Errorf("nickname must be at most %d characters", types.NicknameMaxLen)
	}
	return nil
}

func parseUserID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid user id")
	}
	return id, nil
}

func parseListFilter(r *http.Request) (store.ListFilter, error) {
	var filter store.ListFilter
	q := r.URL.Query()

	if q.Has("online") {
		// Any value other than "0" selects online users.
		online := q.Get("online") != "0"
		filter.Online = &online
	}
	if q.Has("updated_since") {
		since, err := strconv.ParseInt(q.Get("updated_since"), 10, 64)
		if err != nil {
			return store.ListFilter{}, errors.New("invalid updated_since")
		}
		filter.UpdatedSince = &since
	}
	return filter, nil
}
