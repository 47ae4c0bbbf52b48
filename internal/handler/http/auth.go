package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rookgm/cryptomart/internal/models"
)

type AuthService interface {
	// Register creates a new admin account with a hashed password
	Register(ctx context.Context, login, password string) (*models.Admin, error)
	// Login checks the credentials and returns a fresh token
	Login(ctx context.Context, login, password string) (string, error)
}

// AuthHandler represents HTTP handler for admin auth requests
type AuthHandler struct {
	svc AuthService
}

// NewAuthHandler creates new AuthHandler instance
func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type authRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// RegisterAdmin registers a new admin and logs it in
// 200 - admin registered and authenticated
// 400 - bad request format
// 409 - login already taken
// 500 - internal server error
func (ah *AuthHandler) RegisterAdmin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authRequest

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		if req.Login == "" || req.Password == "" {
			http.Error(w, "login and password are required", http.StatusBadRequest)
			return
		}

		if _, err := ah.svc.Register(r.Context(), req.Login, req.Password); err != nil {
			switch {
			case errors.Is(err, models.ErrConflictData):
				http.Error(w, "login already taken", http.StatusConflict)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		token, err := ah.svc.Login(r.Context(), req.Login, req.Password)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     authCookieName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
		})

		w.WriteHeader(http.StatusOK)
	}
}

// LoginAdmin authenticates an admin
// 200 - admin authenticated
// 400 - bad request format
// 401 - invalid login or password
// 500 - internal server error
func (ah *AuthHandler) LoginAdmin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authRequest

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		token, err := ah.svc.Login(r.Context(), req.Login, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrInvalidCredentials):
				http.Error(w, "invalid login or password", http.StatusUnauthorized)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     authCookieName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
		})

		w.WriteHeader(http.StatusOK)
	}
}
