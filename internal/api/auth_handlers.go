package api

import (
	"mime"
	"net/http"

	"github.com/Jeffreasy/LaventeCareMailer/internal/api/helpers"
	"github.com/Jeffreasy/LaventeCareMailer/internal/api/middleware"
	"github.com/Jeffreasy/LaventeCareMailer/internal/auth"
	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
)

// SignupRequest defines the expected JSON body for registration.
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest accepts either "email" or the OAuth2 password-flow "username".
type LoginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by signup and login.
type TokenResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	User        *storage.User `json:"user"`
}

func (s *Server) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		s.logger.Warn("signup_invalid_body", "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.auth.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusCreated, TokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		User:        res.User,
	})
}

// Login takes JSON or an application/x-www-form-urlencoded OAuth2 password
// form with username and password fields.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	} else if err := helpers.DecodeJSON(r, &req); err != nil {
		s.logger.Warn("login_invalid_body", "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email := req.Email
	if email == "" {
		email = req.Username
	}
	if email == "" || req.Password == "" {
		helpers.RespondError(w, http.StatusBadRequest, "email and password required")
		return
	}

	res, err := s.auth.Login(r.Context(), auth.LoginInput{
		Email:     email,
		Password:  req.Password,
		IP:        helpers.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, TokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   res.TokenType,
		User:        res.User,
	})
}

func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.Me(r.Context(), middleware.MustGetUserID(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, user)
}

// JWKS publishes the token verification keys.
func (s *Server) JWKS(w http.ResponseWriter, r *http.Request) {
	jwks, err := s.auth.GetJWKS()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	helpers.RespondJSON(w, http.StatusOK, jwks)
}
