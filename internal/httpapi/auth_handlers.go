package httpapi

import (
	"errors"
	"net/http"

	"amphoraxe.ca/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string        `json:"token"`
	User  auth.Identity `json:"user"`
	Apps  []string      `json:"apps"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := a.svc.Login(r.Context(), req.Email, req.Password, clientIPFrom(r), r.UserAgent())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	a.setAuthCookie(w, res.Token)
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, User: res.User, Apps: res.Apps})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token := SessionToken(r)
	if token != "" {
		if err := a.svc.Logout(r.Context(), token, clientIPFrom(r)); err != nil {
			writeServiceError(w, r, err)
			return
		}
		a.guard.Drop(token)
	}
	a.clearAuthCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := a.svc.Signup(r.Context(), req.Email, req.Password, req.Name, clientIPFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    auth.PublicIdentity(user),
		"message": "account created, pending admin approval",
	})
}

type validateResponse struct {
	Valid    bool             `json:"valid"`
	User     auth.Identity    `json:"user"`
	Apps     []string         `json:"apps"`
	Features *auth.FeatureSet `json:"features,omitempty"`
}

// handleValidate is the endpoint every downstream application calls on each
// request. A missing or dead token is a plain 401; the caller cannot tell
// which.
func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token := SessionToken(r)
	res, err := a.svc.Validate(r.Context(), token, r.URL.Query().Get("app"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:    true,
		User:     res.User,
		Apps:     res.Apps,
		Features: res.Features,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	res, err := a.svc.Validate(r.Context(), SessionToken(r), "")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": res.User,
		"apps": res.Apps,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	res, err := a.svc.Validate(r.Context(), SessionToken(r), "")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err = a.svc.ChangePassword(r.Context(), res.User.ID, req.CurrentPassword, req.NewPassword, clientIPFrom(r))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, r, http.StatusUnauthorized, "current password is incorrect")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}

// handleCSRFToken hands the session its synchronizer token for form posts.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token := SessionToken(r)
	if _, err := a.svc.Validate(r.Context(), token, ""); err != nil {
		writeServiceError(w, r, err)
		return
	}
	csrfToken, err := a.guard.Issue(token)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": csrfToken})
}
