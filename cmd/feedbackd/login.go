package main

import (
	"crypto/subtle"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/feedshot/auth"
	"github.com/hazyhaar/feedshot/shield"
)

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.App}} · sign in</title>
<style>
body{font-family:system-ui,sans-serif;background:#f4f4f5;display:flex;justify-content:center;padding-top:12vh}
form{background:#fff;padding:2rem;border-radius:8px;box-shadow:0 1px 4px #0002;min-width:18rem}
label{display:block;margin:.75rem 0 .25rem}
input{width:100%;padding:.4rem;box-sizing:border-box}
button{margin-top:1rem;width:100%;padding:.5rem}
.flash{padding:.5rem;border-radius:4px;background:#fee2e2;color:#991b1b}
</style>
</head>
<body>
<form method="post" action="/login">
<h1>{{.App}}</h1>
{{with .Flash}}<p class="flash">{{.Message}}</p>{{end}}
<label for="username">Username</label>
<input id="username" name="username" autocomplete="username" required>
<label for="password">Password</label>
<input id="password" name="password" type="password" autocomplete="current-password" required>
<button type="submit">Sign in</button>
</form>
</body>
</html>`))

func (s *server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if auth.GetClaims(r.Context()).IsAdmin() {
		http.Redirect(w, r, "/feedback/reports.html", http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	loginPage.Execute(w, map[string]any{"App": s.cfg.AppName, "Flash": shield.GetFlash(r.Context())})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin accepts a form post from the login page or a JSON body from an
// API client. Browsers get a cookie and a redirect, API clients the token.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	api := strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
	var req loginRequest
	if api {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	} else {
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	}

	log := shield.GetLogger(r.Context())
	if !s.checkCredentials(req.Username, req.Password) {
		log.Warn("feedbackd: login failed", "user", req.Username, "ip", shield.ExtractIP(r))
		if api {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		shield.SetFlash(w, "error", "Invalid username or password.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	token, err := auth.GenerateToken(s.cfg.Secret, &auth.Claims{
		UserID: "admin:" + s.cfg.AdminUser,
		Name:   s.cfg.AdminUser,
		Role:   auth.RoleAdmin,
	}, s.cfg.SessionTTL)
	if err != nil {
		log.Error("feedbackd: sign token", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	log.Info("feedbackd: login", "user", s.cfg.AdminUser, "ip", shield.ExtractIP(r))

	if api {
		writeJSON(w, http.StatusOK, map[string]any{"token": token, "expiresIn": int(s.cfg.SessionTTL.Seconds())})
		return
	}
	auth.SetTokenCookie(w, token, s.cfg.SessionTTL, s.cfg.SecureCookies)
	http.Redirect(w, r, "/feedback/reports.html", http.StatusSeeOther)
}

// checkCredentials runs bcrypt even for an unknown user so both failures
// take the same time.
func (s *server) checkCredentials(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUser)) == 1
	passOK := bcrypt.CompareHashAndPassword(s.cfg.AdminHash, []byte(pass)) == nil
	return userOK && passOK
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearTokenCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
