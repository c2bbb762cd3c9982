package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var signingKey = []byte("backendtest")

// AddUser registers a primary login for the /auth endpoints.
func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
}

func (s *Server) token(subject string, ttl time.Duration) string {
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}).SignedString(signingKey)
	return tok
}

func (s *Server) authRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&creds)
		s.mu.Lock()
		pw, found := s.users[creds.Username]
		s.mu.Unlock()
		if !found || pw != creds.Password {
			reject(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		ok(w, map[string]any{
			"accessToken":  s.token(creds.Username, time.Hour),
			"refreshToken": fmt.Sprintf("rt-%s", creds.Username),
			"userId":       7,
			"username":     creds.Username,
			"firstName":    "Sam",
			"lastName":     "Carter",
			"role":         "CASHIER",
			"permissions":  []string{"pos:checkout", "shift:manage"},
			"storeCode":    "ST-1",
		})
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]string{"accessToken": s.token("refreshed", time.Hour)})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) { ok(w, nil) })
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]any{"userId": 7, "firstName": "Sam", "lastName": "Carter", "role": "CASHIER", "storeCode": "ST-1"})
	})
}
