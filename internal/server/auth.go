// auth.go - Cookie sessions and authentication.
//
// Sessions are HS256 JWTs carried in an HttpOnly cookie. Credentials are
// checked against the users table (bcrypt), with an env-configured admin
// account as bootstrap fallback.
package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthConfig holds session and credential configuration used by the
// HTTP handlers. Unit tests construct this directly; database-backed
// user auth is active when DB is non-nil.
type AuthConfig struct {
	AdminUser     string
	AdminPass     string
	SessionSecret string
	SessionTTL    time.Duration
	CookieName    string
	DB            *sql.DB
}

func (a AuthConfig) cookieName() string {
	if a.CookieName == "" {
		return "medrec_session"
	}
	return a.CookieName
}

func (a AuthConfig) ttl() time.Duration {
	if a.SessionTTL <= 0 {
		return 12 * time.Hour
	}
	return a.SessionTTL
}

// makeToken issues a signed session token for the given subject.
func (a AuthConfig) makeToken(sub string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(a.ttl())
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.SessionSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// verifyToken checks signature and expiry and returns the subject.
func (a AuthConfig) verifyToken(raw string) (string, error) {
	tok, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.SessionSecret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// authenticateUser checks credentials against the users table.
func authenticateUser(db *sql.DB, username, password string) bool {
	var passwordHash string
	err := db.QueryRow(
		`SELECT password_hash FROM users WHERE username = $1 AND is_active = TRUE`,
		username,
	).Scan(&passwordHash)
	if err != nil {
		return false
	}
	return verifyPassword(password, passwordHash)
}

// loginHandler handles POST /login (form: username, password).
// On success it sets the session cookie and returns the success envelope.
func (a AuthConfig) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if apiErr := checkMethod(r, http.MethodPost); apiErr != nil {
			apiErr.write(w)
			return
		}

		username, apiErr := formValue(r, "username")
		if apiErr != nil {
			apiErr.write(w)
			return
		}
		password, apiErr := formValue(r, "password")
		if apiErr != nil {
			apiErr.write(w)
			return
		}

		var authenticated bool
		if a.DB != nil {
			authenticated = authenticateUser(a.DB, username, password)
		}

		// Bootstrap admin fallback when DB auth did not match.
		if !authenticated && a.AdminUser != "" && a.AdminPass != "" {
			uOK := username == a.AdminUser
			pwHash := sha256.Sum256([]byte(password))
			adminHash := sha256.Sum256([]byte(a.AdminPass))
			if uOK && hmac.Equal(pwHash[:], adminHash[:]) {
				authenticated = true
			}
		}

		if !authenticated {
			respondError(w, http.StatusBadRequest, "user not found or wrong credentials")
			return
		}

		tok, exp, err := a.makeToken(username)
		if err != nil {
			respondErrorCause(w, http.StatusInternalServerError, "failed to create session", err)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     a.cookieName(),
			Value:    tok,
			Path:     "/",
			Expires:  exp,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		respondSuccess(w, "user logged in successfully", nil)
	}
}

// checkLoginHandler handles GET /check-login: 200 when the session
// cookie verifies, 401 otherwise.
func (a AuthConfig) checkLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if apiErr := checkMethod(r, http.MethodGet); apiErr != nil {
			apiErr.write(w)
			return
		}

		c, err := r.Cookie(a.cookieName())
		if err != nil {
			respondError(w, http.StatusUnauthorized, "user not logged in yet")
			return
		}
		if _, err := a.verifyToken(c.Value); err != nil {
			respondError(w, http.StatusUnauthorized, "user not logged in yet")
			return
		}

		respondSuccess(w, "user already logged in", nil)
	}
}

// logoutHandler clears the session cookie by setting an expired one.
func (a AuthConfig) logoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if apiErr := checkMethod(r, http.MethodPost); apiErr != nil {
			apiErr.write(w)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     a.cookieName(),
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		respondSuccess(w, "user logged out successfully", nil)
	}
}

// requireAuth rejects requests without a verifiable session cookie.
// Any authenticated caller may reach any record; there is no
// per-patient ownership check.
func (a AuthConfig) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(a.cookieName())
		if err != nil {
			respondError(w, http.StatusUnauthorized, "user not logged in yet")
			return
		}
		if _, err := a.verifyToken(c.Value); err != nil {
			respondError(w, http.StatusUnauthorized, "user not logged in yet")
			return
		}
		next.ServeHTTP(w, r)
	})
}
