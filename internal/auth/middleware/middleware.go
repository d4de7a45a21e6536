package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mind-engage/answer-eval/internal/rbac"
	"github.com/mind-engage/answer-eval/internal/user"
)

const (
	tokenIssuer = "answer-eval"
	tokenTTL    = 8 * time.Hour

	// HeaderUserToken carries a bare user id; enabled for offline deployments.
	HeaderUserToken = "X-User-Token"
)

var ErrInvalidToken = errors.New("invalid token")

type AuthService struct {
	hmac []byte
	now  func() time.Time
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{hmac: []byte(secret), now: time.Now}
}

type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"` // student | teacher | admin
	jwt.RegisteredClaims
}

func (a *AuthService) IssueJWT(sub, role string) (string, error) {
	now := a.now()
	claims := &Claims{
		Sub:  sub,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || c.Sub == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (user.User, error)
}

type UserLookup interface {
	Get(ctx context.Context, id string) (user.User, error)
	GetByUsername(ctx context.Context, username string) (user.User, error)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// POST /auth/login  { "username": "...", "password": "..." }
func LoginHandler(a *AuthService, users Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "bad json")
			return
		}
		u, err := users.Authenticate(r.Context(), strings.TrimSpace(req.Username), req.Password)
		if errors.Is(err, user.ErrInvalidCredentials) {
			writeDetail(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "login failed")
			return
		}
		tok, err := a.IssueJWT(u.ID, u.Role)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "issue token")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": tok,
			"token_type":   "bearer",
			"role":         u.Role,
		})
	}
}

// Authenticate accepts "Authorization: Bearer <jwt>" and, when allowTokenHeader
// is set, "X-User-Token: <user id>". The subject and role land in the request
// context; anything else is a 401.
func Authenticate(a *AuthService, users UserLookup, allowTokenHeader bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				c, err := a.Parse(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
				if err != nil {
					writeDetail(w, http.StatusUnauthorized, "Login required")
					return
				}
				ctx = rbac.WithRole(WithSubject(ctx, c.Sub), c.Role)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if tok := strings.TrimSpace(r.Header.Get(HeaderUserToken)); allowTokenHeader && tok != "" && users != nil {
				u, err := lookupUser(ctx, users, tok)
				if err != nil {
					writeDetail(w, http.StatusUnauthorized, "Login required")
					return
				}
				ctx = rbac.WithRole(WithSubject(ctx, u.ID), u.Role)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			writeDetail(w, http.StatusUnauthorized, "Login required")
		})
	}
}

// dev tokens often carry the username instead of the id
func lookupUser(ctx context.Context, users UserLookup, key string) (user.User, error) {
	u, err := users.Get(ctx, key)
	if errors.Is(err, user.ErrNotFound) {
		return users.GetByUsername(ctx, key)
	}
	return u, err
}
