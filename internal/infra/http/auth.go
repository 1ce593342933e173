package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/usecase"
)

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

// AdminClaims identify an admin by Telegram id in the subject.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TelegramID parses the subject.
func (c *AdminClaims) TelegramID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// AuthManager signs and checks HS256 bearer tokens.
type AuthManager struct {
	secret []byte
	now    func() time.Time
}

func NewAuthManager(secret string) *AuthManager {
	return &AuthManager{secret: []byte(secret), now: time.Now}
}

// Mint issues a token for the admin with the given Telegram id.
func (a *AuthManager) Mint(tgID int64, ttl time.Duration) (string, error) {
	now := a.now()
	claims := AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   strconv.FormatInt(tgID, 10),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthManager) ParseFromRequest(r *http.Request) (*AdminClaims, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return nil, errMissingToken
	}
	scheme, tok, ok := strings.Cut(hdr, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tok) == "" {
		return nil, errMissingToken
	}
	return a.parse(strings.TrimSpace(tok))
}

func (a *AuthManager) parse(tok string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !tkn.Valid {
		return nil, errInvalidToken
	}
	if claims.Role != "admin" {
		return nil, errInvalidToken
	}
	return claims, nil
}

type adminKey struct{}

func withAdmin(ctx context.Context, a *model.Admin) context.Context {
	return context.WithValue(ctx, adminKey{}, a)
}

// adminFrom returns the admin authenticated for the request.
func adminFrom(ctx context.Context) *model.Admin {
	a, _ := ctx.Value(adminKey{}).(*model.Admin)
	return a
}

// requireToken checks the bearer token and loads the admin row; the admin
// table stays authoritative, so revoking an admin invalidates their tokens.
func requireToken(auth *AuthManager, admins usecase.AdminUseCase) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := auth.ParseFromRequest(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			tgID, err := claims.TelegramID()
			if err != nil {
				writeError(w, http.StatusUnauthorized, errInvalidToken.Error())
				return
			}
			admin, err := admins.Get(r.Context(), tgID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "admin lookup failed")
				return
			}
			if admin == nil || !admin.Active {
				writeError(w, http.StatusForbidden, fmt.Sprintf("telegram id %d is not an admin", tgID))
				return
			}
			next.ServeHTTP(w, r.WithContext(withAdmin(r.Context(), admin)))
		})
	}
}

func requirePerm(perm model.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !adminFrom(r.Context()).Allows(perm) {
				writeError(w, http.StatusForbidden, "missing permission "+string(perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
