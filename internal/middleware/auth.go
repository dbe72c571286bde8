// Package middleware содержит HTTP middleware реферальной системы.
package middleware

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/referral-bv-system/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 30 * 24 * time.Hour
	tokenIssuer    = "referral-bv-system"
)

var signingMethod = jwt.SigningMethodHS256

type claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Principal описывает аутентифицированного участника запроса.
type Principal struct {
	MemberID int64
	Role     model.Role
}

// IsAdmin сообщает, есть ли у участника права администратора.
func (p Principal) IsAdmin() bool {
	return p.Role == model.RoleAdmin
}

// AuthMiddleware выполняет проверку аутентификации участника по подписанному cookie.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт AuthMiddleware. Без секрета ключ генерируется случайно,
// и cookie перестают быть действительными после перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет участника в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		p, ok := a.parseToken(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает только администраторов. Должен стоять после Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if !p.IsAdmin() {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetAuthCookie устанавливает cookie авторизации для участника.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, p Principal) error {
	now := time.Now()
	token, err := a.sign(p, now)
	if err != nil {
		return err
	}

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
	return nil
}

func (a *AuthMiddleware) sign(p Principal, now time.Time) (string, error) {
	c := claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(p.MemberID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(authCookieTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, c).SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *AuthMiddleware) parseToken(value string) (Principal, bool) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(value, c,
		func(*jwt.Token) (any, error) { return a.secretKey, nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, false
	}

	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, false
	}

	if c.Role != model.RoleMember && c.Role != model.RoleAdmin {
		return Principal{}, false
	}

	return Principal{MemberID: id, Role: c.Role}, true
}

// PrincipalFromContext извлекает участника из контекста запроса.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithPrincipal кладёт участника в контекст. Используется в тестах обработчиков.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}
