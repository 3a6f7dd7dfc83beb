package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AnonHeader: заголовок с анонимным идентификатором клиента.
const AnonHeader = "X-Anon-ID"

// Identity: сырые идентификаторы зрителя из запроса.
type Identity struct {
	UserID string
	AnonID string
}

type identityKey struct{}

// IdentityFrom достаёт идентификаторы из контекста.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// WithIdentity кладёт идентификаторы в контекст.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityMiddleware проверяет Bearer JWT (HS256, sub содержит id пользователя)
// и читает анонимный идентификатор. Запрос без токена пропускается.
func IdentityMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Identity{AnonID: strings.TrimSpace(r.Header.Get(AnonHeader))}
			if header := r.Header.Get("Authorization"); header != "" {
				token, ok := strings.CutPrefix(header, "Bearer ")
				if !ok {
					WriteError(w, http.StatusUnauthorized, "ожидается Bearer токен")
					return
				}
				userID, err := VerifyToken(strings.TrimSpace(token), key)
				if err != nil {
					WriteError(w, http.StatusUnauthorized, "токен недействителен")
					return
				}
				id.UserID = userID
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// VerifyToken проверяет подпись и срок действия токена и возвращает sub.
func VerifyToken(raw string, key []byte) (string, error) {
	if len(key) == 0 {
		return "", errors.New("секрет JWT не задан")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("разбор токена: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("в токене нет sub")
	}
	return claims.Subject, nil
}

// SignToken выпускает токен для пользователя. Используется в тестах и утилитах.
func SignToken(userID string, key []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
