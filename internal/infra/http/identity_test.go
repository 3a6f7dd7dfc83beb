package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fact-feed/internal/domain"
)

func TestIdentityMiddleware(t *testing.T) {
	secret := "test-secret"
	valid, err := SignToken("42", []byte(secret), time.Hour)
	if err != nil {
		t.Fatalf("подпись токена: %v", err)
	}
	expired, _ := SignToken("42", []byte(secret), -time.Hour)
	foreign, _ := SignToken("42", []byte("other"), time.Hour)

	cases := []struct {
		name       string
		auth       string
		anon       string
		wantStatus int
		want       Identity
	}{
		{name: "аноним", anon: "device-1", wantStatus: http.StatusOK, want: Identity{AnonID: "device-1"}},
		{name: "пользователь", auth: "Bearer " + valid, wantStatus: http.StatusOK, want: Identity{UserID: "42"}},
		{name: "оба идентификатора", auth: "Bearer " + valid, anon: "device-1", wantStatus: http.StatusOK, want: Identity{UserID: "42", AnonID: "device-1"}},
		{name: "без идентификаторов", wantStatus: http.StatusOK},
		{name: "истёкший токен", auth: "Bearer " + expired, wantStatus: http.StatusUnauthorized},
		{name: "чужая подпись", auth: "Bearer " + foreign, wantStatus: http.StatusUnauthorized},
		{name: "не bearer", auth: "Basic abc", wantStatus: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got Identity
			h := IdentityMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = IdentityFrom(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			if tc.anon != "" {
				req.Header.Set(AnonHeader, tc.anon)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("ожидали статус %d, получили %d", tc.wantStatus, rec.Code)
			}
			if got != tc.want {
				t.Fatalf("ожидали %+v, получили %+v", tc.want, got)
			}
		})
	}
}

func TestVerifyTokenWithoutSecret(t *testing.T) {
	if _, err := VerifyToken("abc", nil); err == nil {
		t.Fatalf("ожидали ошибку без секрета")
	}
}

func TestWriteDomainError(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		hidden     bool
	}{
		{fmt.Errorf("%w: limit", domain.ErrValidation), http.StatusBadRequest, false},
		{fmt.Errorf("%w: факт", domain.ErrNotFound), http.StatusNotFound, false},
		{fmt.Errorf("%w: имя", domain.ErrConflict), http.StatusConflict, false},
		{errors.New("pq: connection reset"), http.StatusInternalServerError, true},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		WriteDomainError(rec, tc.err)
		if rec.Code != tc.wantStatus {
			t.Fatalf("%v: ожидали %d, получили %d", tc.err, tc.wantStatus, rec.Code)
		}
		leaked := strings.Contains(rec.Body.String(), tc.err.Error())
		if tc.hidden && leaked {
			t.Fatalf("текст внутренней ошибки попал в ответ: %s", rec.Body.String())
		}
	}
}
