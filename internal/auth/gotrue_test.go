package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGoTrue(t *testing.T, handler http.HandlerFunc) *GoTrueClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGoTrueClient(srv.URL, "anon-key")
}

func TestGoTrueSignIn(t *testing.T) {
	client := newGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "p1@example.com", body["email"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600,"user":{"id":"uid-1","email":"p1@example.com"}}`))
	})

	sess, err := client.SignIn(context.Background(), "p1@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "at", sess.AccessToken)
	assert.Equal(t, "uid-1", sess.User.ID)
	assert.False(t, sess.ExpiresAt.IsZero())
}

func TestGoTrueSignUpWithoutSession(t *testing.T) {
	client := newGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"uid-2","email":"new@example.com"}`))
	})

	sess, err := client.SignUp(context.Background(), "new@example.com", "secret123")
	require.NoError(t, err)
	assert.Empty(t, sess.AccessToken)
	assert.Equal(t, "uid-2", sess.User.ID)
}

func TestGoTrueErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"duplicate", 422, `{"code":422,"error_code":"user_already_exists","msg":"User already registered"}`, ErrDuplicateIdentity},
		{"weak", 422, `{"code":422,"error_code":"weak_password","msg":"Password should be at least 6 characters."}`, ErrWeakCredential},
		{"legacy invalid grant", 400, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`, ErrInvalidCredential},
		{"rate limited", 429, `{"code":429,"error_code":"over_request_rate_limit","msg":"Request rate limit reached"}`, ErrRateLimited},
		{"bad email", 400, `{"code":400,"error_code":"email_address_invalid","msg":"Email address is invalid"}`, ErrInvalidEmail},
		{"server", 503, `{}`, ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.SignIn(context.Background(), "x@example.com", "pw")
			assert.ErrorIs(t, err, tt.want)

			var perr *ProviderError
			assert.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.status, perr.Status)
		})
	}
}

func TestGoTrueUnknownError(t *testing.T) {
	client := newGoTrue(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":403,"error_code":"signup_disabled","msg":"Signups not allowed"}`))
	})
	_, err := client.SignUp(context.Background(), "x@example.com", "pw")

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "signup_disabled", perr.Code)
	assert.NotErrorIs(t, err, ErrDuplicateIdentity)
}

func TestGoTrueNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewGoTrueClient(srv.URL, "k")
	err := client.ResetPassword(context.Background(), "x@example.com")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, UserMessage(ErrDuplicateIdentity), "既に登録")
	assert.Equal(t, RecoverySwitchToLogin, Recovery(ErrDuplicateIdentity))
	assert.Empty(t, Recovery(ErrWeakCredential))
	assert.Contains(t, UserMessage(assert.AnError), "認証エラー")
}
