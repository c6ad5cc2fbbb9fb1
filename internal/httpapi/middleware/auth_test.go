package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-shared-secret"

func createTestJWT(secret string, claims map[string]interface{}) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claimsJSON, _ := json.Marshal(claims)
	payload := base64.RawURLEncoding.EncodeToString(claimsJSON)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(header + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return header + "." + payload + "." + sig
}

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pk := UserPK(r.Context()); pk != nil {
			w.Header().Set("X-User-PK", strconv.FormatInt(*pk, 10))
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticate_ValidTokenPopulatesUserPK(t *testing.T) {
	a := NewAuth(testSecret, false)
	token := createTestJWT(testSecret, map[string]interface{}{"sub": "42"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	a.Authenticate(echoHandler()).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "42", w.Header().Get("X-User-PK"))
}

func TestAuthenticate_MissingHeaderRejectedByDefault(t *testing.T) {
	a := NewAuth(testSecret, false)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()

	a.Authenticate(echoHandler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticate_MissingHeaderAllowedWhenUnauthenticatedPermitted(t *testing.T) {
	a := NewAuth(testSecret, true)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()

	a.Authenticate(echoHandler()).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", w.Header().Get("X-User-PK"))
}

func TestAuthenticate_BadSignatureRejected(t *testing.T) {
	a := NewAuth(testSecret, false)
	token := createTestJWT("wrong-secret", map[string]interface{}{"sub": "42"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	a.Authenticate(echoHandler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticate_NonIntegerSubjectRejected(t *testing.T) {
	a := NewAuth(testSecret, false)
	token := createTestJWT(testSecret, map[string]interface{}{"sub": "not-a-number"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	a.Authenticate(echoHandler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticate_ExpiredTokenRejected(t *testing.T) {
	a := NewAuth(testSecret, false)
	token := createTestJWT(testSecret, map[string]interface{}{"sub": "42", "exp": 1})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	a.Authenticate(echoHandler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticate_MalformedAuthorizationHeaderRejected(t *testing.T) {
	a := NewAuth(testSecret, false)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "not-bearer-format")
	w := httptest.NewRecorder()

	a.Authenticate(echoHandler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
