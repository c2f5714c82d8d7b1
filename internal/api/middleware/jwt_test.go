package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// generateTestToken генерирует JWT токен для тестов.
func generateTestToken(key *rsa.PrivateKey, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	return token.SignedString(key)
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	// Сериализуем публичный ключ в DER
	_ = x509.MarshalPKCS1PublicKey(pub)

	// Кодируем N и E в base64url
	nBytes := pub.N.Bytes()
	nB64 := base64.RawURLEncoding.EncodeToString(nBytes)
	eBytes := big.NewInt(int64(pub.E)).Bytes()
	eB64 := base64.RawURLEncoding.EncodeToString(eBytes)

	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   nB64,
				"e":   eB64,
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// newTestJWTAuth создаёт JWTAuth с RSA ключом для тестов.
func newTestJWTAuth(key *rsa.PrivateKey) *JWTAuth {
	jwksJSON := buildJWKSetJSON(&key.PublicKey, testKeyID)
	kf, err := keyfunc.NewJWKSetJSON(jwksJSON)
	if err != nil {
		panic("не удалось создать keyfunc из JWKS JSON: " + err.Error())
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewJWTAuthWithKeyfunc(kf, 5*time.Second, logger)
}

// serveWithToken пропускает запрос с токеном через middleware и
// возвращает код ответа и пользователя, дошедшего до handler.
func serveWithToken(t *testing.T, auth *JWTAuth, header string) (int, Principal) {
	t.Helper()
	var got Principal
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Error("пользователь не помещён в контекст")
		}
		got = p
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code, got
}

func validClaims(sub string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

// TestJWTAuth_ValidToken проверяет валидный JWT.
func TestJWTAuth_ValidToken(t *testing.T) {
	key, err := generateTestKey()
	if err != nil {
		t.Fatal(err)
	}
	claims := validClaims("test-user")
	claims.ScopeArray = []string{"files:read", "files:write"}
	token, err := generateTestToken(key, claims)
	if err != nil {
		t.Fatal(err)
	}

	code, p := serveWithToken(t, newTestJWTAuth(key), "Bearer "+token)
	if code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", code)
	}
	if p.Subject != "test-user" {
		t.Errorf("ожидался sub=test-user, получен %s", p.Subject)
	}
	if !slices.Equal(p.Scopes, []string{"files:read", "files:write"}) {
		t.Errorf("неожиданные scopes: %v", p.Scopes)
	}
}

// TestJWTAuth_Rejected проверяет ответ 401 на отсутствующий и некорректный токен.
func TestJWTAuth_Rejected(t *testing.T) {
	key, _ := generateTestKey()
	auth := newTestJWTAuth(key)

	expired := validClaims("test-user")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	expiredToken, _ := generateTestToken(key, expired)

	noSubToken, _ := generateTestToken(key, validClaims(""))

	otherKey, _ := generateTestKey()
	foreignToken, _ := generateTestToken(otherKey, validClaims("test-user"))

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"без префикса bearer", "token123"},
		{"пустой токен", "Bearer "},
		{"просроченный", "Bearer " + expiredToken},
		{"без sub", "Bearer " + noSubToken},
		{"чужой ключ", "Bearer " + foreignToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := auth.Middleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Error("handler не должен быть вызван")
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
		})
	}
}

// TestClaims_Principal проверяет сбор scope из всех форматов токена.
func TestClaims_Principal(t *testing.T) {
	claims := validClaims("ops")
	claims.ScopeString = "files:read  files:admin"
	claims.ScopeArray = []string{"files:read", " "}
	claims.RealmAccess.Roles = []string{"offline_access"}

	p, err := claims.Principal()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"files:read", "files:admin", "offline_access"}
	if !slices.Equal(p.Scopes, want) {
		t.Errorf("scopes: хотели %v, получили %v", want, p.Scopes)
	}
	if !p.Has("files:admin") || p.Has("") {
		t.Errorf("Has: %+v", p)
	}

	if _, err := validClaims("  ").Principal(); err == nil {
		t.Error("пустой sub должен отклоняться")
	}
}

// TestJWTAuth_RealmRoleGrantsAdmin проверяет scope администратора из ролей Keycloak.
func TestJWTAuth_RealmRoleGrantsAdmin(t *testing.T) {
	key, _ := generateTestKey()
	claims := validClaims("ops")
	claims.RealmAccess.Roles = []string{"files:admin"}
	token, err := generateTestToken(key, claims)
	if err != nil {
		t.Fatal(err)
	}

	code, p := serveWithToken(t, newTestJWTAuth(key), "Bearer "+token)
	if code != http.StatusOK || !p.Has("files:admin") {
		t.Errorf("код %d, пользователь %+v", code, p)
	}
}

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want int
	}{
		{"есть scope", WithPrincipal(context.Background(), Principal{Subject: "u", Scopes: []string{"files:read", "files:admin"}}), http.StatusOK},
		{"нет scope", WithPrincipal(context.Background(), Principal{Subject: "u", Scopes: []string{"files:read"}}), http.StatusForbidden},
		{"не аутентифицирован", context.Background(), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireScope("files:admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(tt.ctx))
			if rec.Code != tt.want {
				t.Errorf("хотели %d, получили %d", tt.want, rec.Code)
			}
		})
	}
}

// TestDevAuth проверяет, что режим разработки не выдаёт scope без запроса.
func TestDevAuth(t *testing.T) {
	var got Principal
	handler := DevAuth()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got.Subject != "dev-user" || got.Has("files:admin") || len(got.Scopes) != 0 {
		t.Errorf("по умолчанию: %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/cleanup/stats", nil)
	req.Header.Set(DevUserHeader, "alice")
	req.Header.Set(DevScopesHeader, "files:admin")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got.Subject != "alice" || !got.Has("files:admin") {
		t.Errorf("из заголовков: %+v", got)
	}
}
