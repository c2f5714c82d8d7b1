// jwt.go — аутентификация по RS256-токенам, ключи из JWKS провайдера.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/ingest-module/internal/api/errors"
)

// Claims — claims токена загружающего пользователя.
// Scope читается из трёх мест: "scope" (строка через пробел),
// "scopes" (массив) и роли realm Keycloak.
type Claims struct {
	jwt.RegisteredClaims
	ScopeString string   `json:"scope"`
	ScopeArray  []string `json:"scopes"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Principal строит пользователя из claims. Токен без sub отклоняется.
func (c *Claims) Principal() (Principal, error) {
	sub, err := c.GetSubject()
	if err != nil {
		return Principal{}, err
	}
	if strings.TrimSpace(sub) == "" {
		return Principal{}, errors.New("в токене нет sub")
	}

	raw := strings.Fields(c.ScopeString)
	raw = append(raw, c.ScopeArray...)
	raw = append(raw, c.RealmAccess.Roles...)
	return Principal{Subject: sub, Scopes: normalizeScopes(raw)}, nil
}

// JWTAuthConfig — параметры проверки токенов.
type JWTAuthConfig struct {
	JWKSURL         string
	CACertPath      string
	TLSSkipVerify   bool
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	// JWTLeeway — допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration
}

// JWTAuth проверяет RS256-токены по ключам JWKS.
type JWTAuth struct {
	keys   keyfunc.Keyfunc
	parser *jwt.Parser
	logger *slog.Logger
}

// NewJWTAuth загружает JWKS в фоне. Недоступный при старте JWKS
// не мешает запуску: ключи подтянутся при следующем обновлении.
func NewJWTAuth(cfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	client, err := jwksClient(cfg)
	if err != nil {
		return nil, err
	}

	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("url", cfg.JWKSURL),
				slog.String("error", err.Error()),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("хранилище JWKS: %w", err)
	}

	keys, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("keyfunc: %w", err)
	}
	return NewJWTAuthWithKeyfunc(keys, cfg.JWTLeeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт проверку с готовым набором ключей.
func NewJWTAuthWithKeyfunc(keys keyfunc.Keyfunc, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

// jwksClient — HTTP-клиент JWKS с дополнительным CA.
func jwksClient(cfg JWTAuthConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // IM_TLS_SKIP_VERIFY
	}
	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("чтение CA-сертификата %s: %w", cfg.CACertPath, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("в %s нет PEM-сертификатов", cfg.CACertPath)
		}
		tlsCfg.RootCAs = pool
	}
	return &http.Client{
		Timeout:   cfg.ClientTimeout,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}, nil
}

// bearerToken извлекает токен из заголовка Authorization.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("отсутствует заголовок Authorization")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("ожидается Authorization: Bearer <token>")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("пустой Bearer token")
	}
	return token, nil
}

// Authenticate проверяет токен и возвращает пользователя.
func (j *JWTAuth) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims := &Claims{}
	if _, err := j.parser.ParseWithClaims(token, claims, j.keys.KeyfuncCtx(ctx)); err != nil {
		return Principal{}, err
	}
	return claims.Principal()
}

// Middleware отвечает 401 на запросы без действительного токена.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				apierrors.Unauthorized(w, err.Error())
				return
			}

			p, err := j.Authenticate(r.Context(), token)
			if err != nil {
				j.logger.Debug("Токен отклонён",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("error", err.Error()),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
