// principal.go — аутентифицированный пользователь запроса и проверка scope.
package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	apierrors "github.com/bigkaa/goartstore/ingest-module/internal/api/errors"
)

type principalKey struct{}

// Principal — аутентифицированный пользователь запроса.
// Subject становится идентификатором загружающего пользователя.
type Principal struct {
	Subject string
	Scopes  []string
}

// Has возвращает true, если у пользователя есть scope.
// Пустой scope не выдаётся никому.
func (p Principal) Has(scope string) bool {
	return scope != "" && slices.Contains(p.Scopes, scope)
}

// normalizeScopes убирает пустые и повторяющиеся значения, сохраняя порядок.
func normalizeScopes(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// WithPrincipal помещает пользователя в контекст.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext извлекает пользователя. ok=false — запрос
// не прошёл через middleware аутентификации.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// RequireScope пропускает запрос только при наличии scope, иначе 403.
// Ставится после middleware аутентификации.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			switch {
			case !ok:
				apierrors.Forbidden(w, "Запрос не аутентифицирован")
			case !p.Has(scope):
				apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+scope)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
