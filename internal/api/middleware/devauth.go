// devauth.go — аутентификация по заголовкам для локального запуска.
package middleware

import (
	"net/http"
	"strings"
)

// Заголовки режима разработки.
const (
	// DevUserHeader — идентификатор пользователя, по умолчанию dev-user.
	DevUserHeader = "X-User-ID"
	// DevScopesHeader — scope через пробел. Без заголовка scope нет.
	DevScopesHeader = "X-Dev-Scopes"
)

const devSubject = "dev-user"

// DevAuth — аутентификация без JWKS для локального запуска.
// Пользователь и scope берутся из заголовков запроса: права
// администратора получает только запрос, явно их указавший.
func DevAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := Principal{
				Subject: strings.TrimSpace(r.Header.Get(DevUserHeader)),
				Scopes:  normalizeScopes(strings.Fields(r.Header.Get(DevScopesHeader))),
			}
			if p.Subject == "" {
				p.Subject = devSubject
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
