// handler.go — общие части HTTP handlers: сборка доменных обработчиков,
// вызывающий пользователь, разбор идентификатора, запись JSON.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
)

// APIHandler собирает доменные handlers для маршрутизации в server.
type APIHandler struct {
	Files  *FilesHandler
	Admin  *AdminHandler
	Health *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(files *FilesHandler, admin *AdminHandler, health *HealthHandler) *APIHandler {
	return &APIHandler{
		Files:  files,
		Admin:  admin,
		Health: health,
	}
}

// callerFromRequest строит вызывающего пользователя из контекста аутентификации.
// Администратор — пользователь со scope adminScope.
func callerFromRequest(r *http.Request, adminScope string) service.Caller {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return service.Caller{UserID: p.Subject, IsAdmin: p.Has(adminScope)}
}

// fileIDParam разбирает {id} из пути как UUID.
func fileIDParam(r *http.Request) (string, bool) {
	var id openapi_types.UUID
	if err := id.UnmarshalText([]byte(chi.URLParam(r, "id"))); err != nil {
		return "", false
	}
	return id.String(), true
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
