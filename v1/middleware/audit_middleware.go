package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/faithconnect/member-service/shared/audit"
	"github.com/faithconnect/member-service/v1/models"
	authutils "github.com/faithconnect/member-service/v1/utils"
)

// AuditDeniedWrites records write requests that were refused with 403.
// Successful and failed writes that reach a service are audited there.
func AuditDeniedWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isWriteOperation(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		if rw.statusCode != http.StatusForbidden {
			return
		}

		session, _ := authutils.GetSession(r.Context())
		targetType, targetID := auditTarget(r.URL.Path)
		event := audit.NewEvent(audit.EventTypeAccessDenied, determineEventAction(r.Method), audit.StatusFailure,
			string(session.ActorType()), session.ActorID(), sessionChurch(session), targetType, targetID)
		event.RequestMetadata = audit.MarshalMetadata(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"clientIp": authutils.GetRequestIP(r),
		})
		// the request context ends with the response
		audit.LogAuditEvent(context.Background(), event)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func isWriteOperation(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch || method == http.MethodDelete
}

func determineEventAction(method string) string {
	switch method {
	case http.MethodPost:
		return "CREATE"
	case http.MethodPut, http.MethodPatch:
		return "UPDATE"
	case http.MethodDelete:
		return "DELETE"
	default:
		return ""
	}
}

// auditTarget maps /api/v1/<collection>/<id>/... onto a resource type and id
func auditTarget(path string) (string, string) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1"), "/"), "/")
	var id string
	if len(parts) > 1 {
		id = parts[1]
	}
	switch parts[0] {
	case "users", "accounts":
		return string(models.ResourceTypeUsers), id
	case "relationships":
		return string(models.ResourceTypeRelationships), ""
	default:
		return string(models.ResourceTypeMembers), id
	}
}

func sessionChurch(session *models.Session) string {
	if session == nil {
		return ""
	}
	return session.ChurchID
}
