package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/faithconnect/member-service/shared/utils"
	"github.com/faithconnect/member-service/v1/models"
)

const memberChangedEvent = "member.changed"

// streamMembers relays the caller's church change stream as server-sent
// events. Reconnecting clients resume from Last-Event-ID (or ?from=).
func (h *V1Handler) streamMembers(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	if h.changes == nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "Live updates are not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondWithError(w, http.StatusInternalServerError, "Streaming is not supported")
		return
	}

	fromID := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if fromID == "" {
		fromID = strings.TrimSpace(r.URL.Query().Get("from"))
	}

	// the server write timeout would otherwise cut the stream
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	err := h.changes.Subscribe(r.Context(), session.ChurchID, fromID, func(id string, event *models.MemberChangedEvent) error {
		if !session.CanReadAll() && !visibleTo(session, event) {
			return nil
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, memberChangedEvent, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		slog.Warn("Member change stream ended with error", "churchId", session.ChurchID, "error", err)
	}
}

// visibleTo reports whether a member-scoped caller may see the event. Without
// read-all permission only changes the caller made are relayed.
func visibleTo(session *models.Session, event *models.MemberChangedEvent) bool {
	return event.ActorID != "" && event.ActorID == session.ActorID()
}
