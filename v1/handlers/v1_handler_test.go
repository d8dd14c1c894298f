package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/faithconnect/member-service/v1/models"
	"github.com/faithconnect/member-service/v1/services"
	"github.com/faithconnect/member-service/v1/store"
	authutils "github.com/faithconnect/member-service/v1/utils"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChurch = "church-1"

type testV1Handler struct {
	store   *store.MemoryStore
	handler *V1Handler
}

func newTestV1Handler(t *testing.T, changes ChangeSubscriber) *testV1Handler {
	t.Helper()
	s := store.NewMemoryStore()
	members := services.NewMemberService(s, nil)
	accounts := services.NewAccountService(nil, members, nil, services.AccountConfig{})
	return &testV1Handler{
		store:   s,
		handler: NewV1Handler(members, accounts, services.NewIntegrityService(s), changes),
	}
}

// serve routes one request as the given session
func (th *testV1Handler) serve(t *testing.T, session *models.Session, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if session != nil {
				req = req.WithContext(authutils.SetSession(req.Context(), session))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/v1", th.handler.SetupV1Routes)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func staffSession() *models.Session {
	return models.NewSession(&models.AuthenticatedUser{IdpUserID: "staff-1", ChurchID: testChurch, Roles: []models.Role{models.RoleStaff}})
}

func memberSession(userID string) *models.Session {
	return models.NewSession(&models.AuthenticatedUser{IdpUserID: userID, ChurchID: testChurch, Roles: []models.Role{models.RoleMember}})
}

func decodeMember(t *testing.T, w *httptest.ResponseRecorder) models.MemberResponse {
	t.Helper()
	var m models.MemberResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func errorType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Type
}

func TestMembersAPI_CreateKeepsEdgesSymmetric(t *testing.T) {
	th := newTestV1Handler(t, nil)
	staff := staffSession()

	w := th.serve(t, staff, http.MethodPost, "/api/v1/members", map[string]interface{}{"memberId": "A", "firstName": "Ann"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = th.serve(t, staff, http.MethodPost, "/api/v1/members", map[string]interface{}{
		"memberId":  "B",
		"firstName": "Ben",
		"relationships": []map[string]interface{}{
			{"memberId": "A", "type": "Spouse", "anniversary": "2010-06-12"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = th.serve(t, staff, http.MethodGet, "/api/v1/members/A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	a := decodeMember(t, w)
	require.Len(t, a.Relationships, 1)
	assert.Equal(t, []string{"A", "B"}, a.Relationships[0].MemberIDs)
	assert.Equal(t, "Spouse", a.Relationships[0].Type)
	assert.Equal(t, "2010-06-12", a.Relationships[0].Anniversary)

	w = th.serve(t, staff, http.MethodGet, "/api/v1/members/A/relationships", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var views models.CollectionResponse[models.RelationshipView]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Equal(t, 1, views.Count)
	assert.Equal(t, "B", views.Items[0].PartnerID)
	assert.True(t, views.Items[0].PartnerExists)
	assert.Contains(t, views.Items[0].PartnerName, "Ben")
}

func TestMembersAPI_UpdateAndDelete(t *testing.T) {
	th := newTestV1Handler(t, nil)
	staff := staffSession()

	th.serve(t, staff, http.MethodPost, "/api/v1/members", map[string]interface{}{"memberId": "P", "firstName": "Pat"})
	th.serve(t, staff, http.MethodPost, "/api/v1/members", map[string]interface{}{"memberId": "C", "firstName": "Cam"})

	w := th.serve(t, staff, http.MethodPatch, "/api/v1/members/P", map[string]interface{}{
		"relationships": []map[string]interface{}{{"memberId": "C", "type": "Parent"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	c := decodeMember(t, th.serve(t, staff, http.MethodGet, "/api/v1/members/C", nil))
	require.Len(t, c.Relationships, 1)
	assert.Equal(t, "Child", c.Relationships[0].Type)

	w = th.serve(t, staff, http.MethodPut, "/api/v1/members/C", map[string]interface{}{"notes": "choir"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "choir", decodeMember(t, w).Notes)

	w = th.serve(t, staff, http.MethodDelete, "/api/v1/members/P", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	c = decodeMember(t, th.serve(t, staff, http.MethodGet, "/api/v1/members/C", nil))
	assert.Empty(t, c.Relationships)

	w = th.serve(t, staff, http.MethodGet, "/api/v1/members/P", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorType(t, w))
}

func TestMembersAPI_ListAndOwnership(t *testing.T) {
	th := newTestV1Handler(t, nil)
	staff := staffSession()

	th.serve(t, staff, http.MethodPost, "/api/v1/members", map[string]interface{}{"memberId": "A", "firstName": "Ann", "userId": "user-a"})
	th.serve(t, staff, http.MethodPost, "/api/v1/members", map[string]interface{}{"memberId": "B", "firstName": "Ben", "status": "Archived"})

	var list models.CollectionResponse[models.MemberResponse]
	w := th.serve(t, staff, http.MethodGet, "/api/v1/members", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	w = th.serve(t, staff, http.MethodGet, "/api/v1/members?status=Archived", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "B", list.Items[0].MemberID)

	w = th.serve(t, staff, http.MethodGet, "/api/v1/members?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	own := memberSession("user-a")
	w = th.serve(t, own, http.MethodGet, "/api/v1/members", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "A", list.Items[0].MemberID)

	assert.Equal(t, http.StatusOK, th.serve(t, own, http.MethodGet, "/api/v1/members/A", nil).Code)
	w = th.serve(t, own, http.MethodGet, "/api/v1/members/B", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", errorType(t, w))

	// members edit their own fields but not edges that land on other records
	w = th.serve(t, own, http.MethodPatch, "/api/v1/members/A", map[string]interface{}{
		"relationships": []map[string]interface{}{{"memberId": "B", "type": "Spouse"}},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	b, err := th.store.GetMember(context.Background(), testChurch, "B")
	require.NoError(t, err)
	assert.Empty(t, b.Relationships)

	w = th.serve(t, own, http.MethodPatch, "/api/v1/members/A", map[string]interface{}{"notes": "hello"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMembersAPI_RequestErrors(t *testing.T) {
	th := newTestV1Handler(t, nil)
	staff := staffSession()

	th.serve(t, staff, http.MethodPost, "/api/v1/members", map[string]interface{}{"memberId": "A", "firstName": "Ann"})

	w := th.serve(t, staff, http.MethodPost, "/api/v1/members", map[string]interface{}{"memberId": "A", "firstName": "Again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = th.serve(t, staff, http.MethodPost, "/api/v1/members", map[string]interface{}{"lastName": "NoFirstName"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", errorType(t, w))

	w = th.serve(t, staff, http.MethodPost, "/api/v1/members", map[string]interface{}{"firstName": "X", "unknownField": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = th.serve(t, staff, http.MethodPost, "/api/v1/members", map[string]interface{}{
		"memberId": "Z", "firstName": "Zed",
		"relationships": []map[string]interface{}{{"memberId": "Z", "type": "Spouse"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = th.serve(t, nil, http.MethodGet, "/api/v1/members", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", errorType(t, w))
}

func TestIntegrityAPI_CheckAndRepair(t *testing.T) {
	th := newTestV1Handler(t, nil)
	th.store.Seed(testChurch,
		&models.Member{MemberID: "A", FirstName: "Ann", Relationships: models.Relationships{
			{MemberIDs: []string{"A", "B"}, Type: models.RelationshipSibling},
		}},
		&models.Member{MemberID: "B", FirstName: "Ben"},
	)
	staff := staffSession()

	w := th.serve(t, staff, http.MethodGet, "/api/v1/relationships/integrity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report models.IntegrityReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Issues, 1)
	assert.Equal(t, models.IssueMissingReciprocal, report.Issues[0].Kind)

	w = th.serve(t, staff, http.MethodPost, "/api/v1/relationships/integrity/repair", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = th.serve(t, staff, http.MethodGet, "/api/v1/relationships/integrity", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Empty(t, report.Issues)
}

func TestAccountsAPI_UnavailableWithoutProvider(t *testing.T) {
	th := newTestV1Handler(t, nil)
	staff := staffSession()
	th.serve(t, staff, http.MethodPost, "/api/v1/members", map[string]interface{}{"memberId": "A", "firstName": "Ann", "email": "ann@example.org"})

	assert.Equal(t, http.StatusServiceUnavailable, th.serve(t, staff, http.MethodPost, "/api/v1/members/A/login", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, th.serve(t, staff, http.MethodPost, "/api/v1/accounts/password-reset",
		map[string]string{"email": "ann@example.org"}).Code)
	assert.Equal(t, http.StatusServiceUnavailable, th.serve(t, nil, http.MethodPost, "/api/v1/accounts/password-reset/confirm",
		map[string]string{"token": "t", "password": "long-enough-password"}).Code)
	assert.Equal(t, http.StatusServiceUnavailable, th.serve(t, staff, http.MethodDelete, "/api/v1/users/ann@example.org", nil).Code)
}

type fakeSubscriber struct {
	entries []struct {
		id    string
		event *models.MemberChangedEvent
	}
	gotFrom string
	err     error
}

func (f *fakeSubscriber) add(id string, event *models.MemberChangedEvent) {
	f.entries = append(f.entries, struct {
		id    string
		event *models.MemberChangedEvent
	}{id, event})
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, churchID, fromID string, fn func(id string, event *models.MemberChangedEvent) error) error {
	f.gotFrom = fromID
	for _, e := range f.entries {
		if e.event.ChurchID != churchID {
			continue
		}
		if err := fn(e.id, e.event); err != nil {
			return err
		}
	}
	return f.err
}

func TestStreamMembers_WritesServerSentEvents(t *testing.T) {
	sub := &fakeSubscriber{}
	sub.add("1-0", &models.MemberChangedEvent{ChurchID: testChurch, MemberID: "A", Action: models.ChangeActionCreated, ActorID: "staff-1"})
	sub.add("2-0", &models.MemberChangedEvent{ChurchID: "other", MemberID: "X", Action: models.ChangeActionCreated})
	sub.add("3-0", &models.MemberChangedEvent{ChurchID: testChurch, MemberID: "B", Action: models.ChangeActionUpdated, ActorID: "user-b"})
	th := newTestV1Handler(t, sub)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(authutils.SetSession(req.Context(), staffSession())))
		})
	})
	r.Route("/api/v1", th.handler.SetupV1Routes)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/members/stream", nil)
	req.Header.Set("Last-Event-ID", "0-5")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "0-5", sub.gotFrom)

	body := w.Body.String()
	assert.Contains(t, body, "id: 1-0\nevent: member.changed\ndata: ")
	assert.Contains(t, body, "id: 3-0\n")
	assert.NotContains(t, body, "2-0")
	assert.Equal(t, 2, strings.Count(body, "event: member.changed"))
}

func TestStreamMembers_MemberSeesOwnChanges(t *testing.T) {
	sub := &fakeSubscriber{}
	sub.add("1-0", &models.MemberChangedEvent{ChurchID: testChurch, MemberID: "A", Action: models.ChangeActionUpdated, ActorID: "staff-1"})
	sub.add("2-0", &models.MemberChangedEvent{ChurchID: testChurch, MemberID: "B", Action: models.ChangeActionUpdated, ActorID: "user-b"})
	th := newTestV1Handler(t, sub)

	w := th.serve(t, memberSession("user-b"), http.MethodGet, "/api/v1/members/stream?from=0", nil)

	assert.Equal(t, "0", sub.gotFrom)
	assert.NotContains(t, w.Body.String(), "id: 1-0")
	assert.Contains(t, w.Body.String(), "id: 2-0")
}

func TestStreamMembers_DisabledWithoutSubscriber(t *testing.T) {
	th := newTestV1Handler(t, nil)
	w := th.serve(t, staffSession(), http.MethodGet, "/api/v1/members/stream", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", services.ErrMemberNotFound, http.StatusNotFound},
		{"account not found", services.ErrAccountNotFound, http.StatusNotFound},
		{"forbidden", services.ErrForbidden, http.StatusForbidden},
		{"exists", fmt.Errorf("%w: A", services.ErrMemberExists), http.StatusConflict},
		{"login exists", services.ErrLoginExists, http.StatusConflict},
		{"login outside church", services.ErrLoginOutsideChurch, http.StatusConflict},
		{"bare conflict", store.ErrConflict, http.StatusConflict},
		{"exhausted retries", fmt.Errorf("%w: %w", services.ErrSaveFailed, store.ErrConflict), http.StatusInternalServerError},
		{"save failed", fmt.Errorf("%w: disk full", services.ErrSaveFailed), http.StatusInternalServerError},
		{"invalid relationship", fmt.Errorf("%w: self edge", services.ErrInvalidRelationship), http.StatusBadRequest},
		{"invalid input", fmt.Errorf("%w: bad", services.ErrInvalidInput), http.StatusBadRequest},
		{"reset token", services.ErrInvalidResetToken, http.StatusBadRequest},
		{"no idp", services.ErrAccountsUnavailable, http.StatusServiceUnavailable},
		{"no mail", services.ErrMailUnavailable, http.StatusServiceUnavailable},
		{"timeout", context.DeadlineExceeded, http.StatusRequestTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handleServiceError(w, tt.err)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	t.Run("save failed message", func(t *testing.T) {
		w := httptest.NewRecorder()
		handleServiceError(w, fmt.Errorf("%w: disk full", services.ErrSaveFailed))
		assert.Contains(t, w.Body.String(), "Failed to save member")
		assert.NotContains(t, w.Body.String(), "disk full")
	})
}
