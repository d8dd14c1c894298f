package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/faithconnect/member-service/pkg/errors"
	"github.com/faithconnect/member-service/shared/utils"
	"github.com/faithconnect/member-service/v1/models"
	"github.com/faithconnect/member-service/v1/services"
	"github.com/faithconnect/member-service/v1/store"
	authutils "github.com/faithconnect/member-service/v1/utils"
	"github.com/go-chi/chi/v5"
)

// ChangeSubscriber follows a church's committed member changes
type ChangeSubscriber interface {
	Subscribe(ctx context.Context, churchID, fromID string, fn func(id string, event *models.MemberChangedEvent) error) error
}

// V1Handler handles all V1 API routes
type V1Handler struct {
	memberService    *services.MemberService
	accountService   *services.AccountService
	integrityService *services.IntegrityService
	changes          ChangeSubscriber
}

// NewV1Handler creates a new V1 handler. changes may be nil when no Redis
// stream is configured; the stream endpoint then answers 503.
func NewV1Handler(members *services.MemberService, accounts *services.AccountService, integrity *services.IntegrityService, changes ChangeSubscriber) *V1Handler {
	return &V1Handler{
		memberService:    members,
		accountService:   accounts,
		integrityService: integrity,
		changes:          changes,
	}
}

// SetupV1Routes registers the /api/v1 routes on r. Authentication and
// authorization are installed by the caller.
func (h *V1Handler) SetupV1Routes(r chi.Router) {
	r.Route("/members", func(r chi.Router) {
		r.Get("/", h.listMembers)
		r.Post("/", h.createMember)
		r.Get("/stream", h.streamMembers)
		r.Route("/{memberId}", func(r chi.Router) {
			r.Get("/", h.getMember)
			r.Put("/", h.updateMember)
			r.Patch("/", h.updateMember)
			r.Delete("/", h.deleteMember)
			r.Get("/relationships", h.getRelationships)
			r.Post("/login", h.createLogin)
		})
	})

	r.Post("/accounts/password-reset", h.requestPasswordReset)
	r.Post("/accounts/password-reset/confirm", h.confirmPasswordReset)
	r.Delete("/users/{userIdOrEmail}", h.deleteUser)

	r.Get("/relationships/integrity", h.checkIntegrity)
	r.Post("/relationships/integrity/repair", h.repairIntegrity)
}

// Routes lists the route templates served by SetupV1Routes, for metrics
// labelling outside a chi router
func Routes() []string {
	return []string{
		"/api/v1/members",
		"/api/v1/members/stream",
		"/api/v1/members/{memberId}",
		"/api/v1/members/{memberId}/relationships",
		"/api/v1/members/{memberId}/login",
		"/api/v1/accounts/password-reset",
		"/api/v1/accounts/password-reset/confirm",
		"/api/v1/users/{userIdOrEmail}",
		"/api/v1/relationships/integrity",
		"/api/v1/relationships/integrity/repair",
	}
}

// Member handlers
func (h *V1Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := models.MemberFilter{
		Status: models.MemberStatus(strings.TrimSpace(query.Get("status"))),
		Query:  strings.TrimSpace(query.Get("q")),
		Email:  strings.TrimSpace(query.Get("email")),
	}

	members, err := h.memberService.ListMembers(r.Context(), session, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, models.CollectionResponse[models.MemberResponse]{Items: members, Count: len(members)})
}

func (h *V1Handler) createMember(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	var req models.CreateMemberRequest
	if err := utils.ParseJSONRequest(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	member, err := h.memberService.AddMember(r.Context(), session, &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusCreated, member)
}

func (h *V1Handler) getMember(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	member, err := h.memberService.GetMember(r.Context(), session, chi.URLParam(r, "memberId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, member)
}

func (h *V1Handler) updateMember(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	var req models.UpdateMemberRequest
	if err := utils.ParseJSONRequest(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	member, err := h.memberService.UpdateMember(r.Context(), session, chi.URLParam(r, "memberId"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, member)
}

func (h *V1Handler) deleteMember(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	if err := h.memberService.DeleteMember(r.Context(), session, chi.URLParam(r, "memberId")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *V1Handler) getRelationships(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	views, err := h.memberService.GetRelationships(r.Context(), session, chi.URLParam(r, "memberId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, models.CollectionResponse[models.RelationshipView]{Items: views, Count: len(views)})
}

// Account handlers
func (h *V1Handler) createLogin(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	var req models.CreateLoginRequest
	if r.ContentLength != 0 {
		if err := utils.ParseJSONRequest(r, &req); err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	login, err := h.accountService.CreateMemberLogin(r.Context(), session, chi.URLParam(r, "memberId"), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusCreated, login)
}

func (h *V1Handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	var req models.PasswordResetRequest
	if err := utils.ParseJSONRequest(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.accountService.RequestPasswordReset(r.Context(), session, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	// same answer whether or not the address has an account
	utils.RespondWithSuccess(w, http.StatusAccepted, map[string]string{"message": "If the address has an account, a reset email was sent"})
}

func (h *V1Handler) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmPasswordResetRequest
	if err := utils.ParseJSONRequest(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.accountService.ConfirmPasswordReset(r.Context(), &req); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *V1Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	result, err := h.accountService.DeleteUser(r.Context(), session, chi.URLParam(r, "userIdOrEmail"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, result)
}

// Integrity handlers
func (h *V1Handler) checkIntegrity(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	report, err := h.integrityService.Check(r.Context(), session)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, report)
}

func (h *V1Handler) repairIntegrity(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	report, err := h.integrityService.Repair(r.Context(), session)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, report)
}

func requireSession(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	session, err := authutils.GetSession(r.Context())
	if err != nil {
		apierrors.WriteError(w, apierrors.UnauthorizedError("Authentication required"))
		return nil, false
	}
	return session, true
}

// handleServiceError maps service errors onto structured API errors
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *apierrors.APIError
	switch {
	case errors.Is(err, services.ErrMemberNotFound), errors.Is(err, store.ErrNotFound):
		apiErr = apierrors.NotFoundError("member")
	case errors.Is(err, services.ErrAccountNotFound):
		apiErr = apierrors.NotFoundError("account")
	case errors.Is(err, services.ErrForbidden):
		apiErr = apierrors.ForbiddenError("Access denied to this member")
	case errors.Is(err, services.ErrMemberExists):
		apiErr = apierrors.ConflictError("Member already exists")
	case errors.Is(err, services.ErrLoginExists):
		apiErr = apierrors.ConflictError("Member already has a login")
	case errors.Is(err, services.ErrLoginOutsideChurch):
		apiErr = apierrors.ConflictError("Email belongs to a login outside this church")
	// exhausted conflict retries surface as a failed save
	case errors.Is(err, services.ErrSaveFailed):
		apiErr = apierrors.InternalErrorWithCause("Failed to save member", err)
	case errors.Is(err, store.ErrConflict):
		apiErr = apierrors.ConflictError("Member was modified concurrently, please retry")
	case errors.Is(err, services.ErrInvalidRelationship):
		apiErr = apierrors.ValidationErrorWithDetails("INVALID_RELATIONSHIP", "Invalid relationship", err.Error())
	case errors.Is(err, services.ErrInvalidResetToken):
		apiErr = apierrors.ValidationError("INVALID_RESET_TOKEN", "Invalid or expired password reset token")
	case errors.Is(err, services.ErrInvalidInput):
		apiErr = apierrors.ValidationErrorWithDetails("INVALID_INPUT", "Invalid input", err.Error())
	case errors.Is(err, services.ErrAccountsUnavailable), errors.Is(err, services.ErrMailUnavailable):
		apiErr = apierrors.NewAPIErrorWithCause(apierrors.ErrorTypeInternal, "SERVICE_UNAVAILABLE", "Account management is not available", http.StatusServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		apiErr = apierrors.TimeoutError("request")
	case errors.Is(err, context.Canceled):
		slog.Debug("Request cancelled by client", "error", err)
		return
	default:
		apiErr = apierrors.InternalErrorWithCause("Internal server error", err)
	}
	apierrors.WriteError(w, apiErr)
}
