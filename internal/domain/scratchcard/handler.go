package scratchcard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/scoredesk/scoredesk-api/internal/domain/term"
	"github.com/scoredesk/scoredesk-api/internal/middleware"
	"github.com/scoredesk/scoredesk-api/internal/pkg/errorhandler"
	"github.com/scoredesk/scoredesk-api/internal/pkg/logger"
	"github.com/scoredesk/scoredesk-api/internal/pkg/response"
	"github.com/scoredesk/scoredesk-api/internal/pkg/validator"
)

const storeRetryAfter = time.Second

// TermResolver finds the term a result unlock is evaluated against.
type TermResolver interface {
	Resolve(ctx context.Context, id string) (*term.Term, error)
}

type Handler struct {
	service *Service
	terms   TermResolver
}

func NewHandler(service *Service, terms TermResolver) *Handler {
	return &Handler{service: service, terms: terms}
}

// Redeem handles POST /scratch-cards/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rc := RedeemContext{
		RequestingUserID: requester(r.Context()),
		StudentID:        optionalString(req.StudentID),
		TermID:           optionalString(req.TermID),
	}
	res, err := h.service.Redeem(r.Context(), req.Pin, rc)
	if err != nil {
		response.ServiceUnavailable(w, "Card service is temporarily unavailable, please retry", storeRetryAfter)
		return
	}
	writeRedemption(w, res, res)
}

// Unlock handles POST /results/unlock: redeem a card for a student in the
// requested or current term.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.terms.Resolve(r.Context(), strings.TrimSpace(req.TermID))
	if err != nil {
		switch {
		case errors.Is(err, term.ErrTermNotFound):
			response.ValidationError(w, map[string]string{"term_id": "Unknown term"})
		case errors.Is(err, term.ErrNoCurrentTerm):
			response.Conflict(w, "No current term is configured")
		default:
			errorhandler.HandleInternal(r.Context(), w, "resolve term", err)
		}
		return
	}

	rc := RedeemContext{
		RequestingUserID: requester(r.Context()),
		StudentID:        optionalString(req.StudentID),
		TermID:           &t.ID,
	}
	res, err := h.service.Redeem(r.Context(), req.Pin, rc)
	if err != nil {
		response.ServiceUnavailable(w, "Card service is temporarily unavailable, please retry", storeRetryAfter)
		return
	}
	writeRedemption(w, res, UnlockResult{RedemptionResult: res, TermID: t.ID})
}

// Peek handles POST /scratch-cards/peek
func (h *Handler) Peek(w http.ResponseWriter, r *http.Request) {
	var req PeekRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	summary, err := h.service.Peek(r.Context(), req.Pin)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	response.OK(w, summary)
}

// Issue handles POST /admin/scratch-cards
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	card, err := h.service.Issue(r.Context(), NewCard{
		Pin:          req.Pin,
		SerialNumber: req.SerialNumber,
		Amount:       req.Amount,
		MaxUsage:     req.MaxUsage,
		TermID:       optionalString(req.TermID),
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	response.Created(w, card)
}

// IssueBatch handles POST /admin/scratch-cards/batches
func (h *Handler) IssueBatch(w http.ResponseWriter, r *http.Request) {
	var req IssueBatchRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	batch, err := h.service.IssueBatch(r.Context(), NewBatch{
		Count:        req.Count,
		SerialPrefix: req.SerialPrefix,
		Amount:       req.Amount,
		MaxUsage:     req.MaxUsage,
		TermID:       optionalString(req.TermID),
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	response.Created(w, batch)
}

// Manifest handles GET /admin/scratch-cards/batches/{id}/manifest
func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	body, err := h.service.Manifest(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", manifestContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="batch-%s.csv"`, id))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logger.LogError(r.Context(), err, "Failed to stream batch manifest", "batch_id", id.String())
	}
}

// List handles GET /admin/scratch-cards
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := CardFilter{
		Status: Status(q.Get("status")),
		TermID: optionalString(q.Get("term_id")),
		Serial: strings.TrimSpace(q.Get("serial")),
	}
	if err := validator.ValidateVar(string(f.Status), "card_status"); err != nil {
		response.ValidationError(w, map[string]string{"status": "Invalid status"})
		return
	}
	if raw := q.Get("batch_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.ValidationError(w, map[string]string{"batch_id": "Invalid identifier"})
			return
		}
		f.BatchID = &id
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	page, err := h.service.List(r.Context(), f)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	response.WithMeta(w, page.Cards, response.NewMeta(page.Total, page.Limit, page.Offset))
}

// Get handles GET /admin/scratch-cards/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	card, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	response.OK(w, card)
}

// History handles GET /admin/scratch-cards/{id}/redemptions
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	items, err := h.service.History(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if items == nil {
		items = []Redemption{}
	}
	response.OK(w, items)
}

// Disable handles POST /admin/scratch-cards/{id}/disable
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req DisableRequest
	if r.ContentLength != 0 {
		if !decodeAndValidate(w, r, &req) {
			return
		}
	}

	card, err := h.service.Disable(r.Context(), id, req.Reason)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	response.OK(w, card)
}

// Expire handles POST /admin/scratch-cards/expire
func (h *Handler) Expire(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.ExpireDue(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	response.OK(w, map[string]int{"expired": count})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrCardNotFound):
		response.NotFound(w, "Scratch card not found")
	case errors.Is(err, ErrManifestNotFound):
		response.NotFound(w, "Batch manifest not found")
	case errors.Is(err, ErrCardNotActive):
		response.Conflict(w, "Scratch card is not active")
	case errors.Is(err, ErrDuplicatePin):
		response.Conflict(w, "PIN already exists")
	case errors.Is(err, ErrDuplicateSerial):
		response.Conflict(w, "Serial number already exists")
	case errors.Is(err, ErrInvalidCard), errors.Is(err, ErrInvalidBatch):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		errorhandler.LogDatabaseError(r.Context(), r.URL.Path, err)
		response.ServiceUnavailable(w, "Card service is temporarily unavailable, please retry", storeRetryAfter)
	default:
		errorhandler.HandleInternal(r.Context(), w, r.URL.Path, err)
	}
}

// reasonStatus maps a refusal to its HTTP status and error code.
var reasonStatus = map[Reason]struct {
	status int
	code   string
}{
	ReasonNotFound:           {http.StatusNotFound, "INVALID_PIN"},
	ReasonAlreadyUsed:        {http.StatusConflict, "CARD_ALREADY_USED"},
	ReasonUsageLimitExceeded: {http.StatusConflict, "CARD_USAGE_LIMIT_EXCEEDED"},
	ReasonExpired:            {http.StatusGone, "CARD_EXPIRED"},
	ReasonDisabled:           {http.StatusForbidden, "CARD_DISABLED"},
	ReasonTermMismatch:       {http.StatusUnprocessableEntity, "CARD_TERM_MISMATCH"},
	ReasonStudentMismatch:    {http.StatusUnprocessableEntity, "CARD_STUDENT_MISMATCH"},
}

func writeRedemption(w http.ResponseWriter, res *RedemptionResult, body interface{}) {
	if res.Success {
		response.OK(w, body)
		return
	}
	m, ok := reasonStatus[res.Reason]
	if !ok {
		m.status, m.code = http.StatusConflict, "CARD_REJECTED"
	}
	response.ErrorWithData(w, m.status, m.code, res.Message, body)
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := response.DecodeJSON(r.Body, dst); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	if errs := validator.Validate(dst); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func requester(ctx context.Context) *uuid.UUID {
	id := middleware.GetUserID(ctx)
	if id == uuid.Nil {
		return nil
	}
	return &id
}
