// Package api is the operator HTTP surface: template listing, the delivery
// log, ad-hoc and bulk sends, and manual job triggers. It holds no business
// logic of its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/campaign"
	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/circuitbreaker"
	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/dispatch"
	"github.com/lalithlochan/herald/internal/jobs"
	"github.com/lalithlochan/herald/internal/metrics"
	"github.com/lalithlochan/herald/internal/redis"
	"github.com/lalithlochan/herald/internal/render"
	"github.com/lalithlochan/herald/internal/sqs"
)

// maxBulkRecipients bounds one POST /v1/notifications/bulk request.
const maxBulkRecipients = 1000

// TemplateStore serves active templates.
type TemplateStore interface {
	Get(ctx context.Context, code string) (*db.Template, error)
	List(ctx context.Context) ([]*db.Template, error)
	Invalidate(ctx context.Context, codes ...string) error
}

// DeliveryLog reads the audit log.
type DeliveryLog interface {
	ListDeliveryAttempts(ctx context.Context, f db.DeliveryFilter) ([]*db.DeliveryAttempt, error)
}

// Sender sends one message. *dispatch.Dispatcher satisfies it.
type Sender interface {
	Send(ctx context.Context, req dispatch.Request) (channel.Outcome, error)
}

// BulkSender sends one template to many recipients.
type BulkSender interface {
	Send(ctx context.Context, req campaign.BulkRequest) (*campaign.Result, error)
}

// JobRunner runs jobs synchronously. *jobs.Scheduler satisfies it.
type JobRunner interface {
	Run(ctx context.Context, name string) (*jobs.Report, error)
	RunFeeOffset(ctx context.Context, offset int) *jobs.Report
}

// JobQueue hands jobs to the trigger consumer. *sqs.Producer satisfies it.
type JobQueue interface {
	Enqueue(ctx context.Context, t sqs.Trigger) (string, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Deps wires the handler. Guard, Queue and Breakers are optional.
type Deps struct {
	Templates  TemplateStore
	Deliveries DeliveryLog
	Sender     Sender
	Bulk       BulkSender
	Jobs       JobRunner
	Queue      JobQueue
	Guard      *redis.SendGuard
	Channels   []channel.Channel
	Breakers   []*circuitbreaker.CircuitBreaker
	Logger     *zap.Logger
}

// Handler holds dependencies for API handlers
type Handler struct {
	templates  TemplateStore
	deliveries DeliveryLog
	sender     Sender
	bulk       BulkSender
	jobs       JobRunner
	queue      JobQueue
	guard      *redis.SendGuard
	channels   []channel.Channel
	breakers   []*circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(d Deps) *Handler {
	return &Handler{
		templates:  d.Templates,
		deliveries: d.Deliveries,
		sender:     d.Sender,
		bulk:       d.Bulk,
		jobs:       d.Jobs,
		queue:      d.Queue,
		guard:      d.Guard,
		channels:   d.Channels,
		breakers:   d.Breakers,
		logger:     d.Logger.Named("api"),
	}
}

// ListTemplates handles GET /v1/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list templates", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Failed to list templates", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  templates,
		"count": len(templates),
	})
}

// InvalidateTemplate handles DELETE /v1/templates/{code}/cache
func (h *Handler) InvalidateTemplate(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := h.templates.Invalidate(r.Context(), code); err != nil {
		h.logger.Warn("failed to invalidate template", zap.String("code", code), zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "cache_unavailable", "Failed to invalidate template cache", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDeliveries handles GET /v1/deliveries?channel=sms&status=failed&reference_type=fee_reminder&limit=50
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := db.DeliveryFilter{
		Channel:       q.Get("channel"),
		Status:        q.Get("status"),
		ReferenceType: q.Get("reference_type"),
		Limit:         db.DefaultDeliveryLimit,
	}

	if f.Channel != "" {
		if _, ok := channel.Parse(f.Channel); !ok {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "channel must be whatsapp, sms, or email")
			return
		}
	}
	if f.Status != "" && f.Status != db.StatusSent && f.Status != db.StatusFailed {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status", "status must be sent or failed")
		return
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			f.Limit = l
		}
	}

	attempts, err := h.deliveries.ListDeliveryAttempts(r.Context(), f)
	if err != nil {
		h.logger.Error("failed to list deliveries", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Failed to list deliveries", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  attempts,
		"limit": f.Limit,
		"count": len(attempts),
	})
}

// SendRequest is the body of POST /v1/notifications. Either TemplateCode or
// Body is required.
type SendRequest struct {
	Channel       string      `json:"channel"`
	Phone         string      `json:"phone,omitempty"`
	Email         string      `json:"email,omitempty"`
	TemplateCode  string      `json:"template_code,omitempty"`
	Variables     render.Vars `json:"variables,omitempty"`
	Subject       string      `json:"subject,omitempty"`
	Body          string      `json:"body,omitempty"`
	ReferenceType string      `json:"reference_type,omitempty"`
	ReferenceID   string      `json:"reference_id,omitempty"`
}

// SendResponse reports the outcome of one ad-hoc send.
type SendResponse struct {
	Channel     string `json:"channel"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	ProviderRef string `json:"provider_ref,omitempty"`
}

// SendNotification handles POST /v1/notifications
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	ch, ok := channel.Parse(req.Channel)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "channel must be whatsapp, sms, or email")
		return
	}
	if req.TemplateCode == "" && strings.TrimSpace(req.Body) == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing content", "template_code or body is required")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey != "" && h.guard != nil {
		cached, err := h.guard.CheckOrReserve(ctx, idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
			idempotencyKey = ""
		case cached != nil:
			metrics.RecordIdempotencyHit()
			w.Header().Set("X-Idempotency-Replayed", "true")
			h.writeJSON(w, cached.StatusCode, SendResponse{
				Channel:     cached.Channel,
				Status:      cached.Status,
				Reason:      cached.Reason,
				ProviderRef: cached.ProviderRef,
			})
			return
		}
	} else {
		idempotencyKey = ""
	}

	dreq, status, problem := h.buildRequest(ctx, ch, req)
	if problem != nil {
		h.release(ctx, idempotencyKey)
		h.writeError(w, status, problem.Type, problem.Title, problem.Detail)
		return
	}

	out, err := h.sender.Send(ctx, dreq)
	if errors.Is(err, db.ErrStoreUnavailable) {
		// Not remembered, so the caller can retry once the log is back.
		h.release(ctx, idempotencyKey)
		h.logger.Error("delivery log unavailable", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Delivery could not be logged", "")
		return
	}

	resp := SendResponse{Channel: ch.String(), Status: db.StatusSent, ProviderRef: out.ProviderRef}
	status = http.StatusOK
	var derr *dispatch.Error
	if errors.As(err, &derr) {
		resp.Status = db.StatusFailed
		resp.Reason = derr.Reason
		status = statusFor(derr.Kind)
	}

	if idempotencyKey != "" {
		result := &redis.SendResult{
			Channel:     resp.Channel,
			Status:      resp.Status,
			Reason:      resp.Reason,
			ProviderRef: resp.ProviderRef,
			StatusCode:  status,
		}
		if err := h.guard.Store(ctx, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.logger.Info("ad-hoc notification sent",
		zap.String("channel", resp.Channel),
		zap.String("status", resp.Status),
		zap.String("reason", resp.Reason),
	)
	h.writeJSON(w, status, resp)
}

func (h *Handler) buildRequest(ctx context.Context, ch channel.Channel, req SendRequest) (dispatch.Request, int, *ErrorResponse) {
	refType := req.ReferenceType
	if refType == "" {
		refType = "manual"
	}
	dreq := dispatch.Request{
		Channel:        ch,
		RecipientPhone: req.Phone,
		RecipientEmail: req.Email,
		Subject:        render.Render(req.Subject, req.Variables),
		Body:           render.Render(req.Body, req.Variables),
		ReferenceType:  refType,
		ReferenceID:    req.ReferenceID,
	}
	if req.TemplateCode == "" {
		return dreq, 0, nil
	}

	t, err := h.templates.Get(ctx, req.TemplateCode)
	if errors.Is(err, db.ErrTemplateNotFound) {
		return dreq, http.StatusNotFound, &ErrorResponse{Type: "not_found", Title: "Template not found", Detail: req.TemplateCode}
	}
	if err != nil {
		h.logger.Error("failed to load template", zap.String("code", req.TemplateCode), zap.Error(err))
		return dreq, http.StatusServiceUnavailable, &ErrorResponse{Type: "store_unavailable", Title: "Failed to load template"}
	}

	dreq.TemplateCode = t.Code
	dreq.Body = render.Render(t.Body, req.Variables)
	if dreq.Subject == "" && t.Subject != nil {
		dreq.Subject = render.Render(*t.Subject, req.Variables)
	}
	return dreq, 0, nil
}

func (h *Handler) release(ctx context.Context, idempotencyKey string) {
	if idempotencyKey != "" {
		h.guard.Release(context.WithoutCancel(ctx), idempotencyKey)
	}
}

// statusFor maps a recipient-local failure to the HTTP status of an ad-hoc send.
func statusFor(k dispatch.Kind) int {
	switch k {
	case dispatch.KindValidation:
		return http.StatusUnprocessableEntity
	case dispatch.KindNotConfigured:
		return http.StatusServiceUnavailable
	case dispatch.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// SendBulk handles POST /v1/notifications/bulk
func (h *Handler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req campaign.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	ch, ok := channel.Parse(req.Channel.String())
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "channel must be whatsapp, sms, or email")
		return
	}
	req.Channel = ch

	if req.TemplateCode == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing template_code", "")
		return
	}
	if len(req.Recipients) == 0 || len(req.Recipients) > maxBulkRecipients {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipients",
			"between 1 and "+strconv.Itoa(maxBulkRecipients)+" recipients are required")
		return
	}

	result, err := h.bulk.Send(r.Context(), req)
	if err != nil {
		h.logger.Error("bulk send failed", zap.Error(err), zap.String("template", req.TemplateCode))
		if errors.Is(err, db.ErrStoreUnavailable) {
			h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Bulk send aborted", err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "bulk_failed", "Bulk send aborted", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ChannelStatus is one row of GET /v1/channels.
type ChannelStatus struct {
	Channel string                `json:"channel"`
	Breaker *circuitbreaker.Stats `json:"breaker,omitempty"`
}

// ListChannels handles GET /v1/channels
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	byName := make(map[string]circuitbreaker.Stats, len(h.breakers))
	for _, b := range h.breakers {
		byName[b.Name()] = b.Stats()
	}

	out := make([]ChannelStatus, 0, len(h.channels))
	for _, ch := range h.channels {
		s := ChannelStatus{Channel: ch.String()}
		if stats, ok := byName[ch.String()]; ok {
			s.Breaker = &stats
		}
		out = append(out, s)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
