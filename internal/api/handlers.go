package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-tracker/internal/domain"
	"github.com/ignite/outreach-tracker/internal/pkg/httputil"
	"github.com/ignite/outreach-tracker/internal/pkg/logger"
	"github.com/ignite/outreach-tracker/internal/service/campaign"
	"github.com/ignite/outreach-tracker/internal/service/dispatch"
	"github.com/ignite/outreach-tracker/internal/service/recipient"
	"github.com/ignite/outreach-tracker/internal/service/reply"
	"github.com/ignite/outreach-tracker/internal/service/webhook"
)

// Handlers holds the services behind the HTTP endpoints.
type Handlers struct {
	campaigns  *campaign.Service
	recipients *recipient.Service
	dispatcher *dispatch.Service
	webhooks   *webhook.Service
	replies    *reply.Service
}

// NewHandlers creates the handler set.
func NewHandlers(campaigns *campaign.Service, recipients *recipient.Service, dispatcher *dispatch.Service,
	webhooks *webhook.Service, replies *reply.Service) *Handlers {
	return &Handlers{
		campaigns:  campaigns,
		recipients: recipients,
		dispatcher: dispatcher,
		webhooks:   webhooks,
		replies:    replies,
	}
}

// Dispatch triggers a send.
//
//	POST /api/dispatch
func (h *Handlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	var in dispatch.Input
	if !httputil.Decode(w, r, &in) {
		return
	}
	sum, err := h.dispatcher.Dispatch(r.Context(), in)
	switch {
	case errors.Is(err, dispatch.ErrInvalidInput):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, dispatch.ErrInProgress):
		httputil.Conflict(w, err.Error())
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, sum)
	}
}

// CreateCampaign creates a campaign without sending it.
//
//	POST /api/campaigns
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), in)
	switch {
	case errors.Is(err, campaign.ErrInvalidInput):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, campaign.ErrAlreadyExists):
		httputil.Conflict(w, "campaign already exists")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.Created(w, c)
	}
}

// ListCampaigns returns campaigns newest first.
//
//	GET /api/campaigns?page=&limit=
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	p := ParsePageRequest(r, 50, 500)
	list, total, err := h.campaigns.List(r.Context(), campaign.ListFilter{Limit: p.Limit, Offset: p.Offset})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, NewPage(list, p, total))
}

// GetCampaign returns one campaign with its aggregates.
//
//	GET /api/campaigns/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, campaign.ErrNotFound) {
		httputil.NotFound(w, "campaign not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, c)
}

// ListRecipients returns a campaign's recipient records, optionally
// filtered by status.
//
//	GET /api/campaigns/{id}/recipients?status=&page=&limit=
func (h *Handlers) ListRecipients(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.campaigns.Get(r.Context(), id); err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}

	status := domain.RecipientStatus(strings.ToLower(r.URL.Query().Get("status")))
	switch status {
	case "", domain.RecipientPending, domain.RecipientSent, domain.RecipientDelivered,
		domain.RecipientBounced, domain.RecipientComplained:
	default:
		httputil.BadRequest(w, "unknown status filter")
		return
	}

	p := ParsePageRequest(r, 100, 1000)
	recs, total, err := h.recipients.ListByCampaign(r.Context(), id, recipient.ListFilter{
		Status: string(status),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, NewPage(recs, p, total))
}

// GetRecipient returns one record.
//
//	GET /api/recipients/{correlationId}
func (h *Handlers) GetRecipient(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.recipient(w, r)
	if !ok {
		return
	}
	httputil.OK(w, rec)
}

// ListReplies returns the replies correlated to a record.
//
//	GET /api/recipients/{correlationId}/replies
func (h *Handlers) ListReplies(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.recipient(w, r)
	if !ok {
		return
	}
	replies, err := h.replies.ListByCorrelation(r.Context(), rec.CorrelationID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if replies == nil {
		replies = []domain.ReplyRecord{}
	}
	httputil.OK(w, map[string]any{"correlation_id": rec.CorrelationID, "replies": replies})
}

func (h *Handlers) recipient(w http.ResponseWriter, r *http.Request) (*domain.RecipientRecord, bool) {
	id := strings.ToLower(chi.URLParam(r, "correlationId"))
	rec, err := h.recipients.Get(r.Context(), id)
	if errors.Is(err, recipient.ErrNotFound) {
		httputil.NotFound(w, "recipient not found")
		return nil, false
	}
	if err != nil {
		httputil.InternalError(w, err)
		return nil, false
	}
	return rec, true
}

// HandleSESWebhook ingests SNS deliveries. Anything but a malformed body is
// acknowledged with 200 so SNS does not retry events we chose to drop.
//
//	POST /webhooks/ses
func (h *Handlers) HandleSESWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes))
	if err != nil {
		httputil.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	res, err := h.webhooks.Handle(r.Context(), body)
	if errors.Is(err, webhook.ErrMalformed) {
		httputil.BadRequest(w, "malformed notification")
		return
	}
	if err != nil {
		logger.Error("webhook processing failed", "error", err)
		httputil.OK(w, map[string]string{"status": "accepted"})
		return
	}
	httputil.OK(w, res)
}

// HandleInbound correlates an inbound reply.
//
//	POST /webhooks/inbound
func (h *Handlers) HandleInbound(w http.ResponseWriter, r *http.Request) {
	var in reply.Inbound
	if !httputil.Decode(w, r, &in) {
		return
	}
	res, err := h.replies.Correlate(r.Context(), in)
	switch {
	case errors.Is(err, reply.ErrMalformed):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, reply.ErrUnattributable):
		httputil.Unprocessable(w, "reply cannot be attributed to a recipient")
	case err != nil:
		httputil.InternalError(w, err)
	default:
		httputil.OK(w, res)
	}
}
