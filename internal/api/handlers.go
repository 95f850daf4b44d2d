package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/export"
	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
	"github.com/ignite/campaign-mailer/internal/store"
	"github.com/ignite/campaign-mailer/internal/templates"
)

// CampaignRunner is the orchestrator surface used by the API.
type CampaignRunner interface {
	Run(ctx context.Context, run campaign.Run) (*domain.CampaignResult, error)
	FilterUnsent(ctx context.Context, campaignID string, recipients []domain.Recipient) ([]domain.Recipient, error)
}

// VerifyFunc checks that a provider configuration can send.
type VerifyFunc func(ctx context.Context, cfg domain.ProviderConfig) error

// Handlers serves the campaign API.
type Handlers struct {
	runner   CampaignRunner
	store    store.Store
	provider domain.ProviderConfig
	verify   VerifyFunc
}

// NewHandlers creates handlers sending through providerCfg.
func NewHandlers(runner CampaignRunner, st store.Store, providerCfg domain.ProviderConfig, verify VerifyFunc) *Handlers {
	return &Handlers{runner: runner, store: st, provider: providerCfg, verify: verify}
}

// CreateCampaignRequest is the body of POST /api/campaigns.
type CreateCampaignRequest struct {
	CampaignID string          `json:"campaign_id"`
	Template   domain.Template `json:"template"`
	// TemplateName selects a built-in template when Template is empty.
	TemplateName  string             `json:"template_name"`
	BaseVariables map[string]string  `json:"base_variables"`
	Recipients    []domain.Recipient `json:"recipients"`
	// Resume skips recipients already sent under CampaignID.
	Resume bool `json:"resume"`
}

// CreateCampaign runs a campaign synchronously and returns its result.
//
//	POST /api/campaigns
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if !httputil.Decode(w, r, &req, false) {
		return
	}
	ctx := r.Context()

	tpl, vars := req.Template, req.BaseVariables
	if tpl.IsEmpty() && req.TemplateName != "" {
		b, err := templates.Lookup(req.TemplateName)
		if err != nil {
			httputil.ErrorWithCode(w, http.StatusBadRequest, "unknown_template", err.Error(), nil)
			return
		}
		tpl, vars = b.Template, b.Variables(req.BaseVariables)
	}

	recipients := req.Recipients
	if req.Resume {
		if req.CampaignID == "" {
			httputil.BadRequest(w, "campaign_id is required to resume")
			return
		}
		var err error
		recipients, err = h.runner.FilterUnsent(ctx, req.CampaignID, recipients)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
	}

	result, err := h.runner.Run(ctx, campaign.Run{
		CampaignID:    req.CampaignID,
		Recipients:    recipients,
		Template:      tpl,
		BaseVariables: vars,
		Provider:      h.provider,
	})
	switch {
	case err == nil:
		httputil.OK(w, result)
	case errors.Is(err, campaign.ErrInvalidRun):
		httputil.ErrorWithCode(w, http.StatusBadRequest, "invalid_run", err.Error(), nil)
	case errors.Is(err, campaign.ErrCampaignLocked):
		httputil.ErrorWithCode(w, http.StatusConflict, "campaign_locked", "campaign is already running", nil)
	case errors.Is(err, campaign.ErrPersistence):
		logger.Error("Campaign halted on persistence failure", "campaign_id", req.CampaignID, "error", err)
		httputil.ErrorWithCode(w, http.StatusInternalServerError, "persistence", "outcomes could not be recorded; run halted", result)
	default:
		httputil.InternalError(w, err)
	}
}

// ListCampaigns lists every campaign with its summary counts.
//
//	GET /api/campaigns
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	sums, err := h.store.Campaigns(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if sums == nil {
		sums = []domain.CampaignSummary{}
	}
	httputil.OK(w, map[string]any{"campaigns": sums, "count": len(sums)})
}

// GetCampaign returns the summary of one campaign.
//
//	GET /api/campaigns/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sum, err := h.store.Summary(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("campaign %q not found", id))
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, sum)
}

// GetOutcomes returns recorded outcomes in record order, one page at a
// time (?page, ?limit). With ?latest=true only the most recent outcome per
// recipient is returned.
//
//	GET /api/campaigns/{id}/outcomes
func (h *Handlers) GetOutcomes(w http.ResponseWriter, r *http.Request) {
	outcomes, ok := h.loadOutcomes(w, r)
	if !ok {
		return
	}
	page, meta := Paginate(outcomes, ParsePagination(r, defaultOutcomeLimit, maxOutcomeLimit))
	httputil.OK(w, map[string]any{
		"campaign_id": chi.URLParam(r, "id"),
		"outcomes":    page,
		"count":       len(outcomes),
		"pagination":  meta,
	})
}

// ExportOutcomesCSV streams outcomes as a CSV attachment.
//
//	GET /api/campaigns/{id}/outcomes.csv
func (h *Handlers) ExportOutcomesCSV(w http.ResponseWriter, r *http.Request) {
	outcomes, ok := h.loadOutcomes(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", export.FormatCSV.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "outcomes_"+id+".csv"))
	if err := export.WriteCSV(w, outcomes); err != nil {
		logger.Warn("CSV export interrupted", "campaign_id", id, "error", err)
	}
}

func (h *Handlers) loadOutcomes(w http.ResponseWriter, r *http.Request) ([]domain.DeliveryOutcome, bool) {
	id := chi.URLParam(r, "id")
	latest := false
	if v := r.URL.Query().Get("latest"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.BadRequest(w, "latest must be a boolean")
			return nil, false
		}
		latest = b
	}

	var (
		outcomes []domain.DeliveryOutcome
		err      error
	)
	if latest {
		outcomes, err = h.store.LatestByCampaign(r.Context(), id)
	} else {
		outcomes, err = h.store.QueryByCampaign(r.Context(), id)
	}
	if err != nil {
		httputil.InternalError(w, err)
		return nil, false
	}
	if len(outcomes) == 0 {
		httputil.NotFound(w, fmt.Sprintf("campaign %q not found", id))
		return nil, false
	}
	return outcomes, true
}

// VerifyProvider checks the configured provider without sending mail.
//
//	POST /api/provider/verify
func (h *Handlers) VerifyProvider(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"provider": h.provider.Type}
	if err := h.verify(r.Context(), h.provider); err != nil {
		logger.Warn("Provider verification failed", "provider", string(h.provider.Type), "error", err)
		resp["ok"] = false
		resp["error"] = err.Error()
		httputil.JSON(w, http.StatusBadGateway, resp)
		return
	}
	resp["ok"] = true
	httputil.OK(w, resp)
}
