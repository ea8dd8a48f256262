package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/commentguard/moderation-gateway/internal/gateway/moderation"
	"github.com/commentguard/moderation-gateway/internal/gateway/providers"
	"github.com/commentguard/moderation-gateway/internal/shared/database"
)

// ModerationHandler serves the gateway's HTTP surface.
type ModerationHandler struct {
	manager   *providers.Manager
	db        *database.DB
	budgetUSD float64
}

// NewModerationHandler wires the handler.
func NewModerationHandler(manager *providers.Manager, db *database.DB, budgetUSD float64) *ModerationHandler {
	return &ModerationHandler{
		manager:   manager,
		db:        db,
		budgetUSD: budgetUSD,
	}
}

type moderateRequest struct {
	Content  moderation.Content `json:"content"`
	Prompt   string             `json:"prompt,omitempty"`
	Provider string             `json:"provider,omitempty"`
	Model    string             `json:"model,omitempty"`
	Caller   string             `json:"caller,omitempty"`
}

// HandleModerate handles POST /v1/moderate. Moderation failures are
// part of the result contract, so they return 200 with success=false;
// only malformed requests produce a 4xx.
func (h *ModerationHandler) HandleModerate(w http.ResponseWriter, r *http.Request) {
	var req moderateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content.Text == "" {
		http.Error(w, "content.text is required", http.StatusBadRequest)
		return
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = moderation.BuildPrompt(req.Content)
	}

	result := h.manager.Process(r.Context(), req.Provider, moderation.Request{
		Content: req.Content,
		Prompt:  prompt,
		Model:   req.Model,
		Caller:  req.Caller,
	})

	w.Header().Set("X-Cost-USD", fmt.Sprintf("%.6f", result.CostUSD))
	if result.ModelUsed != "" {
		w.Header().Set("X-Model", result.ModelUsed)
	}
	if result.FallbackUsed {
		w.Header().Set("X-Fallback", "true")
	}
	writeJSON(w, http.StatusOK, result)
}

type providerInfo struct {
	Name              string                  `json:"name"`
	DisplayName       string                  `json:"display_name"`
	SupportsStreaming bool                    `json:"supports_streaming"`
	ConfigFields      []providers.ConfigField `json:"config_fields"`
}

// HandleListProviders handles GET /v1/providers.
func (h *ModerationHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	var infos []providerInfo
	for _, name := range h.manager.Names() {
		p, err := h.manager.Provider(name)
		if err != nil {
			continue
		}
		infos = append(infos, providerInfo{
			Name:              p.Name(),
			DisplayName:       p.DisplayName(),
			SupportsStreaming: p.SupportsStreaming(),
			ConfigFields:      p.ConfigFields(),
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

// HandleListModels handles GET /v1/providers/{provider}/models.
func (h *ModerationHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	p, err := h.manager.Provider(chi.URLParam(r, "provider"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	models, err := p.GetModels(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list models: %v", err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

// HandleTestConnection handles POST /v1/providers/{provider}/test.
func (h *ModerationHandler) HandleTestConnection(w http.ResponseWriter, r *http.Request) {
	p, err := h.manager.Provider(chi.URLParam(r, "provider"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p.TestConnection(r.Context()))
}

type usageSummaryResponse struct {
	TotalTokens       int     `json:"total_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
	CommentsProcessed int     `json:"comments_processed"`
	BudgetUSD         float64 `json:"budget_usd,omitempty"`
	BudgetRemaining   float64 `json:"budget_remaining_usd,omitempty"`
}

// HandleUsageSummary handles GET /v1/usage/summary: this month's
// ledger totals against the configured budget threshold.
func (h *ModerationHandler) HandleUsageSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.db.MonthlySummary(r.Context())
	if err != nil {
		http.Error(w, "failed to load usage summary", http.StatusInternalServerError)
		return
	}

	resp := usageSummaryResponse{
		TotalTokens:       summary.TotalTokens,
		TotalCostUSD:      summary.TotalCostUSD,
		CommentsProcessed: summary.CommentsProcessed,
		BudgetUSD:         h.budgetUSD,
	}
	if h.budgetUSD > 0 {
		resp.BudgetRemaining = h.budgetUSD - summary.TotalCostUSD
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
