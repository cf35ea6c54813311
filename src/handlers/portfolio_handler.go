package handlers

import (
	"net/http"

	"github.com/username/carteira/src/services"
	"github.com/username/carteira/src/utils"
)

// DashboardHandler serves the read-only views. Responses carry an ETag so
// polling clients get 304 while nothing changed.
type DashboardHandler struct {
	valuation services.ValuationService
	ledger    services.LedgerService
}

func NewDashboardHandler(valuation services.ValuationService, ledger services.LedgerService) *DashboardHandler {
	return &DashboardHandler{valuation: valuation, ledger: ledger}
}

func (h *DashboardHandler) HandleValuations(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	holdings, err := h.valuation.Holdings(r.Context(), userEmail, firstParam(r, "account", "accountName"))
	if err != nil {
		respondError(w, r, err, "compute valuations")
		return
	}
	utils.WriteJSONWithETag(w, r, holdings)
}

func (h *DashboardHandler) HandlePortfolioTotals(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	totals, err := h.valuation.PortfolioTotals(r.Context(), userEmail)
	if err != nil {
		respondError(w, r, err, "compute portfolio totals")
		return
	}
	utils.WriteJSONWithETag(w, r, totals)
}

func (h *DashboardHandler) HandlePerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := h.valuation.Performance(r.Context(), firstParam(r, "instrument", "instrumentCode"))
	if err != nil {
		respondError(w, r, err, "compute performance")
		return
	}
	utils.WriteJSONWithETag(w, r, perf)
}

// HandleTransactions is the enriched recent-activity feed.
func (h *DashboardHandler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	filter, err := parseTransactionFilter(r)
	if err != nil {
		respondError(w, r, err, "load transaction history")
		return
	}
	filter.Limit = utils.ParseLimit(firstParam(r, "limit"), services.DefaultHistoryLimit, services.MaxTransactionLimit)
	items, err := h.ledger.History(r.Context(), userEmail, filter)
	if err != nil {
		respondError(w, r, err, "load transaction history")
		return
	}
	utils.WriteJSONWithETag(w, r, items)
}
