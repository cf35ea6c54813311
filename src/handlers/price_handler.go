package handlers

import (
	"net/http"
	"strconv"

	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/services"
	"github.com/username/carteira/src/utils"
)

const maxRecentPricesPerInstrument = 100

type PriceHandler struct {
	prices        services.PriceService
	recentDefault int
}

func NewPriceHandler(prices services.PriceService, recentDefault int) *PriceHandler {
	if recentDefault <= 0 {
		recentDefault = services.DefaultRecentPrices
	}
	return &PriceHandler{prices: prices, recentDefault: recentDefault}
}

// HandleList returns the n latest prices of every instrument (?n=).
func (h *PriceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	n := utils.ParseLimit(firstParam(r, "n", "perInstrument"), h.recentDefault, maxRecentPricesPerInstrument)
	prices, err := h.prices.RecentHistory(r.Context(), n)
	if err != nil {
		respondError(w, r, err, "list prices")
		return
	}
	utils.WriteJSON(w, http.StatusOK, prices)
}

func (h *PriceHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	var in models.PriceInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, r, err, "save price")
		return
	}
	p, err := h.prices.Upsert(r.Context(), in)
	if err != nil {
		respondError(w, r, err, "save price")
		return
	}
	utils.WriteJSON(w, http.StatusOK, p)
}

func (h *PriceHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var in models.PriceInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, r, err, "update price")
		return
	}
	if in.ID == 0 {
		if id, err := strconv.ParseInt(firstParam(r, "id"), 10, 64); err == nil {
			in.ID = id
		}
	}
	p, err := h.prices.Update(r.Context(), in)
	if err != nil {
		respondError(w, r, err, "update price")
		return
	}
	utils.WriteJSON(w, http.StatusOK, p)
}

func (h *PriceHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(firstParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		utils.SendJSONError(w, "a numeric price id is required", http.StatusBadRequest)
		return
	}
	if err := h.prices.Delete(r.Context(), id); err != nil {
		respondError(w, r, err, "delete price")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSync answers 207 when some instruments could not be priced.
func (h *PriceHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.prices.Sync(r.Context())
	if err != nil {
		respondError(w, r, err, "sync prices")
		return
	}
	status := http.StatusOK
	if len(result.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	utils.WriteJSON(w, status, result)
}
