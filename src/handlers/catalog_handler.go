package handlers

import (
	"net/http"

	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/services"
	"github.com/username/carteira/src/utils"
)

type CatalogHandler struct {
	catalog services.CatalogService
}

func NewCatalogHandler(catalog services.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

func (h *CatalogHandler) HandleListTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.catalog.ListTypes(r.Context())
	if err != nil {
		respondError(w, r, err, "list instrument types")
		return
	}
	utils.WriteJSON(w, http.StatusOK, types)
}

func (h *CatalogHandler) HandleUpsertType(w http.ResponseWriter, r *http.Request) {
	var t models.InstrumentType
	if err := decodeJSON(r, &t); err != nil {
		respondError(w, r, err, "save instrument type")
		return
	}
	saved, err := h.catalog.UpsertType(r.Context(), t)
	if err != nil {
		respondError(w, r, err, "save instrument type")
		return
	}
	utils.WriteJSON(w, http.StatusOK, saved)
}

func (h *CatalogHandler) HandleUpdateType(w http.ResponseWriter, r *http.Request) {
	var t models.InstrumentType
	if err := decodeJSON(r, &t); err != nil {
		respondError(w, r, err, "update instrument type")
		return
	}
	saved, err := h.catalog.UpdateType(r.Context(), t)
	if err != nil {
		respondError(w, r, err, "update instrument type")
		return
	}
	utils.WriteJSON(w, http.StatusOK, saved)
}

func (h *CatalogHandler) HandleDeleteType(w http.ResponseWriter, r *http.Request) {
	code := firstParam(r, "code")
	if code == "" {
		utils.SendJSONError(w, "code is required", http.StatusBadRequest)
		return
	}
	if err := h.catalog.DeleteType(r.Context(), code); err != nil {
		respondError(w, r, err, "delete instrument type")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListInstruments returns one instrument with ?code=, otherwise the
// catalog optionally filtered by ?type=.
func (h *CatalogHandler) HandleListInstruments(w http.ResponseWriter, r *http.Request) {
	if code := firstParam(r, "code"); code != "" {
		inst, err := h.catalog.GetInstrument(r.Context(), code)
		if err != nil {
			respondError(w, r, err, "load instrument")
			return
		}
		utils.WriteJSON(w, http.StatusOK, inst)
		return
	}
	list, err := h.catalog.ListInstruments(r.Context(), firstParam(r, "type", "instrumentTypeCode"))
	if err != nil {
		respondError(w, r, err, "list instruments")
		return
	}
	utils.WriteJSON(w, http.StatusOK, list)
}

func (h *CatalogHandler) HandleUpsertInstrument(w http.ResponseWriter, r *http.Request) {
	var in models.InstrumentInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, r, err, "save instrument")
		return
	}
	inst, err := h.catalog.UpsertInstrument(r.Context(), in)
	if err != nil {
		respondError(w, r, err, "save instrument")
		return
	}
	utils.WriteJSON(w, http.StatusOK, inst)
}

func (h *CatalogHandler) HandleUpdateInstrument(w http.ResponseWriter, r *http.Request) {
	var in models.InstrumentInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, r, err, "update instrument")
		return
	}
	inst, err := h.catalog.UpdateInstrument(r.Context(), in)
	if err != nil {
		respondError(w, r, err, "update instrument")
		return
	}
	utils.WriteJSON(w, http.StatusOK, inst)
}

func (h *CatalogHandler) HandleDeleteInstrument(w http.ResponseWriter, r *http.Request) {
	code := firstParam(r, "code")
	if code == "" {
		utils.SendJSONError(w, "code is required", http.StatusBadRequest)
		return
	}
	if err := h.catalog.DeleteInstrument(r.Context(), code); err != nil {
		respondError(w, r, err, "delete instrument")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
