package handlers

import (
	"net/http"

	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/security/validation"
	"github.com/username/carteira/src/services"
	"github.com/username/carteira/src/utils"
)

type TransactionHandler struct {
	ledger services.LedgerService
}

func NewTransactionHandler(ledger services.LedgerService) *TransactionHandler {
	return &TransactionHandler{ledger: ledger}
}

// parseTransactionFilter reads ?account=&instrument=&from=&to=&limit=.
func parseTransactionFilter(r *http.Request) (models.TransactionFilter, error) {
	f := models.TransactionFilter{
		AccountName:    firstParam(r, "account", "accountName"),
		InstrumentCode: firstParam(r, "instrument", "instrumentCode"),
		From:           firstParam(r, "from", "startDate"),
		To:             firstParam(r, "to", "endDate"),
		Limit:          utils.ParseLimit(firstParam(r, "limit"), services.DefaultTransactionLimit, services.MaxTransactionLimit),
	}
	if f.From != "" {
		if err := validation.ValidateDate(f.From, "from"); err != nil {
			return f, err
		}
	}
	if f.To != "" {
		if err := validation.ValidateDate(f.To, "to"); err != nil {
			return f, err
		}
	}
	return f, nil
}

func (h *TransactionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	filter, err := parseTransactionFilter(r)
	if err != nil {
		respondError(w, r, err, "list transactions")
		return
	}
	txs, err := h.ledger.List(r.Context(), userEmail, filter)
	if err != nil {
		respondError(w, r, err, "list transactions")
		return
	}
	utils.WriteJSON(w, http.StatusOK, txs)
}

func (h *TransactionHandler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in models.TransactionInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, r, err, "record transaction")
		return
	}
	tx, err := h.ledger.Record(r.Context(), userEmail, in)
	if err != nil {
		respondError(w, r, err, "record transaction")
		return
	}
	utils.WriteJSON(w, http.StatusCreated, tx)
}

func (h *TransactionHandler) HandleAmend(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req models.AmendTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, "amend transaction")
		return
	}
	tx, err := h.ledger.Amend(r.Context(), userEmail, req.TransactionKey, req.TransactionInput)
	if err != nil {
		respondError(w, r, err, "amend transaction")
		return
	}
	utils.WriteJSON(w, http.StatusOK, tx)
}

type deleteTransactionRequest struct {
	models.TransactionKey
	AccountName    string `json:"accountName"`
	InstrumentCode string `json:"instrumentCode"`
}

func (req deleteTransactionRequest) key() models.TransactionKey {
	k := req.TransactionKey
	if k.OriginalAccountName == "" {
		k.OriginalAccountName = req.AccountName
	}
	if k.OriginalInstrumentCode == "" {
		k.OriginalInstrumentCode = req.InstrumentCode
	}
	return k
}

// HandleRemove accepts the key in the query string or in a JSON body.
func (h *TransactionHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	req := deleteTransactionRequest{
		TransactionKey: models.TransactionKey{
			ID:        firstParam(r, "id"),
			CreatedAt: firstParam(r, "createdAt"),
		},
		AccountName:    firstParam(r, "accountName", "account"),
		InstrumentCode: firstParam(r, "instrumentCode", "instrument"),
	}
	if req.ID == "" && req.CreatedAt == "" {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err, "delete transaction")
			return
		}
	}
	tx, err := h.ledger.Remove(r.Context(), userEmail, req.key())
	if err != nil {
		respondError(w, r, err, "delete transaction")
		return
	}
	utils.WriteJSON(w, http.StatusOK, tx)
}

// HandleRemoveHolding drops one balance row without touching the log.
func (h *TransactionHandler) HandleRemoveHolding(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	account := firstParam(r, "accountName", "account")
	instrument := firstParam(r, "instrumentCode", "instrument")
	if account == "" || instrument == "" {
		utils.SendJSONError(w, "accountName and instrumentCode are required", http.StatusBadRequest)
		return
	}
	if err := h.ledger.RemoveHolding(r.Context(), userEmail, account, instrument); err != nil {
		respondError(w, r, err, "remove holding")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TransactionHandler) HandleRebuild(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	n, err := h.ledger.Rebuild(r.Context(), userEmail)
	if err != nil {
		respondError(w, r, err, "rebuild balances")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]int{"balances": n})
}
