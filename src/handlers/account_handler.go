package handlers

import (
	"net/http"

	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/services"
	"github.com/username/carteira/src/utils"
)

type AccountHandler struct {
	accounts services.AccountService
}

func NewAccountHandler(accounts services.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

func (h *AccountHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	accounts, err := h.accounts.ListAccounts(r.Context(), userEmail)
	if err != nil {
		respondError(w, r, err, "list accounts")
		return
	}
	utils.WriteJSON(w, http.StatusOK, accounts)
}

func (h *AccountHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in models.AccountInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, r, err, "save account")
		return
	}
	account, err := h.accounts.UpsertAccount(r.Context(), userEmail, in)
	if err != nil {
		respondError(w, r, err, "save account")
		return
	}
	utils.WriteJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	var in models.AccountInput
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, r, err, "update account")
		return
	}
	account, err := h.accounts.UpdateAccount(r.Context(), userEmail, in)
	if err != nil {
		respondError(w, r, err, "update account")
		return
	}
	utils.WriteJSON(w, http.StatusOK, account)
}

// HandleDelete takes the account name from ?name= or from a JSON body.
func (h *AccountHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userEmail, ok := requireUser(w, r)
	if !ok {
		return
	}
	name := firstParam(r, "name", "accountName")
	if name == "" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &body); err != nil {
			respondError(w, r, err, "delete account")
			return
		}
		name = body.Name
	}
	if name == "" {
		utils.SendJSONError(w, "account name is required", http.StatusBadRequest)
		return
	}
	result, err := h.accounts.DeleteAccount(r.Context(), userEmail, name)
	if err != nil {
		respondError(w, r, err, "delete account")
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}
