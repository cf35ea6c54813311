package models

// User is identified by its lower-cased email.
type User struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at"`
}

// Account is a named bucket of holdings owned by one user.
type Account struct {
	UserEmail         string  `json:"user_email"`
	Name              string  `json:"name"`
	AccountType       string  `json:"account_type"`
	BankName          *string `json:"bank_name"`
	ParentAccountName *string `json:"parent_account_name"`
	CreatedAt         string  `json:"created_at"`
}

// AccountInput is used for both create-or-update and partial updates.
// Nil pointers mean "leave unchanged" on update.
type AccountInput struct {
	Name              string  `json:"name"`
	AccountType       *string `json:"accountType"`
	BankName          *string `json:"bankName"`
	ParentAccountName *string `json:"parentAccountName"`
}

// AccountDeletion reports what an account delete removed.
type AccountDeletion struct {
	AccountsDeleted     []string `json:"accounts_deleted"`
	TransactionsDeleted int64    `json:"transactions_deleted"`
	BalancesDeleted     int64    `json:"balances_deleted"`
}
