package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/username/carteira/src/logger"
	"github.com/username/carteira/src/model"
	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/security"
	"github.com/username/carteira/src/security/validation"
)

const maxAccountTypeLength = 50

type accountServiceImpl struct {
	db   *sql.DB
	auth *security.AuthService
}

func NewAccountService(db *sql.DB, auth *security.AuthService) AccountService {
	return &accountServiceImpl{db: db, auth: auth}
}

// NormalizeEmail is the canonical form under which users are stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *accountServiceImpl) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	email = NormalizeEmail(email)
	name = validation.SanitizeName(name)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validation.ValidateStringLength(name, 1, validation.DefaultMaxStringLength, "name"); err != nil {
		return nil, err
	}
	if err := validation.ValidateStringLength(password, validation.MinPasswordLength, validation.MaxPasswordLength, "password"); err != nil {
		return nil, err
	}

	hash, err := s.auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &models.User{Email: email, Name: name, PasswordHash: hash}
	if err := model.CreateUser(ctx, s.db, user); err != nil {
		if model.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	logger.FromContext(ctx).Info("User registered", "userEmail", email)
	return user, nil
}

func (s *accountServiceImpl) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := model.GetUserByEmail(ctx, s.db, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := s.auth.CompareHashAndPassword(user.PasswordHash, password); err != nil {
		logger.FromContext(ctx).Warn("Failed login attempt", "userEmail", user.Email)
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *accountServiceImpl) GetUser(ctx context.Context, email string) (*models.User, error) {
	user, err := model.GetUserByEmail(ctx, s.db, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user does not exist", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func (s *accountServiceImpl) ListAccounts(ctx context.Context, userEmail string) ([]models.Account, error) {
	accounts, err := model.ListAccounts(ctx, s.db, userEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// UpsertAccount creates the account or overwrites its descriptive fields.
// Omitted optional fields are stored empty.
func (s *accountServiceImpl) UpsertAccount(ctx context.Context, userEmail string, in models.AccountInput) (*models.Account, error) {
	name, err := normalizeAccountName(in.Name)
	if err != nil {
		return nil, err
	}
	a := &models.Account{UserEmail: userEmail, Name: name, AccountType: model.DefaultAccountType}
	if err := applyAccountInput(a, in); err != nil {
		return nil, err
	}

	var out *models.Account
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireParent(ctx, tx, a); err != nil {
			return err
		}
		if err := model.UpsertAccount(ctx, tx, a); err != nil {
			return fmt.Errorf("failed to save account: %w", err)
		}
		out, err = model.GetAccount(ctx, tx, userEmail, name)
		return err
	})
	return out, err
}

// UpdateAccount changes the fields present in in. An empty string clears an
// optional field.
func (s *accountServiceImpl) UpdateAccount(ctx context.Context, userEmail string, in models.AccountInput) (*models.Account, error) {
	name, err := normalizeAccountName(in.Name)
	if err != nil {
		return nil, err
	}
	if in.AccountType == nil && in.BankName == nil && in.ParentAccountName == nil {
		return nil, fmt.Errorf("%w: no fields to update", validation.ErrValidationFailed)
	}

	var out *models.Account
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		a, err := model.GetAccount(ctx, tx, userEmail, name)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: account '%s' does not exist", ErrNotFound, name)
			}
			return fmt.Errorf("failed to load account: %w", err)
		}
		if err := applyAccountInput(a, in); err != nil {
			return err
		}
		if err := requireParent(ctx, tx, a); err != nil {
			return err
		}
		if _, err := model.UpdateAccount(ctx, tx, a); err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		out, err = model.GetAccount(ctx, tx, userEmail, name)
		return err
	})
	return out, err
}

// DeleteAccount removes the account, its child accounts, and every
// transaction and balance row of all of them.
func (s *accountServiceImpl) DeleteAccount(ctx context.Context, userEmail, name string) (*models.AccountDeletion, error) {
	name = validation.SanitizeName(name)
	result := &models.AccountDeletion{AccountsDeleted: []string{}}
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := model.GetAccount(ctx, tx, userEmail, name); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: account '%s' does not exist", ErrNotFound, name)
			}
			return fmt.Errorf("failed to load account: %w", err)
		}
		children, err := model.ListChildAccountNames(ctx, tx, userEmail, name)
		if err != nil {
			return fmt.Errorf("failed to list child accounts: %w", err)
		}
		for _, acct := range append(children, name) {
			txDeleted, balDeleted, err := model.DeleteAccountData(ctx, tx, userEmail, acct)
			if err != nil {
				return fmt.Errorf("failed to delete data of account '%s': %w", acct, err)
			}
			if _, err := model.DeleteAccount(ctx, tx, userEmail, acct); err != nil {
				return fmt.Errorf("failed to delete account '%s': %w", acct, err)
			}
			result.TransactionsDeleted += txDeleted
			result.BalancesDeleted += balDeleted
			result.AccountsDeleted = append(result.AccountsDeleted, acct)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("Account deleted",
		"accounts", result.AccountsDeleted, "transactions", result.TransactionsDeleted, "balances", result.BalancesDeleted)
	return result, nil
}

func normalizeAccountName(raw string) (string, error) {
	name := validation.SanitizeName(raw)
	if err := validation.ValidateStringNotEmpty(name, "name"); err != nil {
		return "", err
	}
	if err := validation.ValidateStringMaxLength(name, validation.DefaultMaxStringLength, "name"); err != nil {
		return "", err
	}
	return name, nil
}

func applyAccountInput(a *models.Account, in models.AccountInput) error {
	if in.AccountType != nil {
		t := strings.ToLower(strings.TrimSpace(*in.AccountType))
		if t == "" {
			t = model.DefaultAccountType
		}
		if err := validation.ValidateStringMaxLength(t, maxAccountTypeLength, "accountType"); err != nil {
			return err
		}
		a.AccountType = t
	}
	if in.BankName != nil {
		bank := validation.SanitizeName(*in.BankName)
		if err := validation.ValidateStringMaxLength(bank, validation.DefaultMaxStringLength, "bankName"); err != nil {
			return err
		}
		a.BankName = &bank
	}
	if in.ParentAccountName != nil {
		parent := validation.SanitizeName(*in.ParentAccountName)
		if parent == "" {
			a.ParentAccountName = nil
		} else {
			a.ParentAccountName = &parent
		}
	}
	return nil
}

func requireParent(ctx context.Context, db model.DBTX, a *models.Account) error {
	if a.ParentAccountName == nil {
		return nil
	}
	parent := *a.ParentAccountName
	if parent == a.Name {
		return fmt.Errorf("%w: an account cannot be its own parent", validation.ErrValidationFailed)
	}
	if _, err := model.GetAccount(ctx, db, a.UserEmail, parent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: parent account '%s' does not exist", ErrNotFound, parent)
		}
		return fmt.Errorf("failed to load parent account: %w", err)
	}
	return nil
}
