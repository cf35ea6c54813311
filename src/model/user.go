package model

import (
	"context"
	"database/sql"

	"github.com/username/carteira/src/models"
)

func CreateUser(ctx context.Context, db DBTX, user *models.User) error {
	if user.CreatedAt == "" {
		user.CreatedAt = NowTimestamp()
	}
	var hash any
	if user.PasswordHash != "" {
		hash = user.PasswordHash
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (email, name, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.Email, user.Name, hash, user.CreatedAt)
	return err
}

// GetUserByEmail returns sql.ErrNoRows when the user does not exist.
func GetUserByEmail(ctx context.Context, db DBTX, email string) (*models.User, error) {
	var (
		u    models.User
		hash sql.NullString
	)
	err := db.QueryRowContext(ctx,
		`SELECT email, name, password_hash, created_at FROM users WHERE email = ?`, email,
	).Scan(&u.Email, &u.Name, &hash, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash.String
	return &u, nil
}
