package model

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/username/carteira/src/models"
)

const importedFileColumns = `id, user_email, filename, content_hash, file_path, upload_date, status, rows_processed, errors_count, error_details`

func scanImportedFile(row RowScanner, f *models.ImportedFile) error {
	var details sql.NullString
	if err := row.Scan(&f.ID, &f.UserEmail, &f.Filename, &f.ContentHash, &f.FilePath, &f.UploadDate,
		&f.Status, &f.RowsProcessed, &f.ErrorsCount, &details); err != nil {
		return err
	}
	f.ErrorDetails = []string{}
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &f.ErrorDetails); err != nil {
			// Older rows stored plain text.
			f.ErrorDetails = []string{details.String}
		}
	}
	return nil
}

func CreateImportedFile(ctx context.Context, db DBTX, f *models.ImportedFile) error {
	if f.UploadDate == "" {
		f.UploadDate = NowTimestamp()
	}
	if f.Status == "" {
		f.Status = models.ImportStatusPending
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO imported_files (id, user_email, filename, content_hash, file_path, upload_date, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserEmail, f.Filename, f.ContentHash, f.FilePath, f.UploadDate, f.Status)
	return err
}

// GetImportedFileByHash returns sql.ErrNoRows when the user never uploaded these bytes.
func GetImportedFileByHash(ctx context.Context, db DBTX, userEmail, contentHash string) (*models.ImportedFile, error) {
	var f models.ImportedFile
	row := db.QueryRowContext(ctx, `SELECT `+importedFileColumns+` FROM imported_files WHERE user_email = ? AND content_hash = ?`, userEmail, contentHash)
	if err := scanImportedFile(row, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetImportedFile returns sql.ErrNoRows when the id is unknown for the user.
func GetImportedFile(ctx context.Context, db DBTX, userEmail, id string) (*models.ImportedFile, error) {
	var f models.ImportedFile
	row := db.QueryRowContext(ctx, `SELECT `+importedFileColumns+` FROM imported_files WHERE user_email = ? AND id = ?`, userEmail, id)
	if err := scanImportedFile(row, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ClaimImportedFile moves a file to processing for the caller. It fails
// (false) while another run holds a claim newer than staleBefore, and for
// completed files.
func ClaimImportedFile(ctx context.Context, db DBTX, id, staleBefore string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE imported_files SET status = 'processing', claimed_at = ?
		 WHERE id = ? AND (
			status IN ('pending', 'failed')
			OR (status = 'processing' AND (claimed_at IS NULL OR claimed_at < ?)))`,
		NowTimestamp(), id, staleBefore)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// TouchImportedFileClaim keeps a long-running claim from going stale.
func TouchImportedFileClaim(ctx context.Context, db DBTX, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE imported_files SET claimed_at = ? WHERE id = ? AND status = 'processing'`, NowTimestamp(), id)
	return err
}

// FinishImportedFile stores the outcome of processing a file.
func FinishImportedFile(ctx context.Context, db DBTX, id, status string, rowsProcessed int, errs []string) error {
	var details any
	if len(errs) > 0 {
		raw, err := json.Marshal(errs)
		if err != nil {
			return err
		}
		details = string(raw)
	}
	_, err := db.ExecContext(ctx,
		`UPDATE imported_files SET status = ?, rows_processed = ?, errors_count = ?, error_details = ?, claimed_at = NULL WHERE id = ?`,
		status, rowsProcessed, len(errs), details, id)
	return err
}

func ListImportedFiles(ctx context.Context, db DBTX, userEmail string) ([]models.ImportedFile, error) {
	return LoadList(ctx, db, scanImportedFile,
		`SELECT `+importedFileColumns+` FROM imported_files WHERE user_email = ? ORDER BY upload_date DESC`, userEmail)
}
