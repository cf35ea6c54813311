package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/username/carteira/src/logger"
	"github.com/username/carteira/src/model"
	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/parsers"
	"github.com/username/carteira/src/processors"
	"github.com/username/carteira/src/security/validation"
)

// DefaultImportClaimTTL is how long a processing run may go without progress
// before another request may take the file over.
const DefaultImportClaimTTL = 10 * time.Minute

// claimTouchEvery is the number of rows between claim refreshes.
const claimTouchEvery = 50

type importServiceImpl struct {
	db        *sql.DB
	ledger    LedgerService
	uploadDir string
	maxSize   int64
	claimTTL  time.Duration
}

func NewImportService(db *sql.DB, ledger LedgerService, uploadDir string, maxSize int64) ImportService {
	return &importServiceImpl{db: db, ledger: ledger, uploadDir: uploadDir, maxSize: maxSize, claimTTL: DefaultImportClaimTTL}
}

// Upload stores a spreadsheet and its idempotency record. The SHA-256 of the
// bytes identifies the file per user: uploading the same bytes again returns
// the existing record.
func (s *importServiceImpl) Upload(ctx context.Context, userEmail, filename, contentType string, content []byte) (*models.UploadResult, error) {
	if s.maxSize > 0 && int64(len(content)) > s.maxSize {
		return nil, fmt.Errorf("%w: file exceeds the maximum size of %d bytes", validation.ErrValidationFailed, s.maxSize)
	}
	if err := validation.ValidateClientContentType(contentType); err != nil {
		return nil, err
	}
	filename = validation.SanitizeName(filepath.Base(strings.TrimSpace(filename)))
	kind, err := validation.DetectFileKind(content, filename)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	buffer := base64.StdEncoding.EncodeToString(content)

	existing, err := model.GetImportedFileByHash(ctx, s.db, userEmail, hash)
	if err == nil {
		logger.FromContext(ctx).Info("File already uploaded", "fileID", existing.ID, "status", existing.Status)
		return &models.UploadResult{File: *existing, Buffer: buffer, AlreadyUploaded: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up uploaded file: %w", err)
	}

	path, err := s.store(hash, kind, content)
	if err != nil {
		return nil, err
	}

	f := &models.ImportedFile{
		ID:           uuid.NewString(),
		UserEmail:    userEmail,
		Filename:     filename,
		ContentHash:  hash,
		FilePath:     path,
		Status:       models.ImportStatusPending,
		ErrorDetails: []string{},
	}
	if err := model.CreateImportedFile(ctx, s.db, f); err != nil {
		if model.IsUniqueViolation(err) {
			// Lost a race against an identical upload.
			if existing, err := model.GetImportedFileByHash(ctx, s.db, userEmail, hash); err == nil {
				return &models.UploadResult{File: *existing, Buffer: buffer, AlreadyUploaded: true}, nil
			}
		}
		return nil, fmt.Errorf("failed to record uploaded file: %w", err)
	}

	logger.FromContext(ctx).Info("File uploaded", "fileID", f.ID, "filename", filename, "size", len(content), "kind", kind)
	return &models.UploadResult{File: *f, Buffer: buffer}, nil
}

func (s *importServiceImpl) store(hash, kind string, content []byte) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	path := filepath.Join(s.uploadDir, hash+"."+kind)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, content, 0o640); err != nil {
		return "", fmt.Errorf("failed to store uploaded file: %w", err)
	}
	return path, nil
}

// Process records every valid row of an uploaded file. A completed file is
// never processed twice, and only one run may hold a file at a time: a
// concurrent request gets the stored result if the file completed meanwhile,
// ErrConflict otherwise. Every run starts by removing whatever an earlier,
// unfinished run recorded, so rows are never counted twice.
func (s *importServiceImpl) Process(ctx context.Context, userEmail, fileID string, buffer []byte) (*models.ImportResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx).With("fileID", fileID)

	f, err := s.loadFile(ctx, userEmail, fileID)
	if err != nil {
		return nil, err
	}
	if f.Status == models.ImportStatusCompleted {
		log.Info("File already processed, skipping")
		return alreadyProcessed(f), nil
	}

	content, err := s.content(f, buffer)
	if err != nil {
		return nil, err
	}
	kind, err := validation.DetectFileKind(content, f.Filename)
	if err != nil {
		return nil, err
	}
	parser, err := parsers.GetParser(kind, f.Filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParsingFailed, parsers.Describe(err))
	}

	staleBefore := model.FormatTimestamp(time.Now().Add(-s.claimTTL))
	claimed, err := model.ClaimImportedFile(ctx, s.db, f.ID, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to claim file for processing: %w", err)
	}
	if !claimed {
		current, err := s.loadFile(ctx, userEmail, f.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.ImportStatusCompleted {
			log.Info("File completed by a concurrent request")
			return alreadyProcessed(current), nil
		}
		log.Warn("File is being processed by another request", "status", current.Status)
		return nil, fmt.Errorf("%w: file '%s' is already being processed", ErrConflict, f.ID)
	}

	log.Info("Import START", "filename", f.Filename, "previousStatus", f.Status)
	removed, err := s.ledger.RemoveImported(ctx, userEmail, f.ID)
	if err != nil {
		s.release(ctx, f.ID, []string{"previous run could not be undone"})
		return nil, fmt.Errorf("failed to undo previous import run: %w", err)
	}
	if removed > 0 {
		log.Info("Removed rows recorded by a previous run", "removed", removed)
	}

	rows, err := parser.Parse(bytes.NewReader(content))
	if err != nil {
		msg := parsers.Describe(err)
		log.Warn("Failed to parse uploaded file", "error", err)
		s.release(ctx, f.ID, []string{msg})
		return nil, fmt.Errorf("%w: %s", ErrParsingFailed, msg)
	}

	errs := []string{}
	processed := 0
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			s.release(context.WithoutCancel(ctx), f.ID, []string{"processing was interrupted"})
			return nil, err
		}
		if i > 0 && i%claimTouchEvery == 0 {
			if err := model.TouchImportedFileClaim(ctx, s.db, f.ID); err != nil {
				log.Warn("Failed to refresh import claim", "error", err)
			}
		}
		if err := s.recordRow(ctx, userEmail, f.ID, row); err != nil {
			errs = append(errs, fmt.Sprintf("Row %d: %s", row.Line, err.Error()))
			continue
		}
		processed++
	}

	status := models.ImportStatusCompleted
	if len(errs) > 0 {
		status = models.ImportStatusFailed
	}
	if err := model.FinishImportedFile(ctx, s.db, f.ID, status, processed, errs); err != nil {
		return nil, fmt.Errorf("failed to store import outcome: %w", err)
	}

	log.Info("Import END", "status", status, "rowsProcessed", processed, "errors", len(errs), "duration", time.Since(start))
	return &models.ImportResult{
		FileID:        f.ID,
		Status:        status,
		RowsProcessed: processed,
		ErrorsCount:   len(errs),
		Errors:        errs,
	}, nil
}

func (s *importServiceImpl) loadFile(ctx context.Context, userEmail, fileID string) (*models.ImportedFile, error) {
	f, err := model.GetImportedFile(ctx, s.db, userEmail, strings.TrimSpace(fileID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: uploaded file '%s' does not exist", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("failed to load uploaded file: %w", err)
	}
	return f, nil
}

// release marks a claimed file failed so it can be processed again.
func (s *importServiceImpl) release(ctx context.Context, id string, errs []string) {
	if err := model.FinishImportedFile(ctx, s.db, id, models.ImportStatusFailed, 0, errs); err != nil {
		logger.FromContext(ctx).Error("Failed to release import claim", "fileID", id, "error", err)
	}
}

func alreadyProcessed(f *models.ImportedFile) *models.ImportResult {
	return &models.ImportResult{
		FileID:           f.ID,
		Status:           f.Status,
		RowsProcessed:    f.RowsProcessed,
		ErrorsCount:      f.ErrorsCount,
		Errors:           f.ErrorDetails,
		AlreadyProcessed: true,
	}
}

// recordRow returns an error meant for the import report: it never carries
// internal storage detail.
func (s *importServiceImpl) recordRow(ctx context.Context, userEmail, fileID string, row models.ImportRow) error {
	in, err := processors.InputFromImportRow(row)
	if err != nil {
		return errors.New(RowErrorMessage(err))
	}
	if err := validation.CheckFormulaInjection(in.Description, "description", fmt.Sprintf("%s:%d", fileID, row.Line)); err != nil {
		return errors.New(RowErrorMessage(err))
	}
	if _, err := s.ledger.RecordImported(ctx, userEmail, fileID, in); err != nil {
		if errors.Is(err, validation.ErrValidationFailed) || errors.Is(err, ErrNotFound) {
			return errors.New(RowErrorMessage(err))
		}
		logger.FromContext(ctx).Error("Failed to record imported row", "fileID", fileID, "line", row.Line, "error", err)
		return errors.New("could not be recorded")
	}
	return nil
}

// content returns the bytes to process: the client buffer when it matches
// the stored hash, otherwise the stored file.
func (s *importServiceImpl) content(f *models.ImportedFile, buffer []byte) ([]byte, error) {
	if len(buffer) > 0 {
		sum := sha256.Sum256(buffer)
		if hex.EncodeToString(sum[:]) != f.ContentHash {
			return nil, fmt.Errorf("%w: buffer does not match the uploaded file", validation.ErrValidationFailed)
		}
		return buffer, nil
	}
	content, err := os.ReadFile(f.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: stored file is missing, upload it again", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read stored file: %w", err)
	}
	return content, nil
}

func (s *importServiceImpl) ListFiles(ctx context.Context, userEmail string) ([]models.ImportedFile, error) {
	files, err := model.ListImportedFiles(ctx, s.db, userEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploaded files: %w", err)
	}
	return files, nil
}

// RowErrorMessage strips the sentinel prefix from a validation or
// not-found error, leaving the human-readable part.
func RowErrorMessage(err error) string {
	msg := err.Error()
	for _, prefix := range []string{validation.ErrValidationFailed.Error() + ": ", ErrNotFound.Error() + ": "} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return msg
}
