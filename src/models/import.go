package models

// Import file status values.
const (
	ImportStatusPending    = "pending"
	ImportStatusProcessing = "processing"
	ImportStatusCompleted  = "completed"
	ImportStatusFailed     = "failed"
)

// ImportedFile is the idempotency record of one uploaded spreadsheet.
type ImportedFile struct {
	ID            string   `json:"id"`
	UserEmail     string   `json:"user_email"`
	Filename      string   `json:"filename"`
	ContentHash   string   `json:"content_hash"`
	FilePath      string   `json:"-"`
	UploadDate    string   `json:"upload_date"`
	Status        string   `json:"status"`
	RowsProcessed int      `json:"rows_processed"`
	ErrorsCount   int      `json:"errors_count"`
	ErrorDetails  []string `json:"error_details"`
}

// ImportRow is one spreadsheet row before validation. Every cell is kept as text.
type ImportRow struct {
	Line        int // 1-based spreadsheet row, header is row 1
	Date        string
	Account     string
	Instrument  string
	Type        string
	Quantity    string
	Price       string
	Total       string
	Currency    string
	Description string
}

// UploadResult is returned by POST /upload.
type UploadResult struct {
	File            ImportedFile `json:"file"`
	Buffer          string       `json:"buffer"` // base64 of the stored bytes
	AlreadyUploaded bool         `json:"alreadyUploaded"`
}

// ImportResult is returned by POST /process-transactions.
type ImportResult struct {
	FileID           string   `json:"fileId"`
	Status           string   `json:"status"`
	RowsProcessed    int      `json:"rowsProcessed"`
	ErrorsCount      int      `json:"errorsCount"`
	Errors           []string `json:"errors"`
	AlreadyProcessed bool     `json:"alreadyProcessed"`
}
