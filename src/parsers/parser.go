package parsers

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/security/validation"
	"github.com/username/carteira/src/utils"
)

// LayoutError is a problem with the structure of a file that the uploader
// can fix. Its message is safe to show to clients.
type LayoutError struct {
	Msg string
}

func (e *LayoutError) Error() string { return e.Msg }

func layoutErrorf(format string, args ...any) error {
	return &LayoutError{Msg: fmt.Sprintf(format, args...)}
}

// Describe returns a client-facing message for a parse failure. Errors from
// the underlying readers are reduced to a generic message.
func Describe(err error) string {
	var le *LayoutError
	if errors.As(err, &le) {
		return le.Msg
	}
	return "the file could not be read, check that it is a valid CSV or XLSX file"
}

// RowParser turns an uploaded file into raw import rows.
type RowParser interface {
	Parse(r io.Reader) ([]models.ImportRow, error)
}

// GetParser picks a parser for a file kind as reported by
// validation.DetectFileKind, or by filename extension when kind is empty.
func GetParser(kind, filename string) (RowParser, error) {
	if kind == "" {
		kind = strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	}
	switch kind {
	case validation.FileKindCSV, "txt":
		return NewCSVParser(), nil
	case validation.FileKindXLSX:
		return NewXLSXParser(), nil
	default:
		return nil, layoutErrorf("unsupported file type '%s'", kind)
	}
}

// column identifies a logical field of an import row.
type column int

const (
	colDate column = iota
	colAccount
	colInstrument
	colType
	colQuantity
	colPrice
	colTotal
	colCurrency
	colDescription
)

var columnNames = map[column]string{
	colDate:        "fecha",
	colAccount:     "cuenta",
	colInstrument:  "instrumento",
	colType:        "tipo",
	colQuantity:    "cantidad",
	colPrice:       "precio",
	colTotal:       "total",
	colCurrency:    "moneda",
	colDescription: "descripcion",
}

// headerAliases maps normalized header text to a column. Spanish names are
// the canonical template; English names are accepted too.
var headerAliases = map[string]column{
	"fecha": colDate, "date": colDate, "transaction_date": colDate,
	"cuenta": colAccount, "account": colAccount, "account_name": colAccount,
	"instrumento": colInstrument, "instrument": colInstrument, "instrument_code": colInstrument, "codigo": colInstrument,
	"tipo": colType, "type": colType, "transaction_type": colType,
	"cantidad": colQuantity, "quantity": colQuantity,
	"precio": colPrice, "price": colPrice,
	"total": colTotal, "total_amount": colTotal, "monto": colTotal, "importe": colTotal,
	"moneda": colCurrency, "currency": colCurrency, "currency_code": colCurrency,
	"descripcion": colDescription, "description": colDescription,
}

var requiredColumns = []column{colAccount, colInstrument, colType, colQuantity}

var accentReplacer = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n")

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = accentReplacer.Replace(strings.ToLower(strings.TrimSpace(h)))
	return strings.Join(strings.Fields(h), "_")
}

// headerIndex maps each known column to its position in the header row.
func headerIndex(header []string) (map[column]int, error) {
	idx := make(map[column]int)
	for i, h := range header {
		if col, ok := headerAliases[normalizeHeader(h)]; ok {
			if _, seen := idx[col]; !seen {
				idx[col] = i
			}
		}
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, columnNames[col])
		}
	}
	if len(missing) > 0 {
		return nil, layoutErrorf("missing required column(s): %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

// buildRows maps data records to ImportRows. records excludes the header;
// record i is spreadsheet line i+2. Blank records are skipped.
func buildRows(idx map[column]int, records [][]string, dateCell func(string) string) []models.ImportRow {
	rows := make([]models.ImportRow, 0, len(records))
	for i, rec := range records {
		cell := func(col column) string {
			pos, ok := idx[col]
			if !ok || pos >= len(rec) {
				return ""
			}
			return validation.CleanCell(rec[pos])
		}
		if isBlank(rec) {
			continue
		}
		date := cell(colDate)
		if date != "" {
			date = dateCell(date)
		}
		rows = append(rows, models.ImportRow{
			Line:        i + 2,
			Date:        date,
			Account:     cell(colAccount),
			Instrument:  cell(colInstrument),
			Type:        cell(colType),
			Quantity:    cell(colQuantity),
			Price:       cell(colPrice),
			Total:       cell(colTotal),
			Currency:    cell(colCurrency),
			Description: cell(colDescription),
		})
	}
	return rows
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func textDate(raw string) string {
	return utils.NormalizeDate(raw)
}
