package parsers

import (
	"fmt"
	"io"
	"strconv"

	"github.com/username/carteira/src/models"
	"github.com/xuri/excelize/v2"
)

// XLSXParser reads the first worksheet of an .xlsx workbook.
type XLSXParser struct{}

func NewXLSXParser() *XLSXParser {
	return &XLSXParser{}
}

func (p *XLSXParser) Parse(file io.Reader) ([]models.ImportRow, error) {
	wb, err := excelize.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("xlsx parser: failed to open workbook: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, layoutErrorf("workbook has no sheets")
	}

	// Raw values keep date cells as serial numbers instead of a
	// locale-dependent display format.
	records, err := wb.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("xlsx parser: failed to read sheet %q: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return nil, layoutErrorf("sheet %q is empty", sheets[0])
	}

	idx, err := headerIndex(records[0])
	if err != nil {
		return nil, fmt.Errorf("xlsx parser: %w", err)
	}
	return buildRows(idx, records[1:], xlsxDate), nil
}

// xlsxDate converts an Excel serial date to YYYY-MM-DD; text dates go
// through the usual normalization.
func xlsxDate(raw string) string {
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return textDate(raw)
}
