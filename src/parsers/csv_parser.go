package parsers

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/username/carteira/src/models"
)

// CSVParser reads comma or semicolon separated files with a header row.
type CSVParser struct{}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(file io.Reader) ([]models.ImportRow, error) {
	br := bufio.NewReader(file)
	firstLine, _ := br.Peek(4096)

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.Comma = detectDelimiter(firstLine)

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, layoutErrorf("file has no header row")
		}
		return nil, fmt.Errorf("csv parser: failed to read CSV header: %w", err)
	}
	idx, err := headerIndex(header)
	if err != nil {
		return nil, fmt.Errorf("csv parser: %w", err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv parser: failed to read CSV records: %w", err)
	}
	return buildRows(idx, records, textDate), nil
}

// detectDelimiter looks at the header line: spreadsheets in comma-decimal
// locales export with ';'.
func detectDelimiter(head []byte) rune {
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if bytes.Count(head, []byte{';'}) > bytes.Count(head, []byte{','}) {
		return ';'
	}
	return ','
}
