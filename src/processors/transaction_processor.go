package processors

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/carteira/src/model"
	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/security/validation"
)

const (
	MaxAccountNameLength    = 255
	MaxInstrumentCodeLength = 50
	MaxDescriptionLength    = validation.MaxDescriptionLength
)

// SignedQuantity applies the sign convention of t to a positive quantity:
// buy, deposit, dividend and interest add to a balance, sell and withdrawal subtract.
func SignedQuantity(t models.TransactionType, quantity decimal.Decimal) decimal.Decimal {
	switch t {
	case models.TransactionSell, models.TransactionWithdrawal:
		return quantity.Neg()
	default:
		return quantity
	}
}

// ParseTransactionType accepts any casing and surrounding whitespace.
func ParseTransactionType(raw string) (models.TransactionType, error) {
	t := models.TransactionType(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case models.TransactionBuy, models.TransactionSell, models.TransactionDeposit,
		models.TransactionWithdrawal, models.TransactionDividend, models.TransactionInterest:
		return t, nil
	}
	return "", fmt.Errorf("%w: invalid transaction type '%s' (expected buy, sell, deposit, withdrawal, dividend or interest)", validation.ErrValidationFailed, raw)
}

// TransactionProcessor validates client input and turns it into a ledger row.
// Nothing it does touches storage.
type TransactionProcessor struct {
	defaultCurrency string
	now             func() time.Time
}

func NewTransactionProcessor(defaultCurrency string) *TransactionProcessor {
	if defaultCurrency == "" {
		defaultCurrency = "ARS"
	}
	return &TransactionProcessor{defaultCurrency: strings.ToUpper(defaultCurrency), now: time.Now}
}

// Normalize validates in and builds the transaction it describes. The
// returned row has no id, owner or creation time yet.
func (p *TransactionProcessor) Normalize(in models.TransactionInput) (*models.Transaction, error) {
	account := validation.SanitizeName(in.AccountName)
	if err := validation.ValidateStringNotEmpty(account, "accountName"); err != nil {
		return nil, err
	}
	if err := validation.ValidateStringMaxLength(account, MaxAccountNameLength, "accountName"); err != nil {
		return nil, err
	}

	instrument := strings.TrimSpace(in.InstrumentCode)
	if err := validation.ValidateStringNotEmpty(instrument, "instrumentCode"); err != nil {
		return nil, err
	}
	if err := validation.ValidateStringMaxLength(instrument, MaxInstrumentCodeLength, "instrumentCode"); err != nil {
		return nil, err
	}

	txType, err := ParseTransactionType(in.Type)
	if err != nil {
		return nil, err
	}

	if err := validation.ValidatePositiveDecimal(in.Quantity, "quantity"); err != nil {
		return nil, err
	}
	quantity := in.Quantity.Round(model.QuantityScale)
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be greater than zero", validation.ErrValidationFailed)
	}

	var price, total decimal.NullDecimal
	if in.Price != nil {
		if err := validation.ValidatePositiveDecimal(*in.Price, "price"); err != nil {
			return nil, err
		}
		price = decimal.NewNullDecimal(*in.Price)
	}
	if in.Total != nil {
		if err := validation.ValidatePositiveDecimal(*in.Total, "total"); err != nil {
			return nil, err
		}
		total = decimal.NewNullDecimal(*in.Total)
	} else if price.Valid {
		total = decimal.NewNullDecimal(price.Decimal.Mul(quantity))
	}

	date := strings.TrimSpace(in.Date)
	if date == "" {
		date = p.now().Format(model.DateLayout)
	} else if err := validation.ValidateDate(date, "date"); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = p.defaultCurrency
	} else if err := validation.ValidateCurrencyCode(currency, "currency"); err != nil {
		return nil, err
	}

	var description *string
	if d := validation.StripUnprintable(validation.SanitizeName(in.Description)); d != "" {
		if err := validation.ValidateStringMaxLength(d, MaxDescriptionLength, "description"); err != nil {
			return nil, err
		}
		description = &d
	}

	return &models.Transaction{
		AccountName:     account,
		InstrumentCode:  instrument,
		TransactionDate: date,
		TransactionType: txType,
		Quantity:        quantity,
		Price:           price,
		TotalAmount:     total,
		CurrencyCode:    currency,
		Description:     description,
	}, nil
}

// InputFromImportRow converts the raw cells of a spreadsheet row into a
// TransactionInput. Number cells accept both "1234.5" and "1.234,5".
func InputFromImportRow(row models.ImportRow) (models.TransactionInput, error) {
	in := models.TransactionInput{
		AccountName:    row.Account,
		InstrumentCode: row.Instrument,
		Type:           row.Type,
		Date:           row.Date,
		Currency:       row.Currency,
		Description:    row.Description,
	}

	if strings.TrimSpace(row.Quantity) == "" {
		return in, fmt.Errorf("%w: quantity is required", validation.ErrValidationFailed)
	}
	qty, err := ParseDecimal(row.Quantity)
	if err != nil {
		return in, fmt.Errorf("%w: quantity '%s' is not a number", validation.ErrValidationFailed, row.Quantity)
	}
	in.Quantity = qty

	if strings.TrimSpace(row.Price) != "" {
		price, err := ParseDecimal(row.Price)
		if err != nil {
			return in, fmt.Errorf("%w: price '%s' is not a number", validation.ErrValidationFailed, row.Price)
		}
		in.Price = &price
	}
	if strings.TrimSpace(row.Total) != "" {
		total, err := ParseDecimal(row.Total)
		if err != nil {
			return in, fmt.Errorf("%w: total '%s' is not a number", validation.ErrValidationFailed, row.Total)
		}
		in.Total = &total
	}
	return in, nil
}

// ParseDecimal parses a number written with either '.' or ',' as the decimal
// separator. When both appear, the last one is the decimal separator.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "")
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastDot > lastComma && lastComma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	}
	return decimal.NewFromString(s)
}
