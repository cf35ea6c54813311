package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/username/carteira/src/logger"
)

// formulaInjectionPrefixRegex matches cells that a spreadsheet would evaluate.
// A leading '-' is left out because negative numbers start with it.
var formulaInjectionPrefixRegex = regexp.MustCompile(`^[=+@\t\r]`)

func truncateForLog(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// CheckFormulaInjection rejects text cells that start with a formula trigger,
// so an imported description cannot become a live formula when exported again.
func CheckFormulaInjection(s, fieldName, contextID string) error {
	if formulaInjectionPrefixRegex.MatchString(strings.TrimSpace(s)) {
		errMsg := fmt.Sprintf("potential formula injection pattern detected in field '%s'", fieldName)
		logger.L.Warn(errMsg, "contextID", contextID, "contentPreview", truncateForLog(s, 50))
		return fmt.Errorf("%w: %s", ErrValidationFailed, errMsg)
	}
	return nil
}
