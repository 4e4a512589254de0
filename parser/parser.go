package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/go-price-graph/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrMissingID is returned when a catalog row has no usable identifier.
	ErrMissingID = errors.New("missing catalog id")
	// ErrNoDigits is returned for price text without any amount.
	ErrNoDigits = errors.New("no digits in price text")
	// ErrMalformedPrice is returned when separators or characters do not form an amount.
	ErrMalformedPrice = errors.New("malformed price amount")
	// ErrAmbiguousPrice is returned when a lone separator could be either a
	// decimal mark or a thousands separator.
	ErrAmbiguousPrice = errors.New("ambiguous price separator")
)

// ExtractionError reports a catalog row that could not be turned into a record.
type ExtractionError struct {
	Field string
	Value string
	Err   error
}

func (e ExtractionError) Error() string {
	if e.Value == "" {
		return fmt.Errorf("extract %s: %w", e.Field, e.Err).Error()
	}
	return fmt.Errorf("extract %s from %q: %w", e.Field, e.Value, e.Err).Error()
}

func (e ExtractionError) Unwrap() error {
	return e.Err
}

// ValidateRecord ensures the extractor produced a usable record.
func ValidateRecord(r *models.CatalogRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.ID) == "" {
		return ExtractionError{Field: "id", Err: ErrMissingID}
	}
	if amount, ok := r.Price.Amount(); ok && amount.IsNegative() {
		return ExtractionError{Field: "price", Value: amount.String(), Err: fmt.Errorf("negative price")}
	}
	return nil
}

// IsFreeText reports whether a price node's text marks the item as free.
func IsFreeText(text string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), "free")
}

// ParsePrice strips the currency symbol and surrounding characters and
// parses the remaining amount. The last separator in the text is the
// decimal mark when both "," and "." appear; a lone separator followed by
// exactly three digits is ambiguous and rejected.
func ParsePrice(text string) (models.Price, error) {
	raw := text
	text = strings.TrimLeftFunc(text, func(r rune) bool { return !isASCIIDigit(r) && !isSeparator(r) })
	text = strings.TrimRightFunc(text, func(r rune) bool { return !isASCIIDigit(r) })
	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	if text == "" {
		return models.Unknown(), ExtractionError{Field: "price", Value: raw, Err: ErrNoDigits}
	}

	normalized, err := normalizeSeparators(text)
	if err != nil {
		return models.Unknown(), ExtractionError{Field: "price", Value: raw, Err: err}
	}
	amount, err := decimal.NewFromString(normalized)
	if err != nil {
		return models.Unknown(), ExtractionError{Field: "price", Value: raw, Err: err}
	}
	return models.NewPrice(amount), nil
}

func isASCIIDigit(r rune) bool { return r >= '0' && r <= '9' }

func isSeparator(r rune) bool { return r == '.' || r == ',' }

// normalizeSeparators turns "1,299.00", "1.234,56" and "9,99" into plain
// decimals.
func normalizeSeparators(text string) (string, error) {
	for _, r := range text {
		if !isASCIIDigit(r) && !isSeparator(r) {
			return "", ErrMalformedPrice
		}
	}

	lastDot := strings.LastIndexByte(text, '.')
	lastComma := strings.LastIndexByte(text, ',')
	var mark, group byte
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			mark, group = '.', ','
		} else {
			mark, group = ',', '.'
		}
	case lastDot >= 0 || lastComma >= 0:
		sep := byte('.')
		if lastComma >= 0 {
			sep = ','
		}
		if strings.Count(text, string(sep)) > 1 {
			group = sep
			break
		}
		idx := strings.IndexByte(text, sep)
		if idx > 0 && len(text)-idx-1 == 3 {
			return "", ErrAmbiguousPrice
		}
		mark = sep
	default:
		return text, nil
	}

	intPart, frac := text, ""
	if mark != 0 {
		idx := strings.LastIndexByte(text, mark)
		intPart, frac = text[:idx], text[idx+1:]
		if frac == "" || strings.IndexByte(intPart, mark) >= 0 {
			return "", ErrMalformedPrice
		}
	}
	if group != 0 {
		groups := strings.Split(intPart, string(group))
		if len(groups[0]) < 1 || len(groups[0]) > 3 {
			return "", ErrMalformedPrice
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return "", ErrMalformedPrice
			}
		}
		intPart = strings.Join(groups, "")
	}
	if intPart == "" {
		intPart = "0"
	}
	if frac == "" {
		return intPart, nil
	}
	return intPart + "." + frac, nil
}

// ParseQualityScore parses a score badge. Empty text means no score.
func ParseQualityScore(text string) (*int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	score, err := strconv.Atoi(text)
	if err != nil {
		return nil, ExtractionError{Field: "quality_score", Value: text, Err: err}
	}
	return &score, nil
}

// ItemIDFromHref extracts the catalog id captured by pattern from a link.
func ItemIDFromHref(pattern *regexp.Regexp, href string) (string, error) {
	m := pattern.FindStringSubmatch(href)
	if len(m) < 2 || strings.TrimSpace(m[1]) == "" {
		return "", ExtractionError{Field: "id", Value: href, Err: ErrMissingID}
	}
	return m[1], nil
}
