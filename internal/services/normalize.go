package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/Lllllllleong/invoiceflow/internal/models"
	"github.com/shopspring/decimal"
)

// Categories accepted on an analysis. Anything else becomes "other".
var Categories = []string{"accommodation", "transport", "meals", "fuel", "parking", "other"}

var categorySynonyms = map[string]string{
	"hotel":          "accommodation",
	"lodging":        "accommodation",
	"hostel":         "accommodation",
	"restaurant":     "meals",
	"food":           "meals",
	"meal":           "meals",
	"catering":       "meals",
	"taxi":           "transport",
	"train":          "transport",
	"flight":         "transport",
	"airfare":        "transport",
	"transportation": "transport",
	"travel":         "transport",
	"gas":            "fuel",
	"petrol":         "fuel",
	"diesel":         "fuel",
	"garage":         "parking",
}

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// analysisReply is the object the extraction prompt asks for. Fields are raw
// because models return numbers as strings and strings as numbers.
type analysisReply struct {
	TotalAmount   json.RawMessage `json:"totalAmount"`
	TaxAmount     json.RawMessage `json:"taxAmount"`
	Currency      json.RawMessage `json:"currency"`
	InvoiceDate   json.RawMessage `json:"invoiceDate"`
	Merchant      json.RawMessage `json:"merchant"`
	InvoiceNumber json.RawMessage `json:"invoiceNumber"`
	Category      json.RawMessage `json:"category"`
}

// ParseAnalysis turns a raw model reply into a normalised analysis. Model,
// RawResponse and AnalyzedAt are left for the caller.
func ParseAnalysis(reply string) (*models.InvoiceAnalysis, error) {
	if err := checkRefusal(reply); err != nil {
		return nil, err
	}
	jsonString := extractJSONContent(reply)
	if jsonString == "" {
		return nil, fmt.Errorf("gemini reply contains no JSON object")
	}

	var raw analysisReply
	if err := json.Unmarshal([]byte(jsonString), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from model: %w", err)
	}

	total, totalHint := parseAmountField(raw.TotalAmount)
	tax, _ := parseAmountField(raw.TaxAmount)

	currency := NormalizeCurrency(rawText(raw.Currency))
	if currency == "" {
		currency = totalHint
	}
	date, _ := NormalizeDate(rawText(raw.InvoiceDate))

	return &models.InvoiceAnalysis{
		TotalAmount:   total,
		TaxAmount:     tax,
		Currency:      currency,
		InvoiceDate:   date,
		Merchant:      collapseSpaces(rawText(raw.Merchant)),
		InvoiceNumber: collapseSpaces(rawText(raw.InvoiceNumber)),
		Category:      NormalizeCategory(rawText(raw.Category)),
	}, nil
}

func checkRefusal(reply string) error {
	lower := strings.ToLower(reply)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return fmt.Errorf("gemini response indicates refusal")
		}
	}
	return nil
}

// extractJSONContent strips markdown fences and cuts the reply down to the
// outermost JSON object.
func extractJSONContent(reply string) string {
	clean := strings.TrimSpace(reply)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```JSON")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")

	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start < 0 || end < start {
		return ""
	}
	return clean[start : end+1]
}

// rawText renders a raw JSON value as text. null and missing values are "".
func rawText(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return ""
		}
		return strings.TrimSpace(str)
	}
	return s
}

// parseAmountField returns the rounded amount and any currency named next to it.
func parseAmountField(raw json.RawMessage) (*decimal.Decimal, string) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, ""
	}

	var (
		d    decimal.Decimal
		hint string
		err  error
	)
	if strings.HasPrefix(s, `"`) {
		text := rawText(raw)
		hint = NormalizeCurrency(text)
		d, err = ParseAmount(text)
	} else {
		// JSON number literals are exact and carry no thousands separators.
		d, err = decimal.NewFromString(s)
	}
	if err != nil {
		return nil, hint
	}
	d = d.Round(2)
	return &d, hint
}

// amountToken matches the first number in a string. Digit groups split by a
// space only continue the number when exactly three digits follow.
var amountToken = regexp.MustCompile(`-?\d(?:[\d.,'’]|[\s\x{00A0}\x{202F}]\d{3}\b)*`)

// ParseAmount reads the first amount in s, written with either decimal
// convention, e.g. "1.234,56 €", "$1,234.56", "CHF 1'234.50" or "42,5".
// Trailing text such as "(incl. 19% VAT)" is ignored.
func ParseAmount(s string) (decimal.Decimal, error) {
	token := amountToken.FindString(s)
	negative := strings.HasPrefix(token, "-")
	cleaned := strings.Map(func(r rune) rune {
		if r == '-' || r == '\'' || r == '’' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, token)
	cleaned = strings.Trim(cleaned, ".,")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("no digits in amount %q", s)
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// The separator that comes last is the decimal one.
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		cleaned = resolveSingleSeparator(cleaned, ",")
	case lastDot >= 0:
		cleaned = resolveSingleSeparator(cleaned, ".")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d.Round(2), nil
}

// resolveSingleSeparator handles strings with only one kind of separator. It
// is a thousands separator when repeated or followed by exactly three digits.
func resolveSingleSeparator(s, sep string) string {
	if strings.Count(s, sep) > 1 || len(s)-strings.LastIndex(s, sep)-1 == 3 {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}

var isoCurrencies = map[string]bool{
	"EUR": true, "USD": true, "GBP": true, "JPY": true, "CHF": true,
	"CAD": true, "AUD": true, "NZD": true, "HKD": true, "SGD": true,
	"SEK": true, "NOK": true, "DKK": true, "ISK": true, "PLN": true,
	"CZK": true, "HUF": true, "RON": true, "BGN": true, "TRY": true,
	"CNY": true, "INR": true, "KRW": true, "THB": true, "MYR": true,
	"IDR": true, "PHP": true, "TWD": true, "ILS": true, "AED": true,
	"SAR": true, "ZAR": true, "MXN": true, "BRL": true, "ARS": true,
	"CLP": true, "COP": true,
}

var (
	currencyWord = regexp.MustCompile(`\b[A-Z]{3}\b`)
	// Prefixed dollars come before the bare "$".
	currencySymbols = []struct{ symbol, code string }{
		{"US$", "USD"},
		{"CA$", "CAD"},
		{"AU$", "AUD"},
		{"A$", "AUD"},
		{"NZ$", "NZD"},
		{"HK$", "HKD"},
		{"€", "EUR"},
		{"£", "GBP"},
		{"¥", "JPY"},
		{"SFR.", "CHF"},
		{"FR.", "CHF"},
		{"$", "USD"},
	}
)

// NormalizeCurrency maps known ISO codes, symbols and a few spelled-out names
// to an ISO 4217 code. Unknown values, "TBD" included, yield "".
func NormalizeCurrency(s string) string {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if upper == "" {
		return ""
	}
	if isoCurrencies[upper] {
		return upper
	}
	switch upper {
	case "EURO", "EUROS":
		return "EUR"
	case "DOLLAR", "DOLLARS":
		return "USD"
	}
	for _, word := range currencyWord.FindAllString(upper, -1) {
		if isoCurrencies[word] {
			return word
		}
	}
	for _, cs := range currencySymbols {
		if strings.Contains(upper, cs.symbol) {
			return cs.code
		}
	}
	return ""
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	time.RFC3339,
	"2006/01/02",
	"02.01.2006",
	"2.1.2006",
	"02.01.06",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"01/02/2006",
	"1/2/2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"02 Jan 2006",
}

// NormalizeDate rewrites a date to YYYY-MM-DD. Slash dates are read day
// first and fall back to month first when that is impossible.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// NormalizeCategory constrains a category to Categories.
func NormalizeCategory(s string) string {
	c := strings.ToLower(strings.TrimSpace(s))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	if mapped, ok := categorySynonyms[c]; ok {
		return mapped
	}
	return "other"
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
