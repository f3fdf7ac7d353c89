package prompt

import (
	"regexp"
	"sort"
	"strings"
)

// PIIType represents different types of PII that can be detected
type PIIType string

const (
	PIITypeEmail      PIIType = "email"
	PIITypePhone      PIIType = "phone"
	PIITypeSSN        PIIType = "ssn"
	PIITypeCreditCard PIIType = "credit_card"
	PIITypeIPAddress  PIIType = "ip_address"
)

// Location records one PII match inside the scanned text
type Location struct {
	Type  PIIType `json:"type"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Value string  `json:"value"`
}

// Detection is the result of one scan
type Detection struct {
	Detected     bool       `json:"detected"`
	RedactedText string     `json:"redacted_text"`
	Types        []PIIType  `json:"pii_types"`
	Locations    []Location `json:"locations"`
}

var (
	// Email pattern - RFC 5322 simplified
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Z|a-z]{2,}\b`)

	// Phone pattern - US formats with optional country code. No leading \b:
	// "(" is not a word character, so a boundary there rejects "(555) 123-4567".
	phonePattern = regexp.MustCompile(`(\+?1[\s.-]?)?\(?([0-9]{3})\)?[\s.-]?([0-9]{3})[\s.-]?([0-9]{4})\b`)

	// SSN pattern - XXX-XX-XXXX
	ssnPattern = regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`)

	// Credit card patterns - major card types
	creditCardPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b4[0-9]{12}(?:[0-9]{3})?\b`),      // Visa
		regexp.MustCompile(`\b5[1-5][0-9]{14}\b`),              // MasterCard
		regexp.MustCompile(`\b3[47][0-9]{13}\b`),               // American Express
		regexp.MustCompile(`\b6(?:011|5[0-9]{2})[0-9]{12}\b`),  // Discover
	}

	// IPv4 pattern
	ipPattern = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`)
)

// Detector scans text for PII and masks matches in place
type Detector struct {
	redactionChar string
}

// NewDetector creates a detector masking matches with the given character
func NewDetector(redactionChar string) *Detector {
	if redactionChar == "" {
		redactionChar = "*"
	}
	return &Detector{redactionChar: redactionChar}
}

// DetectAndRedact scans text and returns it with every match replaced by a
// mask of the same length, so surrounding positions are preserved.
func (d *Detector) DetectAndRedact(text string) Detection {
	var locations []Location

	appendMatches := func(piiType PIIType, pattern *regexp.Regexp) {
		for _, match := range pattern.FindAllStringIndex(text, -1) {
			locations = append(locations, Location{
				Type:  piiType,
				Start: match[0],
				End:   match[1],
				Value: text[match[0]:match[1]],
			})
		}
	}

	appendMatches(PIITypeEmail, emailPattern)
	appendMatches(PIITypePhone, phonePattern)
	appendMatches(PIITypeSSN, ssnPattern)
	appendMatches(PIITypeIPAddress, ipPattern)

	for _, pattern := range creditCardPatterns {
		for _, match := range pattern.FindAllStringIndex(text, -1) {
			value := text[match[0]:match[1]]
			if !luhnCheck(value) {
				continue
			}
			locations = append(locations, Location{
				Type:  PIITypeCreditCard,
				Start: match[0],
				End:   match[1],
				Value: value,
			})
		}
	}

	// redact back-to-front so earlier indices stay valid
	ordered := make([]Location, len(locations))
	copy(ordered, locations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	redacted := text
	for _, loc := range ordered {
		mask := strings.Repeat(d.redactionChar, loc.End-loc.Start)
		redacted = redacted[:loc.Start] + mask + redacted[loc.End:]
	}

	return Detection{
		Detected:     len(locations) > 0,
		RedactedText: redacted,
		Types:        distinctTypes(locations),
		Locations:    locations,
	}
}

func distinctTypes(locations []Location) []PIIType {
	seen := make(map[PIIType]struct{})
	var types []PIIType
	for _, loc := range locations {
		if _, ok := seen[loc.Type]; ok {
			continue
		}
		seen[loc.Type] = struct{}{}
		types = append(types, loc.Type)
	}
	return types
}

// luhnCheck validates a credit card number using the Luhn algorithm
func luhnCheck(cardNumber string) bool {
	cardNumber = strings.ReplaceAll(cardNumber, " ", "")
	cardNumber = strings.ReplaceAll(cardNumber, "-", "")

	if len(cardNumber) < 13 || len(cardNumber) > 19 {
		return false
	}

	sum := 0
	isSecond := false
	for i := len(cardNumber) - 1; i >= 0; i-- {
		digit := int(cardNumber[i] - '0')
		if isSecond {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		isSecond = !isSecond
	}
	return sum%10 == 0
}
