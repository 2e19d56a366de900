package policy

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/arcturusdc/orbit/models"
)

// RuleMetadataPII flags events whose free-form fields carry personal data
const RuleMetadataPII = "pii_in_metadata"

// PIIKind names a category of personal data
type PIIKind string

const (
	PIIKindEmail      PIIKind = "email"
	PIIKindPhone      PIIKind = "phone"
	PIIKindSSN        PIIKind = "ssn"
	PIIKindCreditCard PIIKind = "credit_card"
	PIIKindIPAddress  PIIKind = "ip_address"
)

var (
	emailPattern      = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	phonePattern      = regexp.MustCompile(`(?:^|[^0-9])(\+?1[-. ]?)?\(?[0-9]{3}\)?[-. ][0-9]{3}[-. ][0-9]{4}\b`)
	ssnPattern        = regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`)
	creditCardPattern = regexp.MustCompile(`\b(?:[0-9][ -]?){12,18}[0-9]\b`)
	ipv4Pattern       = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`)
)

// DetectPII returns the kinds of personal data found in s, in a stable order
func DetectPII(s string) []PIIKind {
	var kinds []PIIKind
	if emailPattern.MatchString(s) {
		kinds = append(kinds, PIIKindEmail)
	}
	if ssnPattern.MatchString(s) {
		kinds = append(kinds, PIIKindSSN)
	}
	for _, candidate := range creditCardPattern.FindAllString(s, -1) {
		if luhnValid(candidate) {
			kinds = append(kinds, PIIKindCreditCard)
			break
		}
	}
	if phonePattern.MatchString(s) {
		kinds = append(kinds, PIIKindPhone)
	}
	if ipv4Pattern.MatchString(s) {
		kinds = append(kinds, PIIKindIPAddress)
	}
	return kinds
}

// luhnValid checks a card number candidate, ignoring spaces and dashes
func luhnValid(candidate string) bool {
	digits := strings.NewReplacer(" ", "", "-", "").Replace(candidate)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// MetadataPIIRule flags personal data in the purpose and metadata of an event.
// Ledger entries cannot be erased, so such data outlives any later revocation.
// Matched values never appear in the alert.
type MetadataPIIRule struct{}

// Name implements Rule
func (MetadataPIIRule) Name() string { return RuleMetadataPII }

// Evaluate implements Rule
func (r MetadataPIIRule) Evaluate(_ context.Context, event *models.Event) (*models.Alert, error) {
	found := map[string][]PIIKind{}
	if kinds := DetectPII(event.Purpose); len(kinds) > 0 {
		found["purpose"] = kinds
	}
	scanValue("metadata", event.Metadata, found)
	if len(found) == 0 {
		return nil, nil
	}

	fields := make([]string, 0, len(found))
	seen := map[PIIKind]bool{}
	var kinds []string
	for field, fieldKinds := range found {
		fields = append(fields, field)
		for _, kind := range fieldKinds {
			if !seen[kind] {
				seen[kind] = true
				kinds = append(kinds, string(kind))
			}
		}
	}
	sort.Strings(fields)
	sort.Strings(kinds)

	message := fmt.Sprintf("personal data (%s) found in %s", strings.Join(kinds, ", "), strings.Join(fields, ", "))
	return models.NewAlert(event, r.Name(), models.AlertSeverityHigh, message).
		WithDetails(map[string]interface{}{
			"fields": fields,
			"kinds":  kinds,
		}), nil
}

// scanValue walks decoded JSON and records the kinds found under each leaf path
func scanValue(path string, value interface{}, found map[string][]PIIKind) {
	switch v := value.(type) {
	case string:
		if kinds := DetectPII(v); len(kinds) > 0 {
			found[path] = kinds
		}
	case map[string]interface{}:
		for key, child := range v {
			scanValue(path+"."+key, child, found)
		}
	case []interface{}:
		for i, child := range v {
			scanValue(fmt.Sprintf("%s[%d]", path, i), child, found)
		}
	}
}
