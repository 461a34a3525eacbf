package installment

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/boddenberg/fatura-engine/internal/classify"
	"github.com/boddenberg/fatura-engine/internal/domain"
)

// MaxInstallments bounds what is accepted as an installment count.
const MaxInstallments = 99

var (
	// "PARC 03/12", "Parcela 3 de 12", "PARC.3/12", "parcelas 2 of 6"
	prefixedMarker = regexp.MustCompile(`(?i)\bparc(?:ela)?s?\.?\s*(\d{1,2})\s*(?:/|\bde\b|\bof\b)\s*(\d{1,2})\b`)
	// "NETSHOES 03/12" at the very end of the description
	trailingMarker = regexp.MustCompile(`(?:^|[\s\-])(\d{1,2})\s*/\s*(\d{1,2})\s*$`)
)

// ExtractInstallmentInfo reads the installment marker of tx, preferring the
// aggregator's structured fields over description parsing.
func ExtractInstallmentInfo(tx domain.Transaction) (domain.InstallmentInfo, bool) {
	return Extract(tx.Description, tx.InstallmentNumber, tx.TotalInstallments)
}

// Extract resolves an installment marker from structured fields or text.
func Extract(description string, number, total int) (domain.InstallmentInfo, bool) {
	if info := (domain.InstallmentInfo{Current: number, Total: total}); valid(info) {
		return info, true
	}
	if _, info, ok := findMarker(description); ok {
		return info, true
	}
	return domain.InstallmentInfo{}, false
}

func valid(info domain.InstallmentInfo) bool {
	return info.Total >= 2 && info.Total <= MaxInstallments &&
		info.Current >= 1 && info.Current <= info.Total
}

// findMarker returns the byte range of the marker in description.
func findMarker(description string) ([2]int, domain.InstallmentInfo, bool) {
	for _, re := range []*regexp.Regexp{prefixedMarker, trailingMarker} {
		m := re.FindStringSubmatchIndex(description)
		if m == nil {
			continue
		}
		cur, _ := strconv.Atoi(description[m[2]:m[3]])
		tot, _ := strconv.Atoi(description[m[4]:m[5]])
		info := domain.InstallmentInfo{Current: cur, Total: tot}
		if valid(info) {
			return [2]int{m[0], m[1]}, info, true
		}
	}
	return [2]int{}, domain.InstallmentInfo{}, false
}

// StripMarker removes the installment marker, leaving the merchant text.
func StripMarker(description string) string {
	if span, _, ok := findMarker(description); ok {
		description = description[:span[0]] + " " + description[span[1]:]
	}
	return strings.Trim(strings.TrimSpace(description), "-* ")
}

// MerchantRoot is the normalized merchant text used to group installments.
func MerchantRoot(description string) string {
	return classify.Normalize(StripMarker(description))
}
