package domain

import "strings"

const (
	pairingCodeGroupSize = 4
	pairingCodeSeparator = "-"
)

// FormatPairingCode groups raw into runs of four characters joined by a
// hyphen. A length that is not a multiple of four leaves a shorter final
// group.
func FormatPairingCode(raw string) string {
	code := strings.TrimSpace(raw)
	if len(code) <= pairingCodeGroupSize {
		return code
	}

	groups := make([]string, 0, (len(code)+pairingCodeGroupSize-1)/pairingCodeGroupSize)
	for start := 0; start < len(code); start += pairingCodeGroupSize {
		end := min(start+pairingCodeGroupSize, len(code))
		groups = append(groups, code[start:end])
	}

	return strings.Join(groups, pairingCodeSeparator)
}
