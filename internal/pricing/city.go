package pricing

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ShippingTier groups destination cities that share a base fee.
type ShippingTier string

const (
	TierMetroA ShippingTier = "metro_a"
	TierMetroB ShippingTier = "metro_b"
	TierOther  ShippingTier = "other"
)

var cityTiers = map[string]ShippingTier{
	"ha noi":      TierMetroA,
	"hanoi":       TierMetroA,
	"hn":          TierMetroA,
	"ho chi minh": TierMetroB,
	"hcm":         TierMetroB,
	"hcmc":        TierMetroB,
	"sai gon":     TierMetroB,
	"saigon":      TierMetroB,
}

var cityPrefixes = []string{"thanh pho ", "tinh ", "tp "}

// NormalizeCity folds a free-text city name into a lookup code: diacritics
// removed, lower case, punctuation collapsed to single spaces and the
// administrative prefix dropped.
func NormalizeCity(city string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		city,
	)
	if err != nil {
		folded = city
	}
	folded = strings.NewReplacer("đ", "d", "Đ", "d").Replace(folded)
	folded = strings.ToLower(folded)

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	code := strings.Join(fields, " ")
	for _, prefix := range cityPrefixes {
		if strings.HasPrefix(code, prefix) {
			code = strings.TrimPrefix(code, prefix)
			break
		}
	}
	if code == "tphcm" {
		code = "hcm"
	}
	return code
}

// TierForCity resolves the shipping tier by exact code lookup.
func TierForCity(city string) ShippingTier {
	if tier, ok := cityTiers[NormalizeCity(city)]; ok {
		return tier
	}
	return TierOther
}
