package config

import (
	"fmt"
	"strconv"
	"strings"
)

// CreditPacks maps a Stripe price ID to the credits it buys.
type CreditPacks map[string]int64

// ParseCreditPacks parses "price_abc:100,price_def:500".
// An empty string yields an empty set.
func ParseCreditPacks(s string) (CreditPacks, error) {
	packs := CreditPacks{}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		priceID, credits, ok := strings.Cut(entry, ":")
		if !ok || priceID == "" {
			return nil, fmt.Errorf("CREDIT_PACKS entry %q must be price_id:credits", entry)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(credits), 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CREDIT_PACKS entry %q must have a positive credit amount", entry)
		}
		packs[strings.TrimSpace(priceID)] = n
	}
	return packs, nil
}

// Credits returns the credits for a price, or 0 if the price is unknown.
func (p CreditPacks) Credits(priceID string) int64 {
	return p[priceID]
}
