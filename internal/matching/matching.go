// Package matching resolves tracking numbers typed by buyers or scanned at the warehouse to
// registered parcels.
//
// Rules:
//   - comparison is case-insensitive and ignores surrounding whitespace;
//   - when either number has at least 12 characters, only the last 12 characters are compared,
//     so carrier prefixes (e.g. "420" + ZIP on USPS labels) do not break the match;
//   - shorter numbers must match exactly;
//   - when no tracking number matches, a parcel whose alternative reference (Walmart order ref)
//     equals the query is used instead.
package matching

import (
	"strings"

	"github.com/BearBump/ParcelBox/internal/models"
)

const SuffixLen = 12

func Normalize(tn string) string {
	return strings.ToLower(strings.TrimSpace(tn))
}

// Key is the comparison key of a tracking number: its last SuffixLen characters, counted in
// runes as Postgres right() counts them.
func Key(tn string) string {
	n := []rune(Normalize(tn))
	if len(n) > SuffixLen {
		return string(n[len(n)-SuffixLen:])
	}
	return string(n)
}

func Match(a, b string) bool {
	ka, kb := Key(a), Key(b)
	return ka != "" && ka == kb
}

// Resolve picks the parcels matching query out of candidates. Tracking-number matches win over
// alternative-ref matches; deleted parcels never match.
func Resolve(query string, candidates []*models.Parcel) []*models.Parcel {
	var byTN, byRef []*models.Parcel
	ref := Normalize(query)
	for _, p := range candidates {
		if p == nil || p.Deleted() {
			continue
		}
		switch {
		case Match(query, p.TrackingNumber):
			byTN = append(byTN, p)
		case ref != "" && p.AlternativeRef != nil && Normalize(*p.AlternativeRef) == ref:
			byRef = append(byRef, p)
		}
	}
	if len(byTN) > 0 {
		return byTN
	}
	return byRef
}
