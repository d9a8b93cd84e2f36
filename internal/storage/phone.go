package storage

import "strings"

// Peru country calling code; local mobile numbers have nine digits
const (
	countryCode    = "51"
	localNumberLen = 9
)

// NormalizePhone keeps only digits
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneVariants returns the digit strings a stored phone may match: the number as given,
// with or without the country code, and its last nine digits
func PhoneVariants(phone string) []string {
	n := NormalizePhone(phone)
	if n == "" {
		return nil
	}

	variants := []string{n}
	add := func(v string) {
		for _, existing := range variants {
			if existing == v {
				return
			}
		}
		variants = append(variants, v)
	}

	if strings.HasPrefix(n, countryCode) && len(n) >= localNumberLen+2 {
		add(n[len(countryCode):])
	}
	if !strings.HasPrefix(n, countryCode) && len(n) == localNumberLen {
		add(countryCode + n)
	}
	if len(n) >= localNumberLen {
		add(n[len(n)-localNumberLen:])
	}
	return variants
}

// PhoneMatches reports whether two phone strings refer to the same number
func PhoneMatches(stored, query string) bool {
	s := NormalizePhone(stored)
	if s == "" {
		return false
	}
	for _, v := range PhoneVariants(query) {
		if s == v || strings.HasSuffix(s, v) {
			return true
		}
	}
	return false
}
