package pkg

import (
	"strconv"
	"strings"
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
