package internal

import (
	"strconv"
	"strings"
)

// Version is reported by /healthz and compared by the terminal client.
const Version = "0.3.0"

// CompareVersions compares two dotted versions numerically.
// Returns 1 if v1 > v2, -1 if v1 < v2, 0 if equal. A leading "v" is ignored.
func CompareVersions(v1, v2 string) int {
	a := strings.Split(strings.TrimPrefix(v1, "v"), ".")
	b := strings.Split(strings.TrimPrefix(v2, "v"), ".")
	for i := 0; i < len(a) || i < len(b); i++ {
		x, y := versionPart(a, i), versionPart(b, i)
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

func versionPart(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	digits := parts[i]
	if cut := strings.IndexAny(digits, "-+"); cut >= 0 {
		digits = digits[:cut]
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}
