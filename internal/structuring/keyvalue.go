package structuring

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// keyValuePatterns are tried in order; the first match wins
var keyValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^([A-Za-z\s]+):\s*(.+)$`),
	regexp.MustCompile(`^([A-Za-z\s]+)\s*-\s*(.+)$`),
	regexp.MustCompile(`^([A-Za-z\s]+)\s{2,}(.+)$`),
}

var valueCleaner = strings.NewReplacer(",", "", "$", "", "€", "", "£", "")

// ExtractKeyValues finds "label: value" style pairs, one per line. Later
// occurrences of a key replace earlier ones.
func ExtractKeyValues(text string) map[string]interface{} {
	out := make(map[string]interface{})
	for _, line := range strings.Split(text, "\n") {
		if key, value, ok := parseKeyValue(strings.TrimSpace(line)); ok {
			out[key] = value
		}
	}
	return out
}

func parseKeyValue(line string) (string, interface{}, bool) {
	for _, p := range keyValuePatterns {
		m := p.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		// every inner space becomes one underscore; runs are not collapsed
		key := strings.ReplaceAll(strings.TrimSpace(strings.ToLower(m[1])), " ", "_")
		if key == "" {
			continue
		}
		return key, CoerceValue(strings.TrimSpace(m[2])), true
	}
	return "", nil, false
}

// CoerceValue turns a value string into a bool, int64 or float64 when it
// reads as one, and returns it unchanged otherwise.
func CoerceValue(value string) interface{} {
	switch strings.ToLower(value) {
	case "yes", "true", "y":
		return true
	case "no", "false", "n":
		return false
	}

	clean := valueCleaner.Replace(value)
	if strings.Contains(clean, ".") {
		if f, err := strconv.ParseFloat(clean, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return f
		}
		return value
	}
	if n, err := strconv.ParseInt(clean, 10, 64); err == nil {
		return n
	}
	return value
}
