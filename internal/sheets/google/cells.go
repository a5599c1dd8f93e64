package google

import (
	"fmt"
	"strconv"
	"strings"
)

// toStrings renders one row of unformatted API values as raw cell text.
func toStrings(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = cellString(v)
	}
	return out
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(x)
	}
}

// sheetName extracts the sheet from an A1 range such as 'Budget 2025'!A1:N60.
func sheetName(a1 string) string {
	name, _, found := strings.Cut(a1, "!")
	if !found {
		name = a1
	}
	if len(name) >= 2 && strings.HasPrefix(name, "'") && strings.HasSuffix(name, "'") {
		name = strings.ReplaceAll(name[1:len(name)-1], "''", "'")
	}
	return name
}

// quoteSheet renders a sheet title as an A1 range covering the whole sheet.
func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
