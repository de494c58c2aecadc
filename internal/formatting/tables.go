package formatting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var tableSeparatorRe = regexp.MustCompile(`\|?\s*:?-+:?\s*\|`)

// IsMarkdownTable reports whether code contains a header separator row.
func IsMarkdownTable(code string) bool {
	if strings.TrimSpace(code) == "" {
		return false
	}
	return tableSeparatorRe.MatchString(code)
}

// ConvertToTable renders raw JSON data as a markdown table:
//   - missing or null data: an error table naming the caption
//   - an empty array: a single caption column with "No data"
//   - an array of objects: one column per key of the first object, in document order
//   - an array of scalars: a single Value column
//   - an object: Property / Value rows in document order
//   - a scalar: a single Value row
func ConvertToTable(raw json.RawMessage, caption string) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`)) {
		return fmt.Sprintf("| Error | \n|---| \n| No data available for %s |", caption)
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return scalarTable(trimmed)
		}
		if len(items) == 0 {
			return fmt.Sprintf("| %s | \n|---| \n| No data |", caption)
		}
		first, ok := decodeOrdered(items[0])
		if !ok {
			rows := make([]string, len(items))
			for i, it := range items {
				rows[i] = "| " + cell(it) + " |"
			}
			return "| Value |\n| --- |\n" + strings.Join(rows, "\n")
		}
		headers := first.keys
		sep := make([]string, len(headers))
		for i := range sep {
			sep[i] = "---"
		}
		lines := []string{
			"| " + strings.Join(escapeAll(headers), " | ") + " |",
			"| " + strings.Join(sep, " | ") + " |",
		}
		for _, it := range items {
			rec, _ := decodeOrdered(it)
			cells := make([]string, len(headers))
			for i, h := range headers {
				cells[i] = cell(rec.values[h])
			}
			lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
		}
		return strings.Join(lines, "\n")
	case '{':
		obj, ok := decodeOrdered(trimmed)
		if !ok {
			return scalarTable(trimmed)
		}
		rows := make([]string, 0, len(obj.keys))
		for _, k := range obj.keys {
			rows = append(rows, fmt.Sprintf("| %s | %s |", escapeCell(k), cell(obj.values[k])))
		}
		return "| Property | Value |\n|---|---|\n" + strings.Join(rows, "\n")
	default:
		return scalarTable(trimmed)
	}
}

// DataPoints counts the elements of an array or the keys of an object.
// Anything else has zero data points.
func DataPoints(raw json.RawMessage) int {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if json.Unmarshal(trimmed, &items) == nil {
			return len(items)
		}
	case '{':
		var obj map[string]json.RawMessage
		if json.Unmarshal(trimmed, &obj) == nil {
			return len(obj)
		}
	}
	return 0
}

func scalarTable(raw json.RawMessage) string {
	return "| Value |\n|---|\n| " + cell(raw) + " |"
}

type orderedObject struct {
	keys   []string
	values map[string]json.RawMessage
}

// decodeOrdered decodes a JSON object keeping its key order. Later duplicates
// overwrite the value but keep the first position.
func decodeOrdered(raw json.RawMessage) (orderedObject, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return orderedObject{}, false
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return orderedObject{}, false
	}
	obj := orderedObject{values: map[string]json.RawMessage{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return orderedObject{}, false
		}
		key, ok := tok.(string)
		if !ok {
			return orderedObject{}, false
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return orderedObject{}, false
		}
		if _, seen := obj.values[key]; !seen {
			obj.keys = append(obj.keys, key)
		}
		obj.values[key] = val
	}
	return obj, true
}

// cell renders a JSON value for a table cell. Strings are unquoted, null and
// missing values are blank, nested values stay compact JSON.
func cell(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if json.Unmarshal(trimmed, &s) == nil {
			return escapeCell(s)
		}
	}
	var compact bytes.Buffer
	if json.Compact(&compact, trimmed) == nil {
		return escapeCell(compact.String())
	}
	return escapeCell(string(trimmed))
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func escapeAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = escapeCell(s)
	}
	return out
}
