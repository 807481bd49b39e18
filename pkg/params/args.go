package params

import (
	"encoding/json"
	"strings"
)

// Arguments renders a parameter mapping as the space-separated "--name value"
// string handed to the analysis container. Rules:
//
//   - keys are emitted in declaration order
//   - empty sequences and falsy scalars (false, 0, "", null) are omitted
//   - a true boolean emits the bare flag with no value
//   - sequence values are joined with single spaces after one "--name"
//
// No quoting or escaping is performed; callers supplying values containing
// whitespace must pre-encode them.
func Arguments(m *Map) string {
	if m == nil {
		return ""
	}
	var tokens []string
	for _, key := range m.keys {
		value := m.values[key]
		switch v := value.(type) {
		case nil:
			continue
		case bool:
			if v {
				tokens = append(tokens, "--"+key)
			}
		case string:
			if v != "" {
				tokens = append(tokens, "--"+key+" "+v)
			}
		case json.Number:
			if f, err := v.Float64(); err == nil && f == 0 {
				continue
			}
			tokens = append(tokens, "--"+key+" "+v.String())
		case []any:
			if len(v) == 0 {
				continue
			}
			parts := make([]string, len(v))
			for i, el := range v {
				parts[i] = scalarString(el)
			}
			tokens = append(tokens, "--"+key+" "+strings.Join(parts, " "))
		default:
			tokens = append(tokens, "--"+key+" "+scalarString(v))
		}
	}
	return strings.Join(tokens, " ")
}
