package intake

// RepairJSON applies best-effort fixes to loosely-typed payloads before they
// are unmarshalled: partner integrations occasionally emit Python-style
// literals (True/False/None) and trailing commas. The repair only touches
// bytes outside string literals; anything it cannot fix is left for the
// decoder to reject.
func RepairJSON(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	inString := false
	escaped := false

	for i := 0; i < len(raw); i++ {
		c := raw[i]

		if inString {
			out = append(out, c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			out = append(out, c)

		case c == ',':
			// Drop the comma when the next non-space byte closes a container.
			j := i + 1
			for j < len(raw) && isJSONSpace(raw[j]) {
				j++
			}
			if j < len(raw) && (raw[j] == '}' || raw[j] == ']') {
				continue
			}
			out = append(out, c)

		case matchBareWord(raw, i, "True"):
			out = append(out, "true"...)
			i += 3

		case matchBareWord(raw, i, "False"):
			out = append(out, "false"...)
			i += 4

		case matchBareWord(raw, i, "None"):
			out = append(out, "null"...)
			i += 3

		default:
			out = append(out, c)
		}
	}

	return out
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// matchBareWord reports whether raw[i:] starts with word and the match is not
// part of a longer identifier.
func matchBareWord(raw []byte, i int, word string) bool {
	if i+len(word) > len(raw) {
		return false
	}
	if string(raw[i:i+len(word)]) != word {
		return false
	}
	if i > 0 && isWordByte(raw[i-1]) {
		return false
	}
	if i+len(word) < len(raw) && isWordByte(raw[i+len(word)]) {
		return false
	}
	return true
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
