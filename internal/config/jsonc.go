package config

import "bytes"

// StripJSONComments removes // and /* */ comments from JSONC content so
// the result parses as plain JSON. Comment markers inside string
// literals are left alone.
func StripJSONComments(data []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(data))

	inString := false
	escaped := false
	for i := 0; i < len(data); i++ {
		c := data[i]

		if inString {
			out.WriteByte(c)
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
			out.WriteByte(c)

		case c == '/' && i+1 < len(data) && data[i+1] == '/':
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				out.WriteByte('\n')
			}

		case c == '/' && i+1 < len(data) && data[i+1] == '*':
			i += 2
			for i+1 < len(data) && !(data[i] == '*' && data[i+1] == '/') {
				i++
			}
			i++ // skip the trailing '/'

		default:
			out.WriteByte(c)
		}
	}

	return out.Bytes()
}
