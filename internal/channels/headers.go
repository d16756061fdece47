// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package channels

import "strings"

// normalizeHeaders flattens the three header shapes providers send (a
// key/value object, a raw header block, or an array of pairs) into one
// lowercase-keyed map. Later duplicates do not overwrite earlier values.
func normalizeHeaders(v any) map[string]string {
	out := make(map[string]string)

	switch h := v.(type) {
	case map[string]any:
		for k, raw := range h {
			if s, ok := raw.(string); ok {
				setHeader(out, k, s)
			}
		}

	case string:
		// Raw header block: "Key: value\r\n..." with possible continuation
		// lines (leading whitespace).
		var lastKey string
		for _, line := range strings.Split(h, "\n") {
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			if line[0] == ' ' || line[0] == '\t' {
				if lastKey != "" {
					out[lastKey] += " " + strings.TrimSpace(line)
				}
				continue
			}
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			lastKey = strings.ToLower(strings.TrimSpace(key))
			setHeader(out, lastKey, strings.TrimSpace(value))
		}

	case []any:
		for _, item := range h {
			switch pair := item.(type) {
			case []any:
				if len(pair) >= 2 {
					k, kok := pair[0].(string)
					v, vok := pair[1].(string)
					if kok && vok {
						setHeader(out, k, v)
					}
				}
			case map[string]any:
				p := payload(pair)
				k := p.str("name", "Name", "key")
				v := p.str("value", "Value")
				if k != "" {
					setHeader(out, k, v)
				}
			}
		}
	}

	return out
}

func setHeader(m map[string]string, key, value string) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	if _, exists := m[key]; !exists {
		m[key] = value
	}
}
