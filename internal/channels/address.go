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

import (
	"net/mail"
	"strings"
)

// SplitAddress extracts an (email, displayName) pair from "Name <addr>" or
// bare-address forms. Falls back to manual bracket handling when the input
// is not RFC 5322 clean.
func SplitAddress(s string) (email, name string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	if addr, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(addr.Address), strings.TrimSpace(addr.Name)
	}

	if open := strings.LastIndex(s, "<"); open >= 0 {
		if close := strings.Index(s[open:], ">"); close > 0 {
			email = strings.ToLower(strings.TrimSpace(s[open+1 : open+close]))
			name = strings.Trim(strings.TrimSpace(s[:open]), `"'`)
			return email, name
		}
	}
	if strings.Contains(s, "@") {
		return strings.ToLower(s), ""
	}
	return "", s
}

// SplitAddressList splits a comma-separated address list, unwrapping
// "Name <addr>" forms, and returns the bare lowercase addresses.
func SplitAddressList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if addrs, err := mail.ParseAddressList(s); err == nil {
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, strings.ToLower(a.Address))
		}
		return out
	}

	var out []string
	for _, part := range strings.Split(s, ",") {
		if email, _ := SplitAddress(part); email != "" {
			out = append(out, email)
		}
	}
	return out
}
