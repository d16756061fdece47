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
	"strings"

	"golang.org/x/net/html"
)

// blockTags force a line break in the text rendering.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "ul": true, "ol": true,
}

// skipTags have their content dropped entirely. Images carry no text
// children, so stripping them needs no skip tracking; void elements must
// not appear here since they have no end tag to close the skip.
var skipTags = map[string]bool{
	"script": true, "style": true, "head": true, "title": true,
}

// HTMLToText converts an HTML body to plain text when no text alternative
// exists. Tags are dropped, block elements become newlines, images and
// script/style content are stripped, and runs of blank lines collapse.
func HTMLToText(src string) string {
	tok := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skipDepth := 0

	for {
		tt := tok.Next()
		switch tt {
		case html.ErrorToken:
			return collapseBlank(b.String())

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tok.TagName()
			tag := string(name)
			if skipTags[tag] && tt == html.StartTagToken {
				skipDepth++
			}
			if blockTags[tag] && skipDepth == 0 {
				b.WriteByte('\n')
			}

		case html.EndTagToken:
			name, _ := tok.TagName()
			tag := string(name)
			if skipTags[tag] && skipDepth > 0 {
				skipDepth--
			}
			if blockTags[tag] && skipDepth == 0 {
				b.WriteByte('\n')
			}

		case html.TextToken:
			if skipDepth == 0 {
				b.WriteString(string(tok.Text()))
			}
		}
	}
}

// collapseBlank trims lines and collapses runs of blank lines to one.
func collapseBlank(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
