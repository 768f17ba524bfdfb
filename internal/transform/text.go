package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// SummaryMaxChars bounds Summary output before the ellipsis.
	SummaryMaxChars = 300
	// LastCommentMaxChars bounds the answer of the last-comment seed.
	LastCommentMaxChars = 250
)

// node is a decoded JSON value that keeps object members in document order,
// which matters when concatenating text out of rich-text trees.
type node struct {
	kind    byte // 's' string, 'o' object, 'a' array, '-' anything else
	str     string
	members []member
	items   []node
}

type member struct {
	key   string
	value node
}

func parseJSON(raw []byte) (node, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	n, err := parseValue(dec)
	if err != nil {
		return node{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return node{}, fmt.Errorf("trailing data after JSON value")
	}
	return n, nil
}

func parseValue(dec *json.Decoder) (node, error) {
	tok, err := dec.Token()
	if err != nil {
		return node{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			n := node{kind: 'o'}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return node{}, err
				}
				key, _ := keyTok.(string)
				value, err := parseValue(dec)
				if err != nil {
					return node{}, err
				}
				n.members = append(n.members, member{key: key, value: value})
			}
			if _, err := dec.Token(); err != nil {
				return node{}, err
			}
			return n, nil
		case '[':
			n := node{kind: 'a'}
			for dec.More() {
				item, err := parseValue(dec)
				if err != nil {
					return node{}, err
				}
				n.items = append(n.items, item)
			}
			if _, err := dec.Token(); err != nil {
				return node{}, err
			}
			return n, nil
		}
	case string:
		return node{kind: 's', str: t}, nil
	}
	return node{kind: '-'}, nil
}

// ExtractPlainText flattens a field value to text. Strings are trimmed;
// document trees contribute the "text" of every node, depth first; sibling
// values of a top-level array are joined by a space. null yields "".
func ExtractPlainText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	n, err := parseJSON(raw)
	if err != nil {
		return ""
	}
	if n.kind == 's' {
		return strings.TrimSpace(n.str)
	}
	return strings.TrimSpace(walk(n))
}

func walk(n node) string {
	switch n.kind {
	case 's':
		return n.str
	case 'o':
		var b strings.Builder
		for _, m := range n.members {
			if m.key == "text" && m.value.kind == 's' {
				b.WriteString(m.value.str)
				break
			}
		}
		for _, m := range n.members {
			if m.value.kind != 'a' {
				continue
			}
			for _, child := range m.value.items {
				b.WriteString(walk(child))
			}
		}
		return b.String()
	case 'a':
		parts := make([]string, len(n.items))
		for i, item := range n.items {
			parts[i] = walk(item)
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// StripHTML returns the text content of an HTML fragment with runs of
// whitespace collapsed.
func StripHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, pre, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if f := strings.Join(strings.Fields(line), " "); f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, "\n")
}

// Summary returns the first non-empty paragraph of text. Paragraphs longer
// than maxChars are cut at the last space before the limit and get "...".
func Summary(text string, maxChars int) string {
	if text == "" {
		return ""
	}
	candidate := strings.TrimSpace(text)
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			candidate = p
			break
		}
	}
	runes := []rune(candidate)
	if len(runes) <= maxChars {
		return candidate
	}
	cut := string(runes[:maxChars])
	if i := strings.LastIndex(cut, " "); i >= 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

// QnA is a seed question with an extractive answer.
type QnA struct {
	Q string `json:"q"`
	A string `json:"a"`
}

// QnASeeds derives questions from the description's first sentence and the
// last comment.
func QnASeeds(description string, comments []Comment) []QnA {
	seeds := []QnA{}
	if description != "" {
		first, _, _ := strings.Cut(description, ".")
		if first = strings.TrimSpace(first); first != "" {
			seeds = append(seeds, QnA{Q: "What is the issue about?", A: first})
		}
	}
	if len(comments) > 0 {
		last := strings.TrimSpace(comments[len(comments)-1].Body)
		if last != "" {
			seeds = append(seeds, QnA{Q: "What does the last comment mention?", A: truncateRunes(last, LastCommentMaxChars)})
		}
	}
	return seeds
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
