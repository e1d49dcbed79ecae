package index

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Query syntax: free tokens are AND-ed full-text terms, "quoted phrases"
// match exactly, and field:value tokens filter on a known field. Unknown
// field names degrade to free-text tokens so a typo narrows the search
// instead of emptying it.

type filterOp int

const (
	opContains filterOp = iota
	opEq
	opGt
	opLt
	opGe
	opLe
)

func (op filterOp) sql() string {
	switch op {
	case opGt:
		return ">"
	case opLt:
		return "<"
	case opGe:
		return ">="
	case opLe:
		return "<="
	default:
		return "="
	}
}

type filter struct {
	column string
	op     filterOp
	text   string // opContains only
	number int64  // comparison ops only
}

type parsedQuery struct {
	match   []string // quoted FTS5 terms, implicitly AND-ed
	filters []filter
}

// textFields maps filter names to substring-matched columns. projects and
// data_types are stored as JSON arrays; substring matching against the
// serialized form is intentional and cheap.
var textFields = map[string]string{
	"name":        "name",
	"description": "description",
	"source":      "source",
	"location":    "location",
	"format":      "format",
	"project":     "projects",
	"projects":    "projects",
	"tag":         "projects",
	"tags":        "projects",
	"type":        "data_types",
	"types":       "data_types",
}

// numericFields support comparison operators against integer columns.
var numericFields = map[string]string{
	"size":    "size_bytes",
	"created": "created_at",
	"updated": "updated_at",
}

// dateFields marks numeric fields whose values are parsed as dates.
var dateFields = map[string]bool{
	"created": true,
	"updated": true,
}

var queryDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

type token struct {
	text   string
	phrase bool // token was a quoted phrase
}

// parseQuery splits query text into full-text terms and field filters.
func parseQuery(text string) parsedQuery {
	var q parsedQuery
	for _, tok := range tokenize(text) {
		if tok.phrase {
			q.match = append(q.match, ftsQuote(tok.text))
			continue
		}

		if f, ok := parseFilter(tok.text); ok {
			q.filters = append(q.filters, f)
			continue
		}

		q.match = append(q.match, ftsQuote(tok.text))
	}
	return q
}

// parseFilter interprets a field:value token. It returns false when the
// field is unknown or the value cannot be parsed, sending the token back
// to the free-text path.
func parseFilter(text string) (filter, bool) {
	i := strings.IndexByte(text, ':')
	if i <= 0 || i == len(text)-1 {
		return filter{}, false
	}
	field := strings.ToLower(text[:i])
	value := text[i+1:]

	if col, ok := textFields[field]; ok {
		return filter{column: col, op: opContains, text: value}, true
	}

	col, ok := numericFields[field]
	if !ok {
		return filter{}, false
	}

	op := opEq
	switch {
	case strings.HasPrefix(value, ">="):
		op, value = opGe, value[2:]
	case strings.HasPrefix(value, "<="):
		op, value = opLe, value[2:]
	case strings.HasPrefix(value, ">"):
		op, value = opGt, value[1:]
	case strings.HasPrefix(value, "<"):
		op, value = opLt, value[1:]
	case strings.HasPrefix(value, "="):
		value = value[1:]
	}

	if dateFields[field] {
		for _, layout := range queryDateLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return filter{column: col, op: op, number: t.Unix()}, true
			}
		}
		return filter{}, false
	}

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return filter{}, false
	}
	return filter{column: col, op: op, number: n}, true
}

// tokenize splits on whitespace, keeping quoted sections together. A token
// that opens with a quote becomes a phrase; quotes after a field: prefix
// only group the value.
func tokenize(text string) []token {
	var tokens []token
	var cur strings.Builder
	inQuote := false
	phrase := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, token{text: cur.String(), phrase: phrase})
			cur.Reset()
		}
		phrase = false
	}

	for _, r := range text {
		switch {
		case r == '"':
			if !inQuote && cur.Len() == 0 {
				phrase = true
			}
			inQuote = !inQuote
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// ftsQuote wraps a term as an FTS5 string literal so punctuation inside
// tokens (bar:baz) cannot break the match expression.
func ftsQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// escapeLike escapes LIKE wildcards in user-supplied filter values.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
