package index

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []token
	}{
		{"empty", "", nil},
		{"words", "air quality", []token{{text: "air"}, {text: "quality"}}},
		{"phrase", `"air quality" pm25`, []token{{text: "air quality", phrase: true}, {text: "pm25"}}},
		{"quoted filter value", `name:"taxi trips"`, []token{{text: "name:taxi trips"}}},
		{"unterminated quote", `"air quality`, []token{{text: "air quality", phrase: true}}},
		{"extra spaces", "  a   b  ", []token{{text: "a"}, {text: "b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenize(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("tokenize(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantOk bool
		want   filter
	}{
		{"text field", "format:csv", true, filter{column: "format", op: opContains, text: "csv"}},
		{"alias", "tag:climate", true, filter{column: "projects", op: opContains, text: "climate"}},
		{"size gt", "size:>1000000", true, filter{column: "size_bytes", op: opGt, number: 1000000}},
		{"size ge", "size:>=512", true, filter{column: "size_bytes", op: opGe, number: 512}},
		{"size eq explicit", "size:=512", true, filter{column: "size_bytes", op: opEq, number: 512}},
		{"created date", "created:>2024-01-01", true, filter{column: "created_at", op: opGt, number: 1704067200}},
		{"unknown field", "bar:baz", false, filter{}},
		{"bad number", "size:>big", false, filter{}},
		{"bad date", "updated:yesterday", false, filter{}},
		{"empty value", "format:", false, filter{}},
		{"leading colon", ":csv", false, filter{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseFilter(tt.input)
			if ok != tt.wantOk {
				t.Fatalf("parseFilter(%q) ok = %v, want %v", tt.input, ok, tt.wantOk)
			}
			if ok && got != tt.want {
				t.Errorf("parseFilter(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseQuery(t *testing.T) {
	q := parseQuery(`air "quality data" format:csv bar:baz size:>100`)

	wantMatch := []string{`"air"`, `"quality data"`, `"bar:baz"`}
	if !reflect.DeepEqual(q.match, wantMatch) {
		t.Errorf("match = %v, want %v (unknown filters degrade to free text)", q.match, wantMatch)
	}
	if len(q.filters) != 2 {
		t.Fatalf("filters = %+v, want 2", q.filters)
	}
	if q.filters[0].column != "format" || q.filters[1].column != "size_bytes" {
		t.Errorf("filter columns = %s, %s", q.filters[0].column, q.filters[1].column)
	}
}

func TestFtsQuote(t *testing.T) {
	if got := ftsQuote(`he said "hi"`); got != `"he said ""hi"""` {
		t.Errorf("ftsQuote = %s", got)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`100%_done\`); got != `100\%\_done\\` {
		t.Errorf("escapeLike = %s", got)
	}
}
