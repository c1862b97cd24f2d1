package objgraph

import (
	"testing"
)

// ============================================================
// Lexer Tests
// ============================================================

func entryTypes(entries []Entry) []EntryType {
	types := make([]EntryType, len(entries))
	for i, e := range entries {
		types[i] = e.Type
	}
	return types
}

func TestLexer_Structure(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []EntryType
	}{
		{
			name:  "empty",
			input: "",
			want:  []EntryType{EntryEndOfStream},
		},
		{
			name:  "empty node",
			input: "{}",
			want:  []EntryType{EntryStartOfNode, EntryEndOfNode, EntryEndOfStream},
		},
		{
			name:  "leaf before terminator",
			input: `{"a": 1}`,
			want:  []EntryType{EntryStartOfNode, EntryInteger, EntryEndOfNode, EntryEndOfStream},
		},
		{
			name:  "regular array",
			input: `{"$rlength": 2, "$rcontent": [1, 2]}`,
			want: []EntryType{
				EntryStartOfNode, EntryInteger, EntryStartOfArray,
				EntryInteger, EntryInteger, EntryEndOfArray, EntryEndOfNode, EntryEndOfStream,
			},
		},
		{
			name:  "primitive array",
			input: `{"$plength": 1, "$pcontent": [true]}`,
			want: []EntryType{
				EntryStartOfNode, EntryInteger, EntryPrimitiveArray,
				EntryBoolean, EntryEndOfArray, EntryEndOfNode, EntryEndOfStream,
			},
		},
		{
			name:  "nested named node",
			input: `{"child": {"x": null}}`,
			want: []EntryType{
				EntryStartOfNode, EntryStartOfNode, EntryNull,
				EntryEndOfNode, EntryEndOfNode, EntryEndOfStream,
			},
		},
		{
			name:  "whitespace is ignored",
			input: "{\n    \"a\" :\t1 ,\r\n    \"b\": 2\n}",
			want: []EntryType{
				EntryStartOfNode, EntryInteger, EntryInteger, EntryEndOfNode, EntryEndOfStream,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := entryTypes(NewLexerString(tt.input).Tokenize())
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("entry %d: got %v, want %v (all: %v)", i, got[i], tt.want[i], got)
				}
			}
		})
	}
}

func TestLexer_Classification(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantType    EntryType
		wantName    string
		wantContent string
	}{
		{"integer", `"n": 42`, EntryInteger, "n", "42"},
		{"negative integer", `"n": -7`, EntryInteger, "n", "-7"},
		{"float", `"f": 1.5`, EntryFloat, "f", "1.5"},
		{"bool", `"b": true`, EntryBoolean, "b", "true"},
		{"bool any case", `"b": FALSE`, EntryBoolean, "b", "FALSE"},
		{"null", `"x": null`, EntryNull, "x", "null"},
		{"null any case", `"x": NULL`, EntryNull, "x", "NULL"},
		{"string keeps quotes", `"s": "hi"`, EntryString, "s", `"hi"`},
		{"guid", `"g": 6ba7b810-9dad-11d1-80b4-00c04fd430c8`, EntryGuid, "g", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"quoted guid is a string", `"g": "6ba7b810-9dad-11d1-80b4-00c04fd430c8"`, EntryString, "g", `"6ba7b810-9dad-11d1-80b4-00c04fd430c8"`},
		{"unnamed leaf", `12`, EntryInteger, "", "12"},
		{"id sigil", `"$id": 3`, EntryInteger, SigID, "3"},
		{"type with alias", `"$type": "0|pkg.T"`, EntryString, SigType, `"0|pkg.T"`},
		{"type alias only", `"$type": 0`, EntryInteger, SigType, "0"},
		{"internal reference", `"p": $ref_int:3`, EntryInternalReference, "p", "3"},
		{"unnamed internal reference", `$ref_int:9`, EntryInternalReference, "", "9"},
		{"index reference", `"p": $ref_idx:12`, EntryExternalReferenceByIndex, "p", "12"},
		{"guid reference", `"p": $ref_guid:6ba7b810-9dad-11d1-80b4-00c04fd430c8`, EntryExternalReferenceByGuid, "p", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"string reference", `"p": $ref_str:"key"`, EntryExternalReferenceByString, "p", `"key"`},
		{"legacy string reference", `"p": $strref:key`, EntryExternalReferenceByString, "p", "key"},
		{"colon inside string value", `"s": "a:b"`, EntryString, "s", `"a:b"`},
		{"content marker without array", `"$rcontent": 1`, EntryInvalid, SigRegularContent, "1"},
		{"empty value", `"x":`, EntryInvalid, "x", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewLexerString(tt.input).Next()
			if e.Type != tt.wantType {
				t.Fatalf("type: got %v, want %v", e.Type, tt.wantType)
			}
			if e.Name != tt.wantName {
				t.Fatalf("name: got %q, want %q", e.Name, tt.wantName)
			}
			if e.Content != tt.wantContent {
				t.Fatalf("content: got %q, want %q", e.Content, tt.wantContent)
			}
		})
	}
}

func TestLexer_SigilsBeatShape(t *testing.T) {
	// 1.5 would guess as a float; the reserved name wins.
	e := NewLexerString(`"$rlength": 1.5`).Next()
	if e.Type != EntryInteger {
		t.Fatalf("got %v, want INTEGER", e.Type)
	}
}

func TestLexer_Escapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"quote and backslash", `"a\"b\\c"`, "a\"b\\c"},
		{"control escapes", `"\a\b\f\n\r\t\0"`, "\a\b\f\n\r\t\x00"},
		{"unicode escape", `"\u00e9t\u00E9"`, "\u00e9t\u00e9"},
		{"surrogate pair", `"\uD83D\uDE00"`, "\U0001F600"},
		{"orphan high surrogate", `"\uD83Dx"`, "\uFFFDx"},
		{"unknown escape keeps the char", `"\q"`, "q"},
		{"raw utf8", "\"\u00fc\"", "\u00fc"},
		{"delimiters inside string", `"{[,]}"`, "{[,]}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewLexerString(tt.input).Next()
			if e.Type != EntryString {
				t.Fatalf("type: got %v, want STRING", e.Type)
			}
			if got := unquote(e.Content); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLexer_MalformedUnicodeEscapeReplays(t *testing.T) {
	l := NewLexerString(`{"s": "a\u12G4b", "n": 5}`)
	entries := l.Tokenize()

	want := []EntryType{EntryStartOfNode, EntryString, EntryInteger, EntryEndOfNode, EntryEndOfStream}
	got := entryTypes(entries)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if s := unquote(entries[1].Content); s != "au12G4b" {
		t.Fatalf("string: got %q, want %q", s, "au12G4b")
	}
	if entries[2].Name != "n" || entries[2].Content != "5" {
		t.Fatalf("entry after the bad escape: got %v", entries[2])
	}
}

func TestLexer_MalformedEscapeAtQuote(t *testing.T) {
	// The bad escape swallows the closing quote; replay puts it back.
	entries := NewLexerString(`["\u1", 7]`).Tokenize()
	if entries[1].Type != EntryString || unquote(entries[1].Content) != "u1" {
		t.Fatalf("got %v", entries[1])
	}
	if entries[2].Type != EntryInteger || entries[2].Content != "7" {
		t.Fatalf("got %v", entries[2])
	}
}

func TestLexer_Unterminated(t *testing.T) {
	l := NewLexerString(`{"s": "abc`)
	l.Tokenize()
	if !l.Unterminated() {
		t.Fatal("expected unterminated string")
	}
}

func TestLexer_Positions(t *testing.T) {
	entries := NewLexerString("{\n    \"a\": 1\n}").Tokenize()
	if entries[1].Pos.Line != 2 || entries[1].Pos.Column != 5 {
		t.Fatalf("got %s, want 2:5", entries[1].Pos)
	}
	if entries[2].Pos.Line != 3 {
		t.Fatalf("got %s, want line 3", entries[2].Pos)
	}
}

func TestLexer_EndOfStreamRepeats(t *testing.T) {
	l := NewLexerString("1")
	l.Next()
	for i := 0; i < 3; i++ {
		if e := l.Next(); e.Type != EntryEndOfStream {
			t.Fatalf("call %d: got %v", i, e.Type)
		}
	}
}

// ============================================================
// Node Stack Tests
// ============================================================

func TestNodeStack(t *testing.T) {
	var s nodeStack
	if s.current().ID != -1 {
		t.Fatal("empty stack should report no id")
	}
	s.push(NodeInfo{Name: "a", ID: 1})
	s.push(NodeInfo{Name: "b", ID: -1, IsArray: true})
	if s.depth() != 2 || !s.current().IsArray {
		t.Fatalf("got depth %d current %+v", s.depth(), s.current())
	}
	s.popAny()
	if n := s.pop("a"); n.ID != 1 {
		t.Fatalf("got %+v", n)
	}
	if s.depth() != 0 {
		t.Fatalf("got depth %d", s.depth())
	}
}

func TestNodeStack_MisusePanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func(s *nodeStack)
	}{
		{"underflow", func(s *nodeStack) { s.pop("x") }},
		{"underflow any", func(s *nodeStack) { s.popAny() }},
		{"name mismatch", func(s *nodeStack) {
			s.push(NodeInfo{Name: "a"})
			s.pop("b")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			var s nodeStack
			tt.fn(&s)
		})
	}
}
