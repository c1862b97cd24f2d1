package objgraph

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func reformat(t *testing.T, in string, format Format) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, Reformat(strings.NewReader(in), &out, format))
	return out.String()
}

func TestReformat_ReadableAndCompactAgree(t *testing.T) {
	a := &cycleNode{Name: "tab\there"}
	a.Next = &cycleNode{Name: "b", Next: a}
	in := struct {
		Doc   exampleDoc
		Cycle *cycleNode
		F     float64
		Tags  map[string]bool
	}{exampleDoc{A: 1, B: []int{1, 2}}, a, 2, map[string]bool{"x": true}}

	readable, err := Marshal(in)
	require.NoError(t, err)
	compact, err := MarshalWithOptions(in, CompactOptions())
	require.NoError(t, err)

	require.Equal(t, string(compact), reformat(t, string(readable), FormatCompact))
	require.Equal(t, string(readable), reformat(t, string(compact), FormatReadable))
	require.Equal(t, string(compact), reformat(t, string(compact), FormatCompact))
}

func TestReformat_RewritesLegacyStringReference(t *testing.T) {
	got := reformat(t, `{"a": $strref:key, "b": $ref_str:"k\"2"}`, FormatCompact)
	require.Equal(t, `{"a":$ref_str:"key","b":$ref_str:"k\"2"}`, got)
}

func TestReformat_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  Code
	}{
		{"node closed by array end", `{"a": 1]`, CodeCrossBoundary},
		{"array closed by node end", `{"$rlength": 1, "$rcontent": [1}}`, CodeCrossBoundary},
		{"unbalanced", `}`, CodeCrossBoundary},
		{"unclosed", `{"a": {"b": 1}`, CodeStreamShape},
		{"unterminated string", `{"s": "abc`, CodeStreamShape},
		{"invalid entry", `{"x": , "y": 1}`, CodeStreamShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Reformat(strings.NewReader(tt.input), &bytes.Buffer{}, FormatCompact)
			require.Error(t, err)
			require.Equal(t, tt.code, GetCode(err), err.Error())
		})
	}
}

func TestValidate_WellFormed(t *testing.T) {
	data, err := Marshal(exampleDoc{A: 1, B: []int{1, 2, 3}})
	require.NoError(t, err)

	report, err := Validate(bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, report.OK(), report.String())
	require.Equal(t, 14, report.Entries)
	require.Equal(t, 3, report.MaxDepth)
	require.Empty(t, report.String())
}

func TestValidate_Issues(t *testing.T) {
	tests := []struct {
		name  string
		input string
		codes []Code
	}{
		{"array without length", `{"$rcontent": [1]}`, []Code{CodeStreamShape}},
		{"id not first", `{"a": 1, "$id": 2}`, []Code{CodeStreamShape}},
		{"type after members", `{"a": 1, "$type": "x"}`, []Code{CodeStreamShape}},
		{"id then type", `{"$id": 1, "$type": "x"}`, nil},
		{"two roots", `{} {}`, []Code{CodeStreamShape}},
		{"cross boundary", `{"a": 1]`, []Code{CodeCrossBoundary}},
		{"unbalanced", `{}}`, []Code{CodeStreamShape, CodeStreamShape}},
		{"unterminated and unclosed", `{"s": "abc`, []Code{CodeStreamShape, CodeStreamShape}},
		{"invalid entry", `{"x": }`, []Code{CodeStreamShape}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Validate(strings.NewReader(tt.input))
			require.NoError(t, err)

			var codes []Code
			for _, issue := range report.Issues {
				codes = append(codes, issue.Code)
			}
			require.Equal(t, tt.codes, codes, report.String())
		})
	}
}

func TestValidate_IssuePositions(t *testing.T) {
	report, err := Validate(strings.NewReader("{\n    \"a\": 1,\n    \"$id\": 2\n}"))
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	require.Equal(t, 3, report.Issues[0].Pos.Line)
	require.True(t, strings.HasPrefix(report.String(), "3:5: STREAM_SHAPE: "), report.String())
}
