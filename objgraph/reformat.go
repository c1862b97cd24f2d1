package objgraph

import (
	"fmt"
	"io"
	"strings"
)

// Reformat re-emits a stream in the given format without decoding values.
// Type entries, ids and references are copied as written; the legacy
// string reference form is rewritten to the current one.
func Reformat(in io.Reader, out io.Writer, format Format) error {
	opts := DefaultOptions()
	opts.Format = format
	w := NewWriter(out, NewSerializationContext(opts))
	lex := NewLexer(in)

	for {
		e := lex.Next()
		switch e.Type {
		case EntryEndOfStream:
			if err := lex.Err(); err != nil {
				return WrapError(CodeIO, err, "reading source")
			}
			if lex.Unterminated() {
				return NewError(CodeStreamShape, "unterminated string at %s", e.Pos)
			}
			if w.Depth() != 0 {
				return NewError(CodeStreamShape, "%d unclosed scopes at end of stream", w.Depth())
			}
			return w.Flush()

		case EntryStartOfNode:
			w.BeginStructNode(e.Name, nil)

		case EntryStartOfArray, EntryPrimitiveArray:
			w.openArray(e.Name)

		case EntryEndOfNode:
			top := w.CurrentNode()
			if w.Depth() == 0 || top.IsArray {
				return NewError(CodeCrossBoundary, "unexpected '}' at %s", e.Pos)
			}
			w.EndNode(top.Name)

		case EntryEndOfArray:
			if w.Depth() == 0 || !w.CurrentNode().IsArray {
				return NewError(CodeCrossBoundary, "unexpected ']' at %s", e.Pos)
			}
			w.EndArrayNode()

		case EntryInvalid:
			return NewError(CodeStreamShape, "invalid entry %q at %s", e.Content, e.Pos)

		default:
			w.writeRawEntry(e)
		}
	}
}

// writeRawEntry writes a leaf entry as lexed.
func (w *Writer) writeRawEntry(e Entry) {
	w.beginEntry(e.Name)
	switch e.Type {
	case EntryString:
		w.scratch = appendQuoted(w.scratch, unquote(e.Content))
	case EntryInternalReference:
		w.scratch = append(w.scratch, SigInternalRef+":"+e.Content...)
	case EntryExternalReferenceByIndex:
		w.scratch = append(w.scratch, SigExternalIndexRef+":"+e.Content...)
	case EntryExternalReferenceByGuid:
		w.scratch = append(w.scratch, SigExternalGuidRef+":"+e.Content...)
	case EntryExternalReferenceByString:
		w.scratch = append(w.scratch, SigExternalStringRef+":"...)
		w.scratch = appendQuoted(w.scratch, unquote(e.Content))
	default:
		w.scratch = append(w.scratch, e.Content...)
	}
	w.commit()
}

// ============================================================
// Validation
// ============================================================

// ValidationIssue is one problem found by Validate.
type ValidationIssue struct {
	Pos     Position
	Code    Code
	Message string
}

// String returns "line:col: CODE: message".
func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Pos, i.Code, i.Message)
}

// ValidationReport summarizes a validated stream.
type ValidationReport struct {
	Entries  int
	MaxDepth int
	Issues   []ValidationIssue
}

// OK reports whether no issues were found.
func (r *ValidationReport) OK() bool {
	return len(r.Issues) == 0
}

// String returns the issues one per line.
func (r *ValidationReport) String() string {
	var sb strings.Builder
	for _, issue := range r.Issues {
		sb.WriteString(issue.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (r *ValidationReport) add(pos Position, code Code, format string, args ...any) {
	r.Issues = append(r.Issues, ValidationIssue{Pos: pos, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Validate lexes a whole stream and checks its structure: scopes nest,
// arrays follow their length entries, ids and types lead their node, and a
// single root value fills the stream. The error is non-nil only when the
// source fails.
func Validate(in io.Reader) (*ValidationReport, error) {
	report := &ValidationReport{}
	lex := NewLexer(in)

	var (
		stack     []bool // true for arrays
		prev      Entry
		leading   int // entries seen since the current node opened
		rootsDone bool
	)
	for {
		e := lex.Next()
		if e.Type == EntryEndOfStream {
			break
		}
		report.Entries++

		if len(stack) == 0 && rootsDone {
			report.add(e.Pos, CodeStreamShape, "content after the root value")
		}

		switch e.Type {
		case EntryStartOfNode:
			stack = append(stack, false)
			leading = 0
		case EntryStartOfArray, EntryPrimitiveArray:
			wantLength := SigRegularLength
			if e.Type == EntryPrimitiveArray {
				wantLength = SigPrimitiveLength
			}
			if prev.Type != EntryInteger || prev.Name != wantLength {
				report.add(e.Pos, CodeStreamShape, "array without a preceding %s entry", wantLength)
			}
			stack = append(stack, true)
		case EntryEndOfNode, EntryEndOfArray:
			isArray := e.Type == EntryEndOfArray
			switch {
			case len(stack) == 0:
				report.add(e.Pos, CodeStreamShape, "unbalanced %s", e.Type)
			default:
				if stack[len(stack)-1] != isArray {
					report.add(e.Pos, CodeCrossBoundary, "%s closes a %s", e.Type, scopeName(stack[len(stack)-1]))
				}
				stack = stack[:len(stack)-1]
			}
		case EntryInvalid:
			report.add(e.Pos, CodeStreamShape, "invalid entry %q", e.Content)
		default:
			switch {
			case e.Name == SigID && leading != 0:
				report.add(e.Pos, CodeStreamShape, "%s must be the first entry of a node", SigID)
			case e.Name == SigType && leading > 1:
				report.add(e.Pos, CodeStreamShape, "%s must precede the node's members", SigType)
			case e.Name == SigType && leading == 1 && prev.Name != SigID:
				report.add(e.Pos, CodeStreamShape, "%s must precede the node's members", SigType)
			}
		}

		if e.Type != EntryStartOfNode {
			leading++
		}
		report.MaxDepth = max(report.MaxDepth, len(stack))
		if len(stack) == 0 {
			rootsDone = true
		}
		prev = e
	}

	if err := lex.Err(); err != nil {
		return report, WrapError(CodeIO, err, "reading source")
	}
	if lex.Unterminated() {
		report.add(prev.Pos, CodeStreamShape, "unterminated string")
	}
	if len(stack) > 0 {
		report.add(prev.Pos, CodeStreamShape, "%d unclosed scopes at end of stream", len(stack))
	}
	return report, nil
}

func scopeName(isArray bool) string {
	if isArray {
		return "array"
	}
	return "node"
}
