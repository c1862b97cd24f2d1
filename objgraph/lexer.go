package objgraph

import (
	"bufio"
	"io"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Lexer splits a character stream into a forward-only sequence of entries.
//
// Characters accumulate in a scratch buffer until an unescaped delimiter
// ({ } [ ] ,) is met outside a quoted string. Whitespace outside strings is
// dropped. Escapes inside strings are decoded as they are read.
type Lexer struct {
	src *bufio.Reader

	// replay holds characters of a malformed \u escape. They are read back
	// before any new input and processed as ordinary characters.
	replay []rune

	peeked     rune
	peekedSize int
	hasPeek    bool

	buf []byte // accumulation buffer, reused across entries
	sep int    // index in buf of the first ':' outside a string, or -1

	// highSurrogate is a decoded \u escape waiting for its low half.
	highSurrogate rune

	line   int
	col    int
	offset int

	unterminated bool
	err          error
}

// NewLexer creates a lexer reading from r.
func NewLexer(r io.Reader) *Lexer {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Lexer{
		src:  br,
		buf:  make([]byte, 0, 64),
		sep:  -1,
		line: 1,
		col:  1,
	}
}

// NewLexerString creates a lexer over an in-memory document.
func NewLexerString(input string) *Lexer {
	return NewLexer(strings.NewReader(input))
}

// Err returns the first read error other than io.EOF.
func (l *Lexer) Err() error {
	return l.err
}

// Unterminated reports whether the input ended inside a quoted string.
func (l *Lexer) Unterminated() bool {
	return l.unterminated
}

// Tokenize returns all entries up to and including the end-of-stream entry.
func (l *Lexer) Tokenize() []Entry {
	var entries []Entry
	for {
		e := l.Next()
		entries = append(entries, e)
		if e.Type == EntryEndOfStream {
			return entries
		}
	}
}

// Next returns the next entry. After the input is exhausted it keeps
// returning EntryEndOfStream.
func (l *Lexer) Next() Entry {
	l.buf = l.buf[:0]
	l.sep = -1
	l.highSurrogate = 0

	inString := false
	start := l.position()

	for {
		if len(l.buf) == 0 && !inString {
			start = l.position()
		}

		ch, ok := l.peekRune()
		if !ok {
			if inString {
				l.unterminated = true
			}
			if len(l.buf) > 0 {
				return l.parseBuffered(EntryInvalid, start)
			}
			return Entry{Type: EntryEndOfStream, Pos: start}
		}

		if inString {
			l.consume()
			switch ch {
			case '"':
				l.flushSurrogate()
				l.buf = append(l.buf, '"')
				inString = false
			case '\\':
				l.readEscape()
			default:
				l.appendRune(ch)
			}
			continue
		}

		switch ch {
		case '{':
			l.consume()
			if len(l.buf) == 0 {
				return Entry{Type: EntryStartOfNode, Pos: start}
			}
			return l.parseBuffered(EntryStartOfNode, start)

		case '[':
			l.consume()
			if len(l.buf) == 0 {
				return Entry{Type: EntryStartOfArray, Pos: start}
			}
			return l.parseBuffered(EntryStartOfArray, start)

		case '}', ']':
			// A pending leaf is returned first; the terminator stays unread.
			if len(l.buf) > 0 {
				return l.parseBuffered(EntryInvalid, start)
			}
			l.consume()
			if ch == '}' {
				return Entry{Type: EntryEndOfNode, Pos: start}
			}
			return Entry{Type: EntryEndOfArray, Pos: start}

		case ',':
			l.consume()
			if len(l.buf) > 0 {
				return l.parseBuffered(EntryInvalid, start)
			}

		case '"':
			l.consume()
			l.buf = append(l.buf, '"')
			inString = true

		case ':':
			l.consume()
			// Only a quoted prefix is a name; "$ref_int:3" is a bare value.
			if l.sep < 0 && isQuoted(string(l.buf)) {
				l.sep = len(l.buf)
			}
			l.buf = append(l.buf, ':')

		case ' ', '\t', '\r', '\n':
			l.consume()

		default:
			l.consume()
			l.appendRune(ch)
		}
	}
}

// readEscape decodes one escape sequence after a backslash inside a string.
func (l *Lexer) readEscape() {
	ch, ok := l.nextRune()
	if !ok {
		return
	}
	switch ch {
	case 'a':
		l.appendRune('\a')
	case 'b':
		l.appendRune('\b')
	case 'f':
		l.appendRune('\f')
	case 'n':
		l.appendRune('\n')
	case 'r':
		l.appendRune('\r')
	case 't':
		l.appendRune('\t')
	case '0':
		l.appendRune(0)
	case 'u':
		l.readUnicodeEscape()
	default:
		// \\, \", \/ and unknown escapes all yield the escaped character.
		l.appendRune(ch)
	}
}

// readUnicodeEscape decodes the four hex digits of a \u escape.
//
// On a malformed escape nothing is decoded: the 'u' and the consumed
// characters are queued for replay and then read again as ordinary string
// characters. This is best-effort recovery, not a lossless one; the
// backslash itself is dropped.
func (l *Lexer) readUnicodeEscape() {
	var digits [4]rune
	n := 0
	for n < len(digits) {
		ch, ok := l.nextRune()
		if !ok {
			break
		}
		digits[n] = ch
		n++
	}

	var value rune
	valid := n == len(digits)
	for i := 0; valid && i < n; i++ {
		d, ok := hexValue(digits[i])
		if !ok {
			valid = false
			break
		}
		value = value<<4 | d
	}

	if !valid {
		l.replay = append(l.replay, 'u')
		l.replay = append(l.replay, digits[:n]...)
		return
	}

	switch {
	case utf16.IsSurrogate(value) && value < 0xDC00:
		l.flushSurrogate()
		l.highSurrogate = value
	case utf16.IsSurrogate(value) && l.highSurrogate != 0:
		r := utf16.DecodeRune(l.highSurrogate, value)
		l.highSurrogate = 0
		l.buf = utf8.AppendRune(l.buf, r)
	default:
		l.appendRune(value)
	}
}

// appendRune writes r to the buffer, first resolving any orphaned surrogate.
func (l *Lexer) appendRune(r rune) {
	l.flushSurrogate()
	l.buf = utf8.AppendRune(l.buf, r)
}

func (l *Lexer) flushSurrogate() {
	if l.highSurrogate != 0 {
		l.buf = utf8.AppendRune(l.buf, utf8.RuneError)
		l.highSurrogate = 0
	}
}

// parseBuffered turns the accumulated buffer into an entry. hint is the
// structural kind that terminated the buffer, or EntryInvalid for a leaf.
func (l *Lexer) parseBuffered(hint EntryType, pos Position) Entry {
	var name, value string
	if l.sep >= 0 {
		name = unquote(string(l.buf[:l.sep]))
		value = string(l.buf[l.sep+1:])
	} else {
		value = string(l.buf)
	}

	e := Entry{Name: name, Pos: pos}
	switch hint {
	case EntryStartOfNode:
		e.Type = EntryStartOfNode
		e.Content = value
		return e
	case EntryStartOfArray:
		e.Type = EntryStartOfArray
		if name == SigPrimitiveContent {
			e.Type = EntryPrimitiveArray
		}
		e.Content = value
		return e
	}

	e.Type, e.Content = classifyEntry(name, value)
	return e
}

// classifyEntry decides the kind of a leaf entry. Reserved names and
// reference sigils always win over guessing from the value's shape.
func classifyEntry(name, value string) (EntryType, string) {
	switch name {
	case SigID, SigRegularLength, SigPrimitiveLength:
		return EntryInteger, value
	case SigType:
		if isQuoted(value) {
			return EntryString, value
		}
		return EntryInteger, value
	case SigRegularContent, SigPrimitiveContent:
		// Content markers are only valid directly before '['.
		return EntryInvalid, value
	}

	if rest, ok := cutSigil(value, SigInternalRef); ok {
		return EntryInternalReference, rest
	}
	if rest, ok := cutSigil(value, SigExternalIndexRef); ok {
		return EntryExternalReferenceByIndex, rest
	}
	if rest, ok := cutSigil(value, SigExternalGuidRef); ok {
		return EntryExternalReferenceByGuid, rest
	}
	if rest, ok := cutSigil(value, SigExternalStringRef); ok {
		return EntryExternalReferenceByString, rest
	}
	if rest, ok := cutSigil(value, SigExternalStringLegacy); ok {
		return EntryExternalReferenceByString, rest
	}

	switch {
	case isQuoted(value):
		return EntryString, value
	case utf8.RuneCountInString(value) == 36 && strings.Contains(value, "-"):
		return EntryGuid, value
	case strings.ContainsAny(value, ".,"):
		return EntryFloat, value
	case strings.EqualFold(value, "true"), strings.EqualFold(value, "false"):
		return EntryBoolean, value
	case strings.EqualFold(value, "null"):
		return EntryNull, value
	case value != "":
		return EntryInteger, value
	}
	return EntryInvalid, value
}

// cutSigil strips "sig:" from the front of value.
func cutSigil(value, sig string) (string, bool) {
	if len(value) > len(sig) && value[len(sig)] == ':' && strings.HasPrefix(value, sig) {
		return value[len(sig)+1:], true
	}
	return "", false
}

func isQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

func unquote(s string) string {
	if isQuoted(s) {
		return s[1 : len(s)-1]
	}
	return s
}

func hexValue(r rune) (rune, bool) {
	switch {
	case r >= '0' && r <= '9':
		return r - '0', true
	case r >= 'a' && r <= 'f':
		return r - 'a' + 10, true
	case r >= 'A' && r <= 'F':
		return r - 'A' + 10, true
	}
	return 0, false
}

// Helper methods

func (l *Lexer) peekRune() (rune, bool) {
	if len(l.replay) > 0 {
		return l.replay[0], true
	}
	if !l.hasPeek {
		r, size, err := l.src.ReadRune()
		if err != nil {
			if err != io.EOF && l.err == nil {
				l.err = err
			}
			return 0, false
		}
		l.peeked = r
		l.peekedSize = size
		l.hasPeek = true
	}
	return l.peeked, true
}

func (l *Lexer) consume() {
	if len(l.replay) > 0 {
		l.replay = l.replay[1:]
		return
	}
	if !l.hasPeek {
		return
	}
	l.hasPeek = false
	l.offset += l.peekedSize
	if l.peeked == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

func (l *Lexer) nextRune() (rune, bool) {
	r, ok := l.peekRune()
	if ok {
		l.consume()
	}
	return r, ok
}

func (l *Lexer) position() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.offset}
}
