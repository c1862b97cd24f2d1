package objgraph

import "fmt"

// EntryType identifies the kind of a lexical entry.
type EntryType uint8

const (
	EntryInvalid EntryType = iota

	// Structural
	EntryStartOfNode    // {
	EntryEndOfNode      // }
	EntryStartOfArray   // "$rcontent": [
	EntryEndOfArray     // ]
	EntryPrimitiveArray // "$pcontent": [

	// Leaves
	EntryInteger // 123, -456
	EntryFloat   // 1.5, 2.0
	EntryBoolean // true, false
	EntryString  // "quoted"
	EntryGuid    // 36 characters with dashes
	EntryNull    // null

	// References
	EntryInternalReference         // $ref_int:3
	EntryExternalReferenceByIndex  // $ref_idx:0
	EntryExternalReferenceByGuid   // $ref_guid:<guid>
	EntryExternalReferenceByString // $ref_str:"key"

	EntryEndOfStream
)

// String returns the entry type name.
func (t EntryType) String() string {
	switch t {
	case EntryInvalid:
		return "INVALID"
	case EntryStartOfNode:
		return "START_NODE"
	case EntryEndOfNode:
		return "END_NODE"
	case EntryStartOfArray:
		return "START_ARRAY"
	case EntryEndOfArray:
		return "END_ARRAY"
	case EntryPrimitiveArray:
		return "PRIMITIVE_ARRAY"
	case EntryInteger:
		return "INTEGER"
	case EntryFloat:
		return "FLOAT"
	case EntryBoolean:
		return "BOOLEAN"
	case EntryString:
		return "STRING"
	case EntryGuid:
		return "GUID"
	case EntryNull:
		return "NULL"
	case EntryInternalReference:
		return "REF_INT"
	case EntryExternalReferenceByIndex:
		return "REF_IDX"
	case EntryExternalReferenceByGuid:
		return "REF_GUID"
	case EntryExternalReferenceByString:
		return "REF_STR"
	case EntryEndOfStream:
		return "EOS"
	default:
		return "UNKNOWN"
	}
}

// IsTerminator reports whether t closes a node or array.
func (t EntryType) IsTerminator() bool {
	return t == EntryEndOfNode || t == EntryEndOfArray
}

// Position is a location in the input stream.
type Position struct {
	Line   int
	Column int
	Offset int
}

// String returns position as "line:column".
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Entry is one lexical unit of a structured stream.
//
// Content holds the raw value text. String entries keep their surrounding
// quotes; reference entries hold the payload after the sigil.
type Entry struct {
	Type    EntryType
	Name    string
	Content string
	Pos     Position
}

// String returns a debug representation of the entry.
func (e Entry) String() string {
	switch {
	case e.Name != "" && e.Content != "":
		return fmt.Sprintf("%s(%s=%s)", e.Type, e.Name, e.Content)
	case e.Name != "":
		return fmt.Sprintf("%s(%s)", e.Type, e.Name)
	case e.Content != "":
		return fmt.Sprintf("%s(%s)", e.Type, e.Content)
	}
	return e.Type.String()
}

// Reserved sigils. These are fixed wire constants.
const (
	SigID                   = "$id"
	SigType                 = "$type"
	SigRegularLength        = "$rlength"
	SigPrimitiveLength      = "$plength"
	SigRegularContent       = "$rcontent"
	SigPrimitiveContent     = "$pcontent"
	SigInternalRef          = "$ref_int"
	SigExternalIndexRef     = "$ref_idx"
	SigExternalGuidRef      = "$ref_guid"
	SigExternalStringRef    = "$ref_str" // quoted payload; the only form producers emit
	SigExternalStringLegacy = "$strref"  // unquoted payload; accepted on read

	// typeAliasSeparator splits "alias|FullName" in a type entry.
	typeAliasSeparator = '|'
)

// Member names used by the built-in formatters.
const (
	memberValue = "value"
	memberKey   = "$k"
	memberVal   = "$v"
)
