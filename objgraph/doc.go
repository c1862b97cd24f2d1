// Package objgraph serializes arbitrary Go object graphs to a structured
// text format and back, without per-type code.
//
// The format is a superset of JSON with a few reserved member names. Every
// pointer, map and slice becomes a node carrying a reference id and its
// type; a value reached a second time is written as a reference to that id,
// so shared and cyclic structures survive a round trip.
//
// # Grammar
//
//	node      := '{' [idEntry] [typeEntry] member* '}'
//	array     := lengthEntry '[' element* ']'
//	idEntry   := '"$id":' INTEGER
//	typeEntry := '"$type":' ('"' [alias '|'] fullTypeName '"' | INTEGER)
//	member    := '"' name '"' ':' value
//	value     := STRING | INTEGER | FLOAT | BOOL | 'null' | node | array | reference
//	reference := '"$ref_int":' INTEGER | '"$ref_idx":' INTEGER
//	           | '"$ref_guid":' GUID    | '"$ref_str":' '"' STRING '"'
//
// Regular arrays are introduced by "$rlength" and "$rcontent"; arrays of
// fixed-width primitives by "$plength" and "$pcontent" with unnamed leaves.
//
// # Example
//
//	{
//	    "$type": "0|example.Doc",
//	    "A": 1,
//	    "B": {
//	        "$id": 0,
//	        "$type": "1|[]int",
//	        "$plength": 3,
//	        "$pcontent": [
//	            1,
//	            2,
//	            3
//	        ]
//	    }
//	}
//
// # Formatters
//
// A Formatter encodes one type. The Resolver picks one for each type by
// asking locators registered for the "before" step, then its template table,
// then locators for the "after" step, and finally falls back to walking
// struct members. Results are cached per type and member policy for the
// life of the resolver.
//
// # Errors
//
// Malformed input degrades to missing data: unexpected entries are skipped
// and reported to the Diagnostics sink, and narrowing overflows read as zero.
// A type without a formatter aborts the whole session, since reader and
// writer could no longer agree on the stream's shape. ErrorPolicy escalates
// reported problems to aborts.
package objgraph
