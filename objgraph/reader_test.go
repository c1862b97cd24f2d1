package objgraph

import (
	"reflect"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestReader(input string, policy ErrorPolicy) (*Reader, *DiagnosticRecorder) {
	rec := &DiagnosticRecorder{}
	opts := DefaultOptions()
	opts.ErrorPolicy = policy
	opts.Diagnostics = rec
	return NewReader(strings.NewReader(input), NewDeserializationContext(opts)), rec
}

// recordedCodes returns the code of every recorded diagnostic.
func recordedCodes(rec *DiagnosticRecorder) []Code {
	var codes []Code
	for _, e := range rec.Entries {
		for i := 0; i+1 < len(e.KeyVals); i += 2 {
			if e.KeyVals[i] == "code" {
				codes = append(codes, e.KeyVals[i+1].(Code))
			}
		}
	}
	return codes
}

// catchAbort runs fn and returns the error it aborted with, if any.
func catchAbort(fn func()) (err error) {
	defer recoverAbort(&err)
	fn()
	return nil
}

// ============================================================
// Leaves
// ============================================================

func TestReader_NarrowingOverflowReadsZero(t *testing.T) {
	r, rec := newTestReader(`300, 300, 70000, -129, 5`, PolicyResilient)

	i8, ok := r.ReadInt8()
	require.True(t, ok)
	require.Zero(t, i8)

	u8, ok := r.ReadUint8()
	require.True(t, ok)
	require.Zero(t, u8)

	u16, ok := r.ReadUint16()
	require.True(t, ok)
	require.Zero(t, u16)

	i8, ok = r.ReadInt8()
	require.True(t, ok)
	require.Zero(t, i8)

	i16, ok := r.ReadInt16()
	require.True(t, ok)
	require.Equal(t, int16(5), i16)

	require.Empty(t, rec.Entries)
}

func TestReader_KindMismatchSkipsEntry(t *testing.T) {
	r, rec := newTestReader(`"s": "x", "n": 7`, PolicyResilient)

	_, ok := r.ReadInt64()
	require.False(t, ok)
	require.Equal(t, []Code{CodeStreamShape}, recordedCodes(rec))

	n, ok := r.ReadInt64()
	require.True(t, ok)
	require.Equal(t, int64(7), n)
}

func TestReader_ParseFailureConsumesEntry(t *testing.T) {
	r, rec := newTestReader(`99999999999999999999, 3`, PolicyResilient)

	_, ok := r.ReadInt64()
	require.False(t, ok)
	require.Equal(t, []Code{CodeValueParse}, recordedCodes(rec))

	n, ok := r.ReadInt64()
	require.True(t, ok)
	require.Equal(t, int64(3), n)
}

func TestReader_StrictPolicyAborts(t *testing.T) {
	r, rec := newTestReader(`"s": "x"`, PolicyStrict)

	err := catchAbort(func() { r.ReadInt64() })
	require.ErrorIs(t, err, ErrAborted)
	require.True(t, IsCode(err, CodeStreamShape))
	require.True(t, r.Context().Aborted())
	require.Empty(t, rec.Entries)
}

func TestReader_StrictPolicyKeepsWarnings(t *testing.T) {
	r, rec := newTestReader(`"$plength": 2, "$pcontent": [1]`, PolicyStrict)

	err := catchAbort(func() {
		got, err := ReadPrimitiveArray[int](r)
		require.NoError(t, err)
		require.Equal(t, []int{1}, got)
	})
	require.NoError(t, err)
	require.Equal(t, 1, rec.Count(log.WarnLevel))
}

func TestReader_Floats(t *testing.T) {
	r, _ := newTestReader(`1.5, 2, -3e2`, PolicyResilient)

	f, ok := r.ReadFloat64()
	require.True(t, ok)
	require.Equal(t, 1.5, f)

	f, ok = r.ReadFloat64()
	require.True(t, ok)
	require.Equal(t, 2.0, f)

	f32, ok := r.ReadFloat32()
	require.True(t, ok)
	require.Equal(t, float32(-300), f32)
}

func TestReader_BoolAnyCase(t *testing.T) {
	r, _ := newTestReader(`TRUE, False`, PolicyResilient)

	b, ok := r.ReadBool()
	require.True(t, ok)
	require.True(t, b)

	b, ok = r.ReadBool()
	require.True(t, ok)
	require.False(t, b)
}

func TestReader_StringNullIsEmpty(t *testing.T) {
	r, rec := newTestReader(`null, "x"`, PolicyResilient)

	s, ok := r.ReadString()
	require.True(t, ok)
	require.Empty(t, s)

	s, ok = r.ReadString()
	require.True(t, ok)
	require.Equal(t, "x", s)
	require.Empty(t, rec.Entries)
}

func TestReader_Char(t *testing.T) {
	r, rec := newTestReader(`"a", "", "éxyz"`, PolicyResilient)

	c, ok := r.ReadChar()
	require.True(t, ok)
	require.Equal(t, 'a', c)

	_, ok = r.ReadChar()
	require.False(t, ok)
	require.Equal(t, []Code{CodeValueParse}, recordedCodes(rec))

	c, ok = r.ReadChar()
	require.True(t, ok)
	require.Equal(t, 'é', c)
}

func TestReader_Guid(t *testing.T) {
	const id = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	r, rec := newTestReader(id+`, "`+id+`", "nope"`, PolicyResilient)

	g, ok := r.ReadGuid()
	require.True(t, ok)
	require.Equal(t, uuid.MustParse(id), g)

	g, ok = r.ReadGuid()
	require.True(t, ok)
	require.Equal(t, uuid.MustParse(id), g)

	_, ok = r.ReadGuid()
	require.False(t, ok)
	require.Equal(t, []Code{CodeValueParse}, recordedCodes(rec))
}

func TestReader_References(t *testing.T) {
	const id = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	r, _ := newTestReader(`$ref_int:4, $ref_idx:2, $ref_guid:`+id+`, $ref_str:"k,1", $strref:legacy`, PolicyResilient)

	n, ok := r.ReadInternalReference()
	require.True(t, ok)
	require.Equal(t, 4, n)

	n, ok = r.ReadExternalReferenceByIndex()
	require.True(t, ok)
	require.Equal(t, 2, n)

	g, ok := r.ReadExternalReferenceByGuid()
	require.True(t, ok)
	require.Equal(t, uuid.MustParse(id), g)

	key, ok := r.ReadExternalReferenceByString()
	require.True(t, ok)
	require.Equal(t, "k,1", key)

	key, ok = r.ReadExternalReferenceByString()
	require.True(t, ok)
	require.Equal(t, "legacy", key)
}

// ============================================================
// Nodes and arrays
// ============================================================

func TestReader_NodeWithIdAndType(t *testing.T) {
	r, rec := newTestReader(`{"$id": 3, "$type": "0|int", "value": 1} {"$type": 0} {"$type": 9}`, PolicyResilient)

	typ, ok := r.EnterNode()
	require.True(t, ok)
	require.Equal(t, reflect.TypeFor[int](), typ)
	require.Equal(t, 3, r.CurrentNode().ID)
	require.Equal(t, 1, r.Depth())
	r.ExitNode()
	require.Zero(t, r.Depth())

	// The alias registered by the first node resolves in the second.
	typ, ok = r.EnterNode()
	require.True(t, ok)
	require.Equal(t, reflect.TypeFor[int](), typ)
	require.Equal(t, -1, r.CurrentNode().ID)
	r.ExitNode()

	typ, ok = r.EnterNode()
	require.True(t, ok)
	require.Nil(t, typ)
	r.ExitNode()
	require.Equal(t, []Code{CodeStreamShape}, recordedCodes(rec))
}

func TestReader_EnterNodeOnLeaf(t *testing.T) {
	r, rec := newTestReader(`5, {}`, PolicyResilient)

	_, ok := r.EnterNode()
	require.False(t, ok)
	require.Zero(t, r.Depth())
	require.Equal(t, []Code{CodeStreamShape}, recordedCodes(rec))

	_, ok = r.EnterNode()
	require.True(t, ok)
	r.ExitNode()
	require.Equal(t, EntryEndOfStream, r.Peek().Type)
}

func TestReader_ExitNodeDrainsMembers(t *testing.T) {
	r, _ := newTestReader(`{"a": 1, "b": {"c": [1]}, "d": {"$rlength": 1, "$rcontent": [2]}}, 9`, PolicyResilient)

	_, ok := r.EnterNode()
	require.True(t, ok)
	r.ExitNode()

	n, ok := r.ReadInt64()
	require.True(t, ok)
	require.Equal(t, int64(9), n)
}

func TestReader_CrossBoundaryTerminator(t *testing.T) {
	r, rec := newTestReader(`{"a": 1], "b": 2`, PolicyResilient)

	_, ok := r.EnterNode()
	require.True(t, ok)
	n, ok := r.ReadInt64()
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	r.ExitNode()
	require.Zero(t, r.Depth())
	require.Equal(t, []Code{CodeCrossBoundary}, recordedCodes(rec))

	n, ok = r.ReadInt64()
	require.True(t, ok)
	require.Equal(t, int64(2), n)
}

func TestReader_EndOfStreamInsideNode(t *testing.T) {
	r, rec := newTestReader(`{"a": 1`, PolicyResilient)

	_, ok := r.EnterNode()
	require.True(t, ok)
	require.True(t, r.HasMoreElements())
	r.ReadToNextEntry()
	require.False(t, r.HasMoreElements())
	r.ExitNode()
	require.Zero(t, r.Depth())
	require.Equal(t, []Code{CodeStreamShape}, recordedCodes(rec))
}

func TestReader_RegularArray(t *testing.T) {
	r, _ := newTestReader(`"$rlength": 2, "$rcontent": ["x", "y"]`, PolicyResilient)

	n, ok := r.EnterArray()
	require.True(t, ok)
	require.Equal(t, 2, n)
	require.True(t, r.CurrentNode().IsArray)

	var got []string
	for r.HasMoreElements() {
		s, _ := r.ReadString()
		got = append(got, s)
	}
	r.ExitArray()
	require.Equal(t, []string{"x", "y"}, got)
	require.Zero(t, r.Depth())
}

func TestReader_PrimitiveArray(t *testing.T) {
	r, rec := newTestReader(`"$plength": 3, "$pcontent": [1, 2, 300]`, PolicyResilient)

	got, err := ReadPrimitiveArray[uint8](r)
	require.NoError(t, err)
	require.Equal(t, []uint8{1, 2, 0}, got)
	require.Empty(t, rec.Entries)

	_, err = r.ReadPrimitiveArrayValue(reflect.TypeFor[[]string]())
	require.ErrorIs(t, err, ErrNotPrimitiveArray)
	require.True(t, IsCode(err, CodeUsage))
}

func TestReader_PrimitiveArrayMissing(t *testing.T) {
	r, rec := newTestReader(`"$rlength": 1, "$rcontent": [1]`, PolicyResilient)

	_, err := ReadPrimitiveArray[int](r)
	require.True(t, IsCode(err, CodeStreamShape))
	require.NotEmpty(t, rec.Entries)
}

// ============================================================
// Skipping
// ============================================================

type holderNoA struct {
	Ref *cycleNode
}

func TestReader_SkippedNodeStillRegistersId(t *testing.T) {
	Register[cycleNode]()

	input := `{
    "Gone": {
        "$id": 0,
        "$type": "0|*github.com/Neumenon/objgraph/objgraph.cycleNode",
        "Name": "kept"
    },
    "Ref": $ref_int:0
}`
	rec := &DiagnosticRecorder{}
	opts := DefaultOptions()
	opts.Diagnostics = rec

	var got holderNoA
	require.NoError(t, UnmarshalWithOptions([]byte(input), &got, opts))
	require.NotNil(t, got.Ref)
	require.Equal(t, "kept", got.Ref.Name)
	require.Empty(t, rec.Entries)
}

func TestReader_UnknownMembersAreSkipped(t *testing.T) {
	input := `{"Extra": {"x": [1, 2]}, "A": 4, "More": "y", "B": null}`

	var got exampleDoc
	require.NoError(t, Unmarshal([]byte(input), &got))
	require.Equal(t, exampleDoc{A: 4}, got)
}

func TestReader_MembersInAnyOrder(t *testing.T) {
	input := `{"B": {"$plength": 1, "$pcontent": [2]}, "A": 1}`

	var got exampleDoc
	require.NoError(t, Unmarshal([]byte(input), &got))
	require.Equal(t, exampleDoc{A: 1, B: []int{2}}, got)
}
