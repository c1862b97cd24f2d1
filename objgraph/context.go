package objgraph

import (
	"reflect"

	"github.com/google/uuid"
)

// ExternalIndexResolver maps values living outside the stream to indices.
type ExternalIndexResolver interface {
	// IndexOf reports whether v is external and, if so, its index.
	IndexOf(v any) (int, bool)
	// ResolveIndex returns the external value for index.
	ResolveIndex(index int) (any, bool)
}

// ExternalGuidResolver maps values living outside the stream to GUIDs.
type ExternalGuidResolver interface {
	GuidOf(v any) (uuid.UUID, bool)
	ResolveGuid(id uuid.UUID) (any, bool)
}

// ExternalStringResolver maps values living outside the stream to string keys.
type ExternalStringResolver interface {
	KeyOf(v any) (string, bool)
	ResolveKey(key string) (any, bool)
}

// session holds what serialization and deserialization contexts share:
// options, the abort flag, diagnostics and formatter lookup.
type session struct {
	opts    Options
	aborted bool
}

// Options returns the session options.
func (s *session) Options() Options {
	return s.opts
}

// Aborted reports whether the session is unwinding after a fatal error.
func (s *session) Aborted() bool {
	return s.aborted
}

// fail marks the session aborted and unwinds it.
func (s *session) fail(err error) {
	s.aborted = true
	abort(err)
}

// logWarning reports a warning, aborting under PolicyStrictWarnings.
func (s *session) logWarning(code Code, msg string, keyvals ...any) {
	if s.opts.ErrorPolicy >= PolicyStrictWarnings {
		s.fail(NewError(code, "%s", msg))
	}
	s.opts.Diagnostics.Warn(msg, append(keyvals, "code", code)...)
}

// logError reports a recoverable error, aborting under PolicyStrict or stricter.
func (s *session) logError(code Code, msg string, keyvals ...any) {
	if s.opts.ErrorPolicy >= PolicyStrict {
		s.fail(NewError(code, "%s", msg))
	}
	s.opts.Diagnostics.Error(msg, append(keyvals, "code", code)...)
}

// formatterFor resolves the formatter for t. A resolution failure is fatal
// because reader and writer node stacks could no longer agree.
func (s *session) formatterFor(t reflect.Type) Formatter {
	f, err := s.tryFormatterFor(t)
	if err != nil {
		s.fail(WrapError(CodeResolution, err, "resolving formatter for %s", t))
	}
	return f
}

func (s *session) tryFormatterFor(t reflect.Type) (Formatter, error) {
	if s.opts.AllowWeakFallbacks {
		return s.opts.Resolver.GetBestEffort(t, s.opts.Members)
	}
	return s.opts.Resolver.Get(t, s.opts.Members)
}

// ============================================================
// Serialization
// ============================================================

// refKey identifies a referenceable value by type and address.
type refKey struct {
	typ reflect.Type
	ptr uintptr
	len int
}

// SerializationContext is the per-session state of a serialization call tree.
type SerializationContext struct {
	session
	refs   map[refKey]int
	nextID int
}

// NewSerializationContext creates a context with the given options.
func NewSerializationContext(opts Options) *SerializationContext {
	return &SerializationContext{
		session: session{opts: opts.withDefaults()},
		refs:    make(map[refKey]int),
	}
}

// Reset clears reference ids for a new session.
func (c *SerializationContext) Reset() {
	clear(c.refs)
	c.nextID = 0
	c.aborted = false
}

// TryRegisterInternalReference returns the id of v, assigning a fresh one
// when v has not been seen in this session. isNew reports the assignment.
func (c *SerializationContext) TryRegisterInternalReference(v reflect.Value) (id int, isNew bool) {
	key, ok := referenceKey(v)
	if ok {
		if id, seen := c.refs[key]; seen {
			return id, false
		}
	}
	id = c.nextID
	c.nextID++
	if ok {
		c.refs[key] = id
	}
	return id, true
}

// referenceKey returns the identity of a pointer, map or slice. Empty slices
// have no usable identity and always get a fresh id.
func referenceKey(v reflect.Value) (refKey, bool) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map:
		return refKey{typ: v.Type(), ptr: v.Pointer()}, true
	case reflect.Slice:
		if v.Len() == 0 {
			return refKey{}, false
		}
		return refKey{typ: v.Type(), ptr: v.Pointer(), len: v.Len()}, true
	}
	return refKey{}, false
}

// ============================================================
// Deserialization
// ============================================================

// DeserializationContext is the per-session state of a deserialization call
// tree. It maps reference ids to the values already materialized for them.
type DeserializationContext struct {
	session
	refs map[int]reflect.Value
}

// NewDeserializationContext creates a context with the given options.
func NewDeserializationContext(opts Options) *DeserializationContext {
	return &DeserializationContext{
		session: session{opts: opts.withDefaults()},
		refs:    make(map[int]reflect.Value),
	}
}

// Reset clears the reference table for a new session.
func (c *DeserializationContext) Reset() {
	clear(c.refs)
	c.aborted = false
}

// RegisterInternalReference records the current value of v for reference
// id. Later changes to the slot v came from are not seen.
func (c *DeserializationContext) RegisterInternalReference(id int, v reflect.Value) {
	if id < 0 {
		return
	}
	snapshot := reflect.New(v.Type()).Elem()
	snapshot.Set(v)
	c.refs[id] = snapshot
}

// GetInternalReference returns the value registered for id.
func (c *DeserializationContext) GetInternalReference(id int) (reflect.Value, bool) {
	v, ok := c.refs[id]
	return v, ok
}

// IsRegistered reports whether id has a value.
func (c *DeserializationContext) IsRegistered(id int) bool {
	_, ok := c.refs[id]
	return ok
}
