package objgraph

import (
	"fmt"
	"strings"
)

// Format selects the writer's layout.
type Format uint8

const (
	// FormatReadable writes one entry per line, indented four spaces per depth.
	FormatReadable Format = iota
	// FormatCompact writes the whole document on one line without whitespace.
	FormatCompact
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatReadable:
		return "readable"
	case FormatCompact:
		return "compact"
	default:
		return fmt.Sprintf("format(%d)", f)
	}
}

// ParseFormat parses "readable" or "compact".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "readable", "pretty", "":
		return FormatReadable, nil
	case "compact":
		return FormatCompact, nil
	}
	return 0, NewError(CodeUsage, "unknown format %q", s)
}

// ErrorPolicy decides which non-fatal errors are escalated to a session abort.
type ErrorPolicy uint8

const (
	// PolicyResilient logs every non-fatal error and keeps going.
	PolicyResilient ErrorPolicy = iota
	// PolicyStrict aborts on stream-shape, value-parse and cross-boundary errors.
	PolicyStrict
	// PolicyStrictWarnings aborts on warnings as well.
	PolicyStrictWarnings
)

// String returns the policy name.
func (p ErrorPolicy) String() string {
	switch p {
	case PolicyResilient:
		return "resilient"
	case PolicyStrict:
		return "strict"
	case PolicyStrictWarnings:
		return "strict-warnings"
	default:
		return fmt.Sprintf("policy(%d)", p)
	}
}

// ParseErrorPolicy parses a policy name.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(s) {
	case "resilient", "":
		return PolicyResilient, nil
	case "strict":
		return PolicyStrict, nil
	case "strict-warnings":
		return PolicyStrictWarnings, nil
	}
	return 0, NewError(CodeUsage, "unknown error policy %q", s)
}

// Options configures a serialization or deserialization session.
type Options struct {
	// Format selects readable or compact output.
	Format Format

	// OptimizeTypeNames writes a type's full name once per session and an
	// integer alias afterwards.
	OptimizeTypeNames bool

	// ErrorPolicy selects which errors abort the session.
	ErrorPolicy ErrorPolicy

	// AllowWeakFallbacks resolves formatters in best-effort mode.
	AllowWeakFallbacks bool

	// BufferSize is the initial capacity of the writer's output buffer.
	BufferSize int

	Binder      TypeBinder
	Members     MemberPolicy
	Resolver    *Resolver
	Diagnostics Diagnostics

	// External reference resolvers (optional)
	IndexReferences  ExternalIndexResolver
	GuidReferences   ExternalGuidResolver
	StringReferences ExternalStringResolver
}

// DefaultBufferSize is the writer buffer capacity used when none is set.
const DefaultBufferSize = 4096

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Format:            FormatReadable,
		OptimizeTypeNames: true,
		ErrorPolicy:       PolicyResilient,
		BufferSize:        DefaultBufferSize,
		Binder:            DefaultBinder(),
		Members:           ExportedMembers,
		Resolver:          DefaultResolver(),
		Diagnostics:       discardDiagnostics,
	}
}

// CompactOptions returns defaults with compact output.
func CompactOptions() Options {
	opts := DefaultOptions()
	opts.Format = FormatCompact
	return opts
}

// withDefaults fills unset collaborators.
func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Binder == nil {
		o.Binder = DefaultBinder()
	}
	if o.Members == nil {
		o.Members = ExportedMembers
	}
	if o.Resolver == nil {
		o.Resolver = DefaultResolver()
	}
	if o.Diagnostics == nil {
		o.Diagnostics = discardDiagnostics
	}
	return o
}
