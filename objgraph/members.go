package objgraph

import (
	"reflect"
	"strings"
)

// Member is one serializable field of a struct type.
type Member struct {
	Name  string
	Index []int
	Type  reflect.Type
}

// MemberPolicy selects the members of a struct type that are serialized.
// ID distinguishes policies in the formatter cache.
type MemberPolicy interface {
	ID() string
	Members(t reflect.Type) ([]Member, error)
}

// memberTag is the struct tag consulted by the built-in policies.
const memberTag = "graph"

// ExportedMembers serializes every exported field. The tag `graph:"name"`
// renames a field and `graph:"-"` omits it.
var ExportedMembers MemberPolicy = tagPolicy{id: "exported"}

// TaggedMembers serializes only fields carrying a graph tag.
var TaggedMembers MemberPolicy = tagPolicy{id: "tagged", tagRequired: true}

type tagPolicy struct {
	id          string
	tagRequired bool
}

func (p tagPolicy) ID() string {
	return p.id
}

func (p tagPolicy) Members(t reflect.Type) ([]Member, error) {
	if t.Kind() != reflect.Struct {
		return nil, WrapError(CodeInstantiation, ErrUnsupportedShape, "%s is not a struct", t)
	}

	members := make([]Member, 0, t.NumField())
	seen := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, tagged := f.Tag.Lookup(memberTag)
		if p.tagRequired && !tagged {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.HasPrefix(name, "$") {
			return nil, NewError(CodeInstantiation, "%s.%s: member names may not start with '$'", t, f.Name)
		}
		if seen[name] {
			return nil, NewError(CodeInstantiation, "%s: duplicate member name %q", t, name)
		}
		seen[name] = true
		members = append(members, Member{Name: name, Index: f.Index, Type: f.Type})
	}
	return members, nil
}
