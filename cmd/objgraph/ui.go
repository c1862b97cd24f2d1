package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/Neumenon/objgraph/objgraph"
)

var (
	colorCyan   = lipgloss.Color("36")
	colorGreen  = lipgloss.Color("35")
	colorYellow = lipgloss.Color("220")
	colorRed    = lipgloss.Color("167")
	colorBlue   = lipgloss.Color("75")
	colorGray   = lipgloss.Color("245")
	colorDim    = lipgloss.Color("240")
)

// styles renders for one output stream, so colors are dropped when it is
// not a terminal.
type styles struct {
	pos     lipgloss.Style
	kind    map[objgraph.EntryType]lipgloss.Style
	name    lipgloss.Style
	content lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
}

func newStyles(w io.Writer) *styles {
	r := lipgloss.NewRenderer(w)
	kind := func(c lipgloss.Color) lipgloss.Style {
		return r.NewStyle().Foreground(c).Width(16)
	}
	return &styles{
		pos: r.NewStyle().Foreground(colorDim).Width(8),
		kind: map[objgraph.EntryType]lipgloss.Style{
			objgraph.EntryStartOfNode:               kind(colorCyan).Bold(true),
			objgraph.EntryEndOfNode:                 kind(colorCyan),
			objgraph.EntryStartOfArray:              kind(colorBlue).Bold(true),
			objgraph.EntryPrimitiveArray:            kind(colorBlue).Bold(true),
			objgraph.EntryEndOfArray:                kind(colorBlue),
			objgraph.EntryInternalReference:         kind(colorYellow),
			objgraph.EntryExternalReferenceByIndex:  kind(colorYellow),
			objgraph.EntryExternalReferenceByGuid:   kind(colorYellow),
			objgraph.EntryExternalReferenceByString: kind(colorYellow),
			objgraph.EntryInvalid:                   kind(colorRed).Bold(true),
			objgraph.EntryEndOfStream:               kind(colorDim),
		},
		name:    r.NewStyle().Foreground(colorGray),
		content: r.NewStyle(),
		success: r.NewStyle().Foreground(colorGreen),
		failure: r.NewStyle().Foreground(colorRed),
	}
}

func (s *styles) kindStyle(t objgraph.EntryType) lipgloss.Style {
	if st, ok := s.kind[t]; ok {
		return st
	}
	return s.content.Width(16)
}
