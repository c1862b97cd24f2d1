package objgraph

import (
	"fmt"
	"reflect"
)

// NodeInfo describes one open node or array.
type NodeInfo struct {
	Name    string
	ID      int // -1 when the node carries no reference id
	Type    reflect.Type
	IsArray bool
}

// emptyNode is reported when no node is open.
var emptyNode = NodeInfo{ID: -1}

// nodeStack is the nesting context shared by Reader and Writer.
// It is owned by a single session and is not safe for concurrent use.
type nodeStack struct {
	nodes []NodeInfo
}

func (s *nodeStack) push(n NodeInfo) {
	s.nodes = append(s.nodes, n)
}

// pop removes the innermost node. Popping an empty stack, or popping under a
// different name than the node was pushed with, is a programming error.
func (s *nodeStack) pop(name string) NodeInfo {
	if len(s.nodes) == 0 {
		panic(fmt.Sprintf("objgraph: node stack underflow popping %q", name))
	}
	top := s.nodes[len(s.nodes)-1]
	if top.Name != name {
		panic(fmt.Sprintf("objgraph: popping node %q but the open node is %q", name, top.Name))
	}
	s.nodes = s.nodes[:len(s.nodes)-1]
	return top
}

// popAny removes the innermost node regardless of its name.
func (s *nodeStack) popAny() NodeInfo {
	if len(s.nodes) == 0 {
		panic("objgraph: node stack underflow")
	}
	top := s.nodes[len(s.nodes)-1]
	s.nodes = s.nodes[:len(s.nodes)-1]
	return top
}

func (s *nodeStack) current() NodeInfo {
	if len(s.nodes) == 0 {
		return emptyNode
	}
	return s.nodes[len(s.nodes)-1]
}

func (s *nodeStack) depth() int {
	return len(s.nodes)
}

func (s *nodeStack) reset() {
	clear(s.nodes)
	s.nodes = s.nodes[:0]
}
