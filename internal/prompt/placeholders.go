package prompt

import (
	"sort"
	"text/template/parse"
)

// requiredFields returns the top-level {{.name}} fields a template reads, sorted.
// Bodies of range and with blocks are skipped because dot changes inside them.
func requiredFields(tree *parse.Tree) []string {
	if tree == nil || tree.Root == nil {
		return nil
	}
	seen := make(map[string]struct{})
	walkNode(tree.Root, seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func walkNode(node parse.Node, seen map[string]struct{}) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			walkNode(child, seen)
		}
	case *parse.ActionNode:
		walkPipe(n.Pipe, seen)
	case *parse.IfNode:
		walkPipe(n.Pipe, seen)
		walkNode(n.List, seen)
		walkNode(n.ElseList, seen)
	case *parse.RangeNode:
		walkPipe(n.Pipe, seen)
	case *parse.WithNode:
		walkPipe(n.Pipe, seen)
	case *parse.TemplateNode:
		walkPipe(n.Pipe, seen)
	}
}

func walkPipe(pipe *parse.PipeNode, seen map[string]struct{}) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			switch a := arg.(type) {
			case *parse.FieldNode:
				if len(a.Ident) > 0 {
					seen[a.Ident[0]] = struct{}{}
				}
			case *parse.PipeNode:
				walkPipe(a, seen)
			}
		}
	}
}
