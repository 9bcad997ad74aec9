package repository

import (
	"context"
	"errors"
	"slices"
	"strings"
)

// eagerNode is one relation level of an eager load tree
type eagerNode struct {
	name       string
	path       string
	constraint Constraint
	children   []*eagerNode
	index      map[string]*eagerNode
}

func (n *eagerNode) child(name string) *eagerNode {
	if c, ok := n.index[name]; ok {
		return c
	}
	path := name
	if n.path != "" {
		path = n.path + "." + name
	}
	c := &eagerNode{name: name, path: path, index: make(map[string]*eagerNode)}
	n.index[name] = c
	n.children = append(n.children, c)
	return c
}

// eagerTree merges dot paths ("tasks.comments", "tasks.owner") sharing a prefix
type eagerTree struct {
	root  *eagerNode
	order []string
}

func newEagerTree(paths []string, constraints map[string]Constraint) *eagerTree {
	t := &eagerTree{root: &eagerNode{index: make(map[string]*eagerNode)}}

	// Constrained paths load even when not listed; sorted for a stable plan
	all := slices.Clone(paths)
	extra := make([]string, 0, len(constraints))
	for p := range constraints {
		extra = append(extra, p)
	}
	slices.Sort(extra)
	all = append(all, extra...)

	for _, p := range all {
		node := t.root
		for _, seg := range strings.Split(p, ".") {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			node = node.child(seg)
		}
		if node != t.root {
			if c, ok := constraints[p]; ok {
				node.constraint = c
			}
		}
	}
	for _, c := range t.root.children {
		t.order = append(t.order, c.name)
	}
	return t
}

// eagerLoad resolves the tree level by level: each level costs a fixed number
// of queries per schema among the parents, regardless of how many parents
// there are.
func eagerLoad(ctx context.Context, parents []*Model, tree *eagerTree) error {
	return loadLevel(ctx, parents, tree.root.children)
}

func loadLevel(ctx context.Context, parents []*Model, nodes []*eagerNode) error {
	if len(parents) == 0 || len(nodes) == 0 {
		return nil
	}
	groups := groupBySchema(parents)

	for _, node := range nodes {
		var next []*Model
		seen := make(map[*Model]struct{})

		for _, group := range groups {
			rel, err := group[0].Relation(node.name)
			if err != nil {
				var unknown *UnknownRelationError
				if errors.As(err, &unknown) {
					return &UnknownRelationError{Schema: unknown.Schema, Relation: node.name, Path: node.path}
				}
				return err
			}

			constraints := rel.constraints
			if node.constraint != nil {
				constraints = append(slices.Clone(constraints), node.constraint)
			}
			res, err := resolve(ctx, rel.def, constraints, group)
			if err != nil {
				return err
			}
			for _, p := range group {
				p.relations[node.name] = res.match(p)
			}
			for _, m := range res.related {
				if _, dup := seen[m]; !dup {
					seen[m] = struct{}{}
					next = append(next, m)
				}
			}
		}

		if err := loadLevel(ctx, next, node.children); err != nil {
			return err
		}
	}
	return nil
}

// groupBySchema partitions models by schema, in order of first appearance
func groupBySchema(models []*Model) [][]*Model {
	var groups [][]*Model
	index := make(map[*Schema]int)
	for _, m := range models {
		i, ok := index[m.schema]
		if !ok {
			i = len(groups)
			index[m.schema] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

// countRequest asks for <name>_count on every parent
type countRequest struct {
	name       string
	constraint Constraint
}

func countRequests(names []string) []countRequest {
	reqs := make([]countRequest, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			reqs = append(reqs, countRequest{name: n})
		}
	}
	return reqs
}

func countAttribute(relation string) string {
	return relation + "_count"
}

// loadCounts sets <relation>_count attributes with one grouped query per
// relation and schema. Counts do not nest: "a.b" is an unknown relation.
func loadCounts(ctx context.Context, parents []*Model, reqs []countRequest) error {
	if len(parents) == 0 {
		return nil
	}
	groups := groupBySchema(parents)
	for _, req := range reqs {
		for _, group := range groups {
			rel, err := group[0].Relation(req.name)
			if err != nil {
				return err
			}
			constraints := rel.constraints
			if req.constraint != nil {
				constraints = append(slices.Clone(constraints), req.constraint)
			}
			counts, err := countRelated(ctx, rel.def, constraints, group)
			if err != nil {
				return err
			}
			for _, p := range group {
				p.setSynthetic(countAttribute(req.name), counts[p])
			}
		}
	}
	return nil
}
