package workflow

import (
	"context"
	"fmt"
)

// End terminates a graph walk.
const End = "__end__"

// NodeFunc mutates state for one step of the workflow.
type NodeFunc func(ctx context.Context, st *State) error

// Graph is a static node graph with one outgoing edge per node.
type Graph struct {
	nodes map[string]NodeFunc
	edges map[string]string
	entry string
}

func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]NodeFunc), edges: make(map[string]string)}
}

func (g *Graph) AddNode(name string, fn NodeFunc) {
	g.nodes[name] = fn
}

// AddEdge routes from to to. A second edge from the same node replaces the first.
func (g *Graph) AddEdge(from, to string) {
	g.edges[from] = to
}

func (g *Graph) SetEntry(name string) {
	g.entry = name
}

// Compiled is a validated graph ready to run.
type Compiled struct {
	nodes map[string]NodeFunc
	edges map[string]string
	entry string
}

// Compile checks that the entry exists, every edge joins known nodes and
// the walk from the entry reaches End without revisiting a node.
func (g *Graph) Compile() (*Compiled, error) {
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, fmt.Errorf("graph: entry node %q not defined", g.entry)
	}
	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, fmt.Errorf("graph: edge from unknown node %q", from)
		}
		if _, ok := g.nodes[to]; !ok && to != End {
			return nil, fmt.Errorf("graph: edge %s -> %s targets unknown node", from, to)
		}
	}
	for name := range g.nodes {
		if err := g.checkAcyclic(name); err != nil {
			return nil, err
		}
	}

	c := &Compiled{nodes: make(map[string]NodeFunc, len(g.nodes)), edges: make(map[string]string, len(g.edges)), entry: g.entry}
	for k, v := range g.nodes {
		c.nodes[k] = v
	}
	for k, v := range g.edges {
		c.edges[k] = v
	}
	return c, nil
}

func (g *Graph) checkAcyclic(start string) error {
	seen := map[string]bool{}
	for cur := start; cur != End && cur != ""; cur = g.edges[cur] {
		if seen[cur] {
			return fmt.Errorf("graph: cycle through %q", cur)
		}
		seen[cur] = true
	}
	return nil
}

// Run walks the graph from the entry. A node without an outgoing edge ends
// the walk. The first node error stops it.
func (c *Compiled) Run(ctx context.Context, st *State) error {
	for cur := c.entry; cur != End && cur != ""; cur = c.edges[cur] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.nodes[cur](ctx, st); err != nil {
			return fmt.Errorf("node %s: %w", cur, err)
		}
	}
	return nil
}
