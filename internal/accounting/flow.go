// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package accounting

import (
	"fmt"
	"sort"
	"time"
)

// DefaultSeparator joins node names into the path of a flattened interval
const DefaultSeparator = "/"

// Node is a named execution segment of a flow trace. A node without children
// is a leaf; otherwise its children are time-nested within [Start, End) and
// do not overlap each other.
type Node struct {
	Name     string    `json:"name"`
	Source   Source    `json:"source"`
	Start    Timestamp `json:"start"`
	End      Timestamp `json:"end"`
	Children []Node    `json:"children,omitempty"`
}

// IsLeaf reports whether n has no children
func (n Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Interval is a leaf-level segment of a flattened flow trace
type Interval struct {
	Source Source
	Name   string
	Start  Timestamp
	End    Timestamp
}

// Duration returns the length of the interval
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) String() string {
	return fmt.Sprintf("%s %s [%d, %d)", iv.Source, iv.Name, iv.Start, iv.End)
}

// Flow maps each source to its non-overlapping intervals, ordered by start
type Flow map[Source][]Interval

// Sources returns the sources of the flow in a stable order
func (f Flow) Sources() []Source {
	return sortedSources(f)
}

// Flattener converts flow trees into a Flow
type Flattener struct {
	separator string
}

// FlattenOptFn configures a Flattener
type FlattenOptFn func(*Flattener)

// WithSeparator sets the string used to join node names
func WithSeparator(sep string) FlattenOptFn {
	return func(f *Flattener) {
		f.separator = sep
	}
}

// NewFlattener returns a Flattener
func NewFlattener(opts ...FlattenOptFn) *Flattener {
	f := &Flattener{separator: DefaultSeparator}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Flatten flattens root with the default separator
func Flatten(root Node) (Flow, error) {
	return NewFlattener().Flatten(root)
}

// FlattenForest flattens several top-level nodes with the default separator
func FlattenForest(roots []Node) (Flow, error) {
	return NewFlattener().FlattenForest(roots)
}

// Flatten resolves the tree under root into leaf-level intervals. An internal
// node's time not covered by descendants on its own source is emitted as an
// interval named after the node.
func (f *Flattener) Flatten(root Node) (Flow, error) {
	return f.flatten(root, "")
}

// FlattenForest flattens each root and merges the results. Intervals of
// different roots on the same source must not overlap.
func (f *Flattener) FlattenForest(roots []Node) (Flow, error) {
	merged := Flow{}
	for _, root := range roots {
		flow, err := f.flatten(root, "")
		if err != nil {
			return nil, err
		}
		for src, ivs := range flow {
			merged[src] = append(merged[src], ivs...)
		}
	}

	for src, ivs := range merged {
		sortIntervals(ivs)
		for i := 1; i < len(ivs); i++ {
			if ivs[i].Start < ivs[i-1].End {
				return nil, TraceError{
					Path:   ivs[i].Name,
					Reason: fmt.Sprintf("overlaps %s on %s", ivs[i-1].Name, src),
				}
			}
		}
	}
	return merged, nil
}

func (f *Flattener) path(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + f.separator + name
}

func (f *Flattener) flatten(n Node, prefix string) (Flow, error) {
	path := f.path(prefix, n.Name)
	if n.End < n.Start {
		return nil, TraceError{Path: path, Reason: fmt.Sprintf("end %d before start %d", n.End, n.Start)}
	}

	if n.IsLeaf() {
		return Flow{n.Source: {{Source: n.Source, Name: path, Start: n.Start, End: n.End}}}, nil
	}

	children := make([]Node, len(n.Children))
	copy(children, n.Children)
	sort.SliceStable(children, func(i, j int) bool {
		if children[i].Start != children[j].Start {
			return children[i].Start < children[j].Start
		}
		return children[i].End < children[j].End
	})

	flow := Flow{}
	for i, child := range children {
		childPath := f.path(path, child.Name)
		if child.Start < n.Start || child.End > n.End {
			return nil, TraceError{
				Path:   childPath,
				Reason: fmt.Sprintf("[%d, %d) exceeds parent [%d, %d)", child.Start, child.End, n.Start, n.End),
			}
		}
		if i > 0 && child.Start < children[i-1].End {
			return nil, TraceError{
				Path:   childPath,
				Reason: fmt.Sprintf("overlaps sibling %s", children[i-1].Name),
			}
		}

		sub, err := f.flatten(child, path)
		if err != nil {
			return nil, err
		}
		// children are ordered and disjoint so appending keeps each source ordered
		for src, ivs := range sub {
			flow[src] = append(flow[src], ivs...)
		}
	}

	flow[n.Source] = withSelfTime(n.Source, path, n.Start, n.End, flow[n.Source])
	return flow, nil
}

// withSelfTime interleaves the gaps of covered within [start, end) as
// intervals named path
func withSelfTime(src Source, path string, start, end Timestamp, covered []Interval) []Interval {
	out := make([]Interval, 0, 2*len(covered)+1)
	cursor := start
	for _, iv := range covered {
		if iv.Start > cursor {
			out = append(out, Interval{Source: src, Name: path, Start: cursor, End: iv.Start})
		}
		out = append(out, iv)
		if iv.End > cursor {
			cursor = iv.End
		}
	}
	if end > cursor {
		out = append(out, Interval{Source: src, Name: path, Start: cursor, End: end})
	}
	return out
}

func sortIntervals(ivs []Interval) {
	sort.SliceStable(ivs, func(i, j int) bool {
		if ivs[i].Start != ivs[j].Start {
			return ivs[i].Start < ivs[j].Start
		}
		return ivs[i].End < ivs[j].End
	})
}

func sortedSources[V any](m map[Source]V) []Source {
	sources := make([]Source, 0, len(m))
	for src := range m {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Less(sources[j])
	})
	return sources
}
