package topology

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Aishwarya-Atre-1/ziggurat/errors"
	"github.com/Aishwarya-Atre-1/ziggurat/message"
)

type processFunc func(ctx context.Context, msg *message.Message) error

type node struct {
	name     string
	kind     string
	handle   func(ctx context.Context, msg *message.Message, forward processFunc) error
	children []*node
}

func (n *node) process(ctx context.Context, msg *message.Message) error {
	return n.handle(ctx, msg, n.forward)
}

func (n *node) forward(ctx context.Context, msg *message.Message) error {
	var errs []error
	for _, child := range n.children {
		if err := child.process(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Source is an entry point of a topology
type Source struct {
	Name    string
	Pattern *regexp.Regexp
	root    *node
}

// Matches reports whether topic is consumed by this source
func (s *Source) Matches(topic string) bool {
	return s.Pattern.MatchString(topic)
}

// Builder assembles a topology
type Builder struct {
	sources []*Source
	names   map[string]bool
	errs    []error
	sinks   int
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{names: make(map[string]bool)}
}

func (b *Builder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

func (b *Builder) add(parent *node, n *node) *node {
	if b.names[n.name] {
		b.fail("duplicate node name %q", n.name)
	}
	b.names[n.name] = true
	if parent != nil {
		parent.children = append(parent.children, n)
	}
	return n
}

// Stream opens a source on every topic matching pattern. The pattern is
// anchored so "orders" does not match "orders-dlq".
func (b *Builder) Stream(name, pattern string) *Stream {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		b.fail("source %q: invalid pattern %q: %v", name, pattern, err)
		re = regexp.MustCompile("$^")
	}

	root := b.add(nil, &node{
		name: name,
		kind: "source",
		handle: func(ctx context.Context, msg *message.Message, forward processFunc) error {
			return forward(ctx, msg)
		},
	})
	b.sources = append(b.sources, &Source{Name: name, Pattern: re, root: root})
	return &Stream{builder: b, node: root}
}

// Build validates the graph and returns the topology
func (b *Builder) Build() (*Topology, error) {
	if len(b.sources) == 0 {
		b.fail("topology has no sources")
	}
	if b.sinks == 0 {
		b.fail("topology has no sink")
	}
	if len(b.errs) > 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, errors.Join(b.errs...)),
			"Builder", "Build", "validate topology")
	}

	sources := make(map[string]*Source, len(b.sources))
	for _, s := range b.sources {
		sources[s.Name] = s
	}
	return &Topology{sources: sources, order: b.sources}, nil
}

// Stream is a handle on a node of the graph under construction
type Stream struct {
	builder *Builder
	node    *node
}

// Map transforms each message
func (s *Stream) Map(name string, fn func(*message.Message) *message.Message) *Stream {
	n := s.builder.add(s.node, &node{
		name: name,
		kind: "processor",
		handle: func(ctx context.Context, msg *message.Message, forward processFunc) error {
			return forward(ctx, fn(msg))
		},
	})
	return &Stream{builder: s.builder, node: n}
}

// Peek runs fn for its side effects and forwards the message unchanged
func (s *Stream) Peek(name string, fn func(context.Context, *message.Message)) *Stream {
	n := s.builder.add(s.node, &node{
		name: name,
		kind: "processor",
		handle: func(ctx context.Context, msg *message.Message, forward processFunc) error {
			fn(ctx, msg)
			return forward(ctx, msg)
		},
	})
	return &Stream{builder: s.builder, node: n}
}

// Foreach terminates the stream in fn. Errors from fn are returned to the
// caller of Topology.Process.
func (s *Stream) Foreach(name string, fn message.HandlerFunc) {
	s.builder.sinks++
	s.builder.add(s.node, &node{
		name: name,
		kind: "sink",
		handle: func(ctx context.Context, msg *message.Message, _ processFunc) error {
			return fn(ctx, msg)
		},
	})
}

// Topology is a built, immutable processing graph
type Topology struct {
	sources map[string]*Source
	order   []*Source
}

// Sources returns the topology's sources in creation order
func (t *Topology) Sources() []*Source {
	return append([]*Source(nil), t.order...)
}

// Process runs msg through the graph from the named source
func (t *Topology) Process(ctx context.Context, source string, msg *message.Message) error {
	s, ok := t.sources[source]
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("unknown source %q", source), "Topology", "Process", "route message")
	}
	return s.root.process(ctx, msg)
}

// Describe renders the graph, one node per line, children indented
func (t *Topology) Describe() string {
	var sb strings.Builder
	seen := make(map[*node]bool)

	var walk func(n *node, depth int)
	walk = func(n *node, depth int) {
		fmt.Fprintf(&sb, "%s%s: %s\n", strings.Repeat("  ", depth), n.kind, n.name)
		if seen[n] {
			return
		}
		seen[n] = true
		children := append([]*node(nil), n.children...)
		sort.SliceStable(children, func(i, j int) bool { return children[i].name < children[j].name })
		for _, c := range children {
			walk(c, depth+1)
		}
	}

	for _, s := range t.order {
		fmt.Fprintf(&sb, "source %s [%s]\n", s.Name, s.Pattern.String())
		for _, c := range s.root.children {
			walk(c, 1)
		}
	}
	return sb.String()
}
