package sublimechain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"
)

// binding pairs a spec with its executable capability. Exactly one of local or
// server is set. Bindings are rebuilt wholesale on every load and never
// mutated in place, so in-flight dispatches can keep using the snapshot they
// were issued under.
type binding struct {
	spec   ToolSpec
	schema *jsonschema.Schema
	local  Tool
	server ToolServer
	remote string // tool name on the server, before prefixing
}

// Snapshot is an immutable, versioned view of all currently invocable tools.
// Safe for concurrent read-only use.
type Snapshot struct {
	version  uint64
	order    []string
	bindings map[string]binding
}

// Version returns the snapshot's monotonically increasing version number.
func (s *Snapshot) Version() uint64 { return s.version }

// Len returns the number of tools in the snapshot.
func (s *Snapshot) Len() int { return len(s.order) }

// Names returns tool names in registration order.
func (s *Snapshot) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Specs returns the tool specifications in registration order.
func (s *Snapshot) Specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(s.order))
	for _, name := range s.order {
		specs = append(specs, s.bindings[name].spec)
	}
	return specs
}

// Has reports whether a tool with the given name is present.
func (s *Snapshot) Has(name string) bool {
	_, ok := s.bindings[name]
	return ok
}

func (s *Snapshot) lookup(name string) (binding, bool) {
	b, ok := s.bindings[name]
	return b, ok
}

// Registry aggregates tool specs and executable bindings from in-process
// tools and external tool servers. Load replaces the current snapshot
// atomically; readers are never blocked and never observe a half-built view.
type Registry struct {
	mu      sync.Mutex // serializes Load and source registration
	locals  []Tool
	servers []ToolServer
	logger  *slog.Logger

	version atomic.Uint64
	current atomic.Pointer[Snapshot]
}

// NewRegistry constructs an empty registry. A nil logger falls back to
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.current.Store(&Snapshot{bindings: map[string]binding{}})
	return r
}

// RegisterTool adds a local in-process tool as a load source. Duplicate names
// return an error. Takes effect on the next Load.
func (r *Registry) RegisterTool(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("registry: tool is nil")
	}
	name := strings.TrimSpace(tool.Spec().Name)
	if name == "" {
		return fmt.Errorf("registry: tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.locals {
		if existing.Spec().Name == name {
			return fmt.Errorf("registry: tool %s already registered", name)
		}
	}
	r.locals = append(r.locals, tool)
	return nil
}

// AddServer adds a tool server as a load source. Takes effect on the next
// Load. A server that fails to list tools is excluded from that snapshot,
// never fatal.
func (r *Registry) AddServer(server ToolServer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers = append(r.servers, server)
}

// Current returns the last successfully built snapshot without blocking.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Load rebuilds the snapshot from all registered sources and installs it
// atomically. Partial availability is normal operation: a tool with a schema
// that fails to compile, or a server that cannot be listed, is logged and
// excluded while the load itself still succeeds. Safe to call while
// invocations are in flight.
func (r *Registry) Load(ctx context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := &Snapshot{
		version:  r.version.Add(1),
		bindings: make(map[string]binding),
	}

	for _, tool := range r.locals {
		spec := tool.Spec()
		schema, err := compileSchema(spec)
		if err != nil {
			r.logger.Warn("excluding local tool, schema failed to compile",
				"tool", spec.Name, "error", err)
			continue
		}
		if _, dup := snap.bindings[spec.Name]; dup {
			r.logger.Warn("excluding duplicate local tool", "tool", spec.Name)
			continue
		}
		snap.bindings[spec.Name] = binding{spec: spec, schema: schema, local: tool}
		snap.order = append(snap.order, spec.Name)
	}

	// List all servers in parallel; a failed listing excludes that server
	// from this snapshot only.
	type listing struct {
		server ToolServer
		specs  []ToolSpec
	}
	listings := make([]listing, len(r.servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, server := range r.servers {
		g.Go(func() error {
			specs, err := server.Tools(gctx)
			if err != nil {
				r.logger.Warn("excluding tool server, listing failed",
					"server", server.Name(), "error", err)
				return nil
			}
			listings[i] = listing{server: server, specs: specs}
			return nil
		})
	}
	_ = g.Wait()

	for _, l := range listings {
		if l.server == nil {
			continue
		}
		for _, spec := range l.specs {
			remote := spec.Name
			qualified := l.server.Name() + "." + remote
			if _, taken := snap.bindings[qualified]; taken {
				r.logger.Warn("excluding remote tool, name collision (local wins)",
					"server", l.server.Name(), "tool", remote)
				continue
			}
			spec.Name = qualified
			schema, err := compileSchema(spec)
			if err != nil {
				r.logger.Warn("excluding remote tool, schema failed to compile",
					"server", l.server.Name(), "tool", remote, "error", err)
				continue
			}
			snap.bindings[qualified] = binding{
				spec:   spec,
				schema: schema,
				server: l.server,
				remote: remote,
			}
			snap.order = append(snap.order, qualified)
		}
	}

	r.current.Store(snap)
	r.logger.Info("registry loaded", "version", snap.version, "tools", snap.Len())
	return snap, nil
}

// Close releases every registered tool server. Best effort; the first error
// is returned.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for _, server := range r.servers {
		if err := server.Close(); err != nil && first == nil {
			first = fmt.Errorf("registry: close server %s: %w", server.Name(), err)
		}
	}
	return first
}

// compileSchema compiles a spec's parameter schema at load time so that
// dispatch-time validation is cheap. A nil schema means validation is skipped
// for that tool.
func compileSchema(spec ToolSpec) (*jsonschema.Schema, error) {
	if len(spec.InputSchema) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(spec.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	schema, err := jsonschema.CompileString(spec.Name+".json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
