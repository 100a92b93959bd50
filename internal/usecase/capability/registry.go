package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxspawn/internal/domain"
)

// Handler executes one capability invocation. args is the JSON argument
// object, already validated against the capability's schema.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Registry maps capability names to executable handlers. Descriptors
// reference capabilities by name only; the code always lives here, never
// in the store.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for the named capability, replacing any
// previous registration.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Names returns the registered capability names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Bind resolves a descriptor capability against the registry and
// compiles its parameter schema. An unknown name or uncompilable schema
// makes the whole descriptor unusable (ErrBadDescriptor): agents must
// never go live with a silently missing function.
func (r *Registry) Bind(cap domain.Capability) (*Bound, error) {
	r.mu.RLock()
	h, ok := r.handlers[cap.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("Registry.Bind", domain.ErrBadDescriptor,
			fmt.Sprintf("capability %q is not registered", cap.Name))
	}

	b := &Bound{
		name:        cap.Name,
		description: cap.Description,
		handler:     h,
	}

	if len(cap.Parameters) > 0 && string(cap.Parameters) != "null" {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", bytes.NewReader(cap.Parameters)); err != nil {
			return nil, domain.NewDomainError("Registry.Bind", domain.ErrBadDescriptor,
				fmt.Sprintf("capability %q schema: %v", cap.Name, err))
		}
		compiled, err := compiler.Compile("schema.json")
		if err != nil {
			return nil, domain.NewDomainError("Registry.Bind", domain.ErrBadDescriptor,
				fmt.Sprintf("capability %q schema: %v", cap.Name, err))
		}
		b.schema = compiled
	}

	return b, nil
}

// Bound is a capability resolved to its handler with a compiled schema.
type Bound struct {
	name        string
	description string
	schema      *jsonschema.Schema
	handler     Handler
}

// Name returns the capability name.
func (b *Bound) Name() string { return b.name }

// Description returns the capability description.
func (b *Bound) Description() string { return b.description }

// Invoke validates args against the capability's schema and runs the
// handler. Validation failures are invocation errors, not panics.
func (b *Bound) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	if b.schema != nil {
		var v interface{}
		if err := json.Unmarshal(args, &v); err != nil {
			return "", fmt.Errorf("capability %q: invalid JSON args: %w", b.name, err)
		}
		if err := b.schema.Validate(v); err != nil {
			return "", fmt.Errorf("capability %q: args rejected: %w", b.name, err)
		}
	}
	return b.handler(ctx, args)
}
