package domain

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// Capability is a class of request an endpoint can serve.
type Capability string

const (
	CapabilityLLM       Capability = "llm"
	CapabilitySearch    Capability = "search"
	CapabilityTranslate Capability = "translate"
)

// PrimaryPriority is the priority rank of a primary endpoint.
const PrimaryPriority = 0

// TransportKind selects the wire protocol used to reach an endpoint.
type TransportKind string

const (
	TransportHTTP TransportKind = "http"
	TransportGRPC TransportKind = "grpc"
)

var (
	ErrNoEndpoints         = errors.New("no endpoints configured")
	ErrUnknownCapability   = errors.New("no endpoint serves capability")
	ErrDuplicateEndpointID = errors.New("duplicate endpoint id")
)

// Endpoint is the static descriptor of one upstream target.
// It is immutable once placed in a Registry.
type Endpoint struct {
	ID              string        `json:"id"`
	Label           string        `json:"label"`
	Priority        int           `json:"priority"`
	Address         string        `json:"address"`
	Capabilities    []Capability  `json:"capabilities"`
	KnownUnreliable bool          `json:"known_unreliable"`
	Transport       TransportKind `json:"transport"`
}

// IsPrimary reports whether the endpoint is a priority-0 endpoint.
func (e *Endpoint) IsPrimary() bool {
	return e.Priority == PrimaryPriority
}

// Serves reports whether the endpoint carries the capability tag.
func (e *Endpoint) Serves(c Capability) bool {
	return slices.Contains(e.Capabilities, c)
}

func (e *Endpoint) String() string {
	if e.Label != "" {
		return fmt.Sprintf("%s (%s)", e.ID, e.Label)
	}
	return e.ID
}

// Registry is the read-only descriptor set for a process or session.
// Endpoints are held by pointer and never copied out.
type Registry struct {
	byID    map[string]*Endpoint
	ordered []*Endpoint
}

// NewRegistry validates and indexes a descriptor set.
func NewRegistry(endpoints []Endpoint) (*Registry, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	r := &Registry{
		byID:    make(map[string]*Endpoint, len(endpoints)),
		ordered: make([]*Endpoint, 0, len(endpoints)),
	}
	for i := range endpoints {
		ep := endpoints[i]
		if ep.ID == "" {
			return nil, fmt.Errorf("endpoint %d: empty id", i)
		}
		if _, ok := r.byID[ep.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEndpointID, ep.ID)
		}
		if ep.Transport == "" {
			ep.Transport = TransportHTTP
		}
		ep.Capabilities = slices.Clone(ep.Capabilities)
		r.byID[ep.ID] = &ep
		r.ordered = append(r.ordered, &ep)
	}

	sort.SliceStable(r.ordered, func(i, j int) bool {
		return Less(r.ordered[i], r.ordered[j])
	})
	return r, nil
}

// Less orders endpoints by priority rank, then by id.
func Less(a, b *Endpoint) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}

// Get returns the descriptor with the given id.
func (r *Registry) Get(id string) (*Endpoint, bool) {
	ep, ok := r.byID[id]
	return ep, ok
}

// IsPrimary reports whether id names a priority-0 endpoint.
func (r *Registry) IsPrimary(id string) bool {
	ep, ok := r.byID[id]
	return ok && ep.IsPrimary()
}

// All returns every endpoint in priority order.
func (r *Registry) All() []*Endpoint {
	return slices.Clone(r.ordered)
}

// ForCapability returns the endpoints serving c in priority order.
func (r *Registry) ForCapability(c Capability) []*Endpoint {
	var out []*Endpoint
	for _, ep := range r.ordered {
		if ep.Serves(c) {
			out = append(out, ep)
		}
	}
	return out
}

// Primary returns the preferred endpoint for c: the best-ranked endpoint
// serving it, normally the priority-0 one.
func (r *Registry) Primary(c Capability) (*Endpoint, error) {
	for _, ep := range r.ordered {
		if ep.Serves(c) {
			return ep, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownCapability, c)
}

// Capabilities returns the distinct capability tags in the registry.
func (r *Registry) Capabilities() []Capability {
	seen := make(map[Capability]bool)
	var out []Capability
	for _, ep := range r.ordered {
		for _, c := range ep.Capabilities {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	slices.Sort(out)
	return out
}
