package plugin

import (
	"fmt"
	"sync"

	"github.com/agentorch/ao/internal/oerr"
)

// Registry binds plugin implementations to (slot, name) keys. It is
// populated once at startup and frozen before the first session is
// served; lookups after Freeze never race with registration.
type Registry struct {
	mu     sync.Mutex
	frozen bool
	byKey  map[string]any
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]any)}
}

func key(slot Slot, name string) string {
	return fmt.Sprintf("%s/%s", slot, name)
}

func (r *Registry) register(slot Slot, name string, impl any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return oerr.E(oerr.KindConfig, "registry is frozen; cannot register %s/%s", slot, name)
	}
	k := key(slot, name)
	if _, dup := r.byKey[k]; dup {
		return oerr.E(oerr.KindConfig, "plugin %s already registered", k)
	}
	r.byKey[k] = impl
	return nil
}

func (r *Registry) RegisterRuntime(impl Runtime) error {
	return r.register(SlotRuntime, impl.Name(), impl)
}

func (r *Registry) RegisterAgent(impl Agent) error {
	return r.register(SlotAgent, impl.Name(), impl)
}

func (r *Registry) RegisterSCM(impl SCM) error {
	return r.register(SlotSCM, impl.Name(), impl)
}

func (r *Registry) RegisterTracker(impl Tracker) error {
	return r.register(SlotTracker, impl.Name(), impl)
}

func (r *Registry) RegisterNotifier(impl Notifier) error {
	return r.register(SlotNotifier, impl.Name(), impl)
}

func (r *Registry) RegisterWorkspace(impl Workspace) error {
	return r.register(SlotWorkspace, impl.Name(), impl)
}

// Freeze makes the registry immutable. Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) lookup(slot Slot, name string) (any, error) {
	r.mu.Lock()
	impl, ok := r.byKey[key(slot, name)]
	r.mu.Unlock()
	if !ok {
		return nil, oerr.E(oerr.KindConfig, "no %s plugin named %q", slot, name)
	}
	return impl, nil
}

func (r *Registry) Runtime(name string) (Runtime, error) {
	impl, err := r.lookup(SlotRuntime, name)
	if err != nil {
		return nil, err
	}
	return impl.(Runtime), nil
}

func (r *Registry) Agent(name string) (Agent, error) {
	impl, err := r.lookup(SlotAgent, name)
	if err != nil {
		return nil, err
	}
	return impl.(Agent), nil
}

func (r *Registry) SCM(name string) (SCM, error) {
	impl, err := r.lookup(SlotSCM, name)
	if err != nil {
		return nil, err
	}
	return impl.(SCM), nil
}

func (r *Registry) Tracker(name string) (Tracker, error) {
	impl, err := r.lookup(SlotTracker, name)
	if err != nil {
		return nil, err
	}
	return impl.(Tracker), nil
}

func (r *Registry) Notifier(name string) (Notifier, error) {
	impl, err := r.lookup(SlotNotifier, name)
	if err != nil {
		return nil, err
	}
	return impl.(Notifier), nil
}

func (r *Registry) Workspace(name string) (Workspace, error) {
	impl, err := r.lookup(SlotWorkspace, name)
	if err != nil {
		return nil, err
	}
	return impl.(Workspace), nil
}

// Notifiers resolves a list of notifier names, failing on the first
// unknown name.
func (r *Registry) Notifiers(names []string) ([]Notifier, error) {
	out := make([]Notifier, 0, len(names))
	for _, name := range names {
		n, err := r.Notifier(name)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
