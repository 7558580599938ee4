package module

import "sync"

// The registry holds each module's port bundle by name so main can register
// modules as it builds them and late wiring can look ports up without holding
// the module value itself. Single process composition only

var (
	mu  sync.RWMutex
	reg = map[string]any{}
)

// Register stores the port bundle for a module name, replacing any previous one
func Register(name string, ports any) {
	mu.Lock()
	reg[name] = ports
	mu.Unlock()
}

// PortsAs fetches the bundle registered under name and asserts it to T
func PortsAs[T any](name string) (T, bool) {
	mu.RLock()
	v, ok := reg[name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, false
	}
	out, ok := v.(T)
	return out, ok
}

// Reset clears the registry between tests
func Reset() {
	mu.Lock()
	reg = map[string]any{}
	mu.Unlock()
}
