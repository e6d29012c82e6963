package features

import "sync"

// Predefined feature flag names
const (
	// FlagDeepLinkV2 enables the v2 deep-link token format: links carrying
	// the v2 marker skip the legacy decryption step
	FlagDeepLinkV2 = "deeplink_v2"
	// FlagLinkMinting enables the deep-link minting endpoint
	FlagLinkMinting = "link_minting"
	// FlagEventHooks enables event-driven hooks
	FlagEventHooks = "event_hooks"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string
	Enabled     bool
	Description string
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled checks if a feature flag is enabled. Unknown flags are
// disabled.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	return exists && flag.Enabled
}

// Enable enables a feature flag.
func (m *Manager) Enable(name string) {
	m.setEnabled(name, true)
}

// Disable disables a feature flag.
func (m *Manager) Disable(name string) {
	m.setEnabled(name, false)
}

func (m *Manager) setEnabled(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = enabled
	}
}

// GetAll returns a snapshot of all feature flags.
func (m *Manager) GetAll() map[string]*FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*FeatureFlag, len(m.flags))
	for k, v := range m.flags {
		copy := *v
		result[k] = &copy
	}
	return result
}
