// Assistant profiles loaded from a config file.
//
// Information Hiding:
// - File format detection and env overrides delegated to viper
// - Reload debouncing and watcher fan-out hidden
// - Readers get deep copies; the live value is never shared

package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/richinex/relay/model"
)

// EnvPrefix prefixes environment overrides of profile keys
// (RELAY_DEFAULT overrides "default").
const EnvPrefix = "RELAY"

// ProfileSet is the content of a profile file.
type ProfileSet struct {
	// Default names the assistant used when none is requested.
	Default    string            `mapstructure:"default" json:"default"`
	Assistants []model.Assistant `mapstructure:"assistants" json:"assistants"`
	// Models is the capability table consulted for assistant models.
	Models []model.Model `mapstructure:"models" json:"models"`
}

// Assistant returns the assistant with the given id, or the default one when
// id is empty. Its model is completed from the capability table.
func (p ProfileSet) Assistant(id string) (model.Assistant, error) {
	if id == "" {
		id = p.Default
	}
	for _, a := range p.Assistants {
		if a.ID != id {
			continue
		}
		if a.Model != nil {
			m := p.resolveModel(*a.Model)
			a.Model = &m
		}
		return a, nil
	}
	return model.Assistant{}, fmt.Errorf("assistant %q not found in profiles", id)
}

// Model looks a model up in the capability table.
func (p ProfileSet) Model(id string) (model.Model, bool) {
	for _, m := range p.Models {
		if strings.EqualFold(m.ID, id) {
			return m, true
		}
	}
	return model.Model{}, false
}

// resolveModel fills the provider and capabilities left empty in m.
func (p ProfileSet) resolveModel(m model.Model) model.Model {
	known, ok := p.Model(m.ID)
	if !ok {
		return m
	}
	if m.Provider == "" {
		m.Provider = known.Provider
	}
	if m.Capabilities == (model.Capabilities{}) {
		m.Capabilities = known.Capabilities
	}
	return m
}

func (p ProfileSet) validate() error {
	seen := make(map[string]bool, len(p.Assistants))
	for i, a := range p.Assistants {
		if a.ID == "" {
			return fmt.Errorf("assistant %d has no id", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate assistant id %q", a.ID)
		}
		seen[a.ID] = true
	}
	if p.Default != "" && !seen[p.Default] {
		return fmt.Errorf("default assistant %q not defined", p.Default)
	}
	return nil
}

// Profiles holds a loaded profile file and reloads it on change.
type Profiles struct {
	v        *viper.Viper
	logger   *slog.Logger
	mu       sync.RWMutex
	value    ProfileSet
	watchers []func(old, new ProfileSet)
}

// LoadProfiles reads a YAML, TOML or JSON profile file. Keys can be
// overridden by RELAY_ prefixed environment variables.
func LoadProfiles(path string) (*Profiles, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	p := &Profiles{v: v, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	value, err := p.read()
	if err != nil {
		return nil, err
	}
	p.value = value
	return p, nil
}

// WithLogger sets the logger that reports rejected reloads.
func (p *Profiles) WithLogger(logger *slog.Logger) *Profiles {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// Get returns a deep copy of the current profiles.
func (p *Profiles) Get() ProfileSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return deepCopy(p.value)
}

// OnChange registers a callback run after a reload changed the profiles.
func (p *Profiles) OnChange(callback func(old, new ProfileSet)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchers = append(p.watchers, callback)
}

// Watch reloads the file whenever it changes on disk.
func (p *Profiles) Watch() {
	var (
		debounceTimer *time.Timer
		debounceMu    sync.Mutex
	)

	p.v.OnConfigChange(func(_ fsnotify.Event) {
		debounceMu.Lock()
		defer debounceMu.Unlock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(100*time.Millisecond, p.reload)
	})
	p.v.WatchConfig()
}

func (p *Profiles) read() (ProfileSet, error) {
	if err := p.v.ReadInConfig(); err != nil {
		return ProfileSet{}, fmt.Errorf("failed to read profiles: %w", err)
	}
	var value ProfileSet
	if err := p.v.Unmarshal(&value); err != nil {
		return ProfileSet{}, fmt.Errorf("failed to decode profiles: %w", err)
	}
	if err := value.validate(); err != nil {
		return ProfileSet{}, fmt.Errorf("invalid profiles: %w", err)
	}
	return value, nil
}

// reload re-reads the file. Invalid content keeps the previous profiles.
func (p *Profiles) reload() {
	p.mu.Lock()
	old := deepCopy(p.value)
	value, err := p.read()
	if err != nil {
		p.mu.Unlock()
		p.logger.Warn("profile reload rejected, keeping previous profiles",
			"file", p.v.ConfigFileUsed(),
			"error", err)
		return
	}
	p.value = value
	watchers := make([]func(old, new ProfileSet), len(p.watchers))
	copy(watchers, p.watchers)
	p.mu.Unlock()

	if reflect.DeepEqual(old, value) {
		return
	}
	for i, cb := range watchers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Warn("profile watcher panicked",
						"watcher", i,
						"panic", fmt.Sprint(r))
				}
			}()
			cb(old, deepCopy(value))
		}()
	}
}

// deepCopy copies through JSON so readers never share slices or pointers.
func deepCopy[T any](src T) T {
	var dst T
	data, _ := json.Marshal(src)
	_ = json.Unmarshal(data, &dst)
	return dst
}
