package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/nerrad567/home-awareness/internal/bus"
	"github.com/nerrad567/home-awareness/internal/events"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher is the part of the event bus the store needs.
type Publisher interface {
	Publish(name string, payload bus.Payload) (bool, error)
}

// Store is the runtime settings registry. Modules register their fields at
// startup; values are persisted through the Repository and every change is
// announced on the bus as config.changed.
//
// All public methods are thread-safe.
type Store struct {
	mu      sync.RWMutex
	modules map[string]*module
	order   []string

	repo      Repository
	publisher Publisher
	logger    Logger
}

type module struct {
	fields []Field
	byName map[string]Field
	values map[string]any
}

// NewStore creates a settings store. A nil repo keeps values in memory only;
// a nil publisher suppresses change events.
func NewStore(repo Repository, publisher Publisher) *Store {
	return &Store{
		modules:   make(map[string]*module),
		repo:      repo,
		publisher: publisher,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// RegisterModule declares the fields of a module.
//
// Each field starts at its default. Persisted values of the right type then
// replace the defaults; persisted values of the wrong type are ignored.
// Fields missing from storage are written back so that the stored view is
// complete.
//
// Returns ErrModuleExists if name is already registered.
func (s *Store) RegisterModule(ctx context.Context, name string, fields ...Field) error {
	m := &module{
		fields: fields,
		byName: make(map[string]Field, len(fields)),
		values: make(map[string]any, len(fields)),
	}
	for _, f := range fields {
		if err := f.validate(); err != nil {
			return fmt.Errorf("module %s: %w", name, err)
		}
		if _, dup := m.byName[f.Name]; dup {
			return fmt.Errorf("module %s: %w: duplicate field %s", name, ErrInvalidField, f.Name)
		}
		m.byName[f.Name] = f
		def, _ := f.Coerce(f.Default) //nolint:errcheck // validated above
		m.values[f.Name] = def
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.modules[name]; exists {
		return fmt.Errorf("%w: %s", ErrModuleExists, name)
	}

	if s.repo != nil {
		if err := s.loadModule(ctx, name, m); err != nil {
			return err
		}
	}

	s.modules[name] = m
	s.order = append(s.order, name)
	s.logger.Debug("settings module registered", "module", name, "fields", len(fields))
	return nil
}

// loadModule overlays stored values on the defaults. Caller holds s.mu.
func (s *Store) loadModule(ctx context.Context, name string, m *module) error {
	stored, err := s.repo.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("loading settings for %s: %w", name, err)
	}

	missing := make(map[string]any)
	for _, f := range m.fields {
		raw, ok := stored[f.Name]
		if !ok {
			missing[f.Name] = m.values[f.Name]
			continue
		}

		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			s.logger.Warn("ignoring unreadable stored setting", "module", name, "item", f.Name, "error", err)
			continue
		}
		value, err := f.Coerce(decoded)
		if err != nil {
			s.logger.Warn("ignoring stored setting of wrong type", "module", name, "item", f.Name, "error", err)
			continue
		}
		m.values[f.Name] = value
	}

	if len(missing) > 0 {
		if err := s.repo.Save(ctx, name, missing); err != nil {
			return fmt.Errorf("saving defaults for %s: %w", name, err)
		}
	}
	return nil
}

// Get returns the current value of module.item in canonical form.
func (s *Store) Get(moduleName, item string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, value, err := s.lookup(moduleName, item)
	if err != nil {
		return nil, err
	}
	return clone(value), nil
}

// lookup resolves a field and its value. Caller holds s.mu.
func (s *Store) lookup(moduleName, item string) (Field, any, error) {
	m, ok := s.modules[moduleName]
	if !ok {
		return Field{}, nil, fmt.Errorf("%w: %s", ErrUnknownModule, moduleName)
	}
	f, ok := m.byName[item]
	if !ok {
		return Field{}, nil, fmt.Errorf("%w: %s.%s", ErrUnknownItem, moduleName, item)
	}
	return f, m.values[item], nil
}

// Bool returns a KindBool value.
func (s *Store) Bool(moduleName, item string) (bool, error) {
	return typed[bool](s, moduleName, item)
}

// Int returns a KindInt value.
func (s *Store) Int(moduleName, item string) (int, error) {
	return typed[int](s, moduleName, item)
}

// String returns a KindString or KindChoice value.
func (s *Store) String(moduleName, item string) (string, error) {
	return typed[string](s, moduleName, item)
}

// Tuples returns a KindTupleList value. The result is a copy.
func (s *Store) Tuples(moduleName, item string) ([][]string, error) {
	return typed[[][]string](s, moduleName, item)
}

func typed[T any](s *Store, moduleName, item string) (T, error) {
	var zero T
	v, err := s.Get(moduleName, item)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s.%s is %T", ErrTypeMismatch, moduleName, item, v)
	}
	return t, nil
}

// Set validates, persists and publishes a single value.
//
// Returns ErrUnknownModule, ErrUnknownItem or ErrTypeMismatch without
// changing anything.
func (s *Store) Set(ctx context.Context, moduleName, item string, value any) error {
	s.mu.Lock()
	f, _, err := s.lookup(moduleName, item)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	canonical, err := f.Coerce(value)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if s.repo != nil {
		if err := s.repo.Save(ctx, moduleName, map[string]any{item: canonical}); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("persisting %s.%s: %w", moduleName, item, err)
		}
	}
	s.modules[moduleName].values[item] = canonical
	s.mu.Unlock()

	s.logger.Info("setting changed", "module", moduleName, "item", item)
	s.announce(moduleName, item, canonical)
	return nil
}

// Update applies a batch of values keyed by module then item.
//
// Unknown modules and items are logged and skipped, as are values of the
// wrong type. Everything accepted is persisted in one transaction; if that
// fails nothing changes and no event is published. Changes are announced in
// module then item order.
func (s *Store) Update(ctx context.Context, update map[string]map[string]any) error {
	s.mu.Lock()
	accepted := make(map[string]map[string]any)
	for _, moduleName := range slices.Sorted(maps.Keys(update)) {
		m, ok := s.modules[moduleName]
		if !ok {
			s.logger.Warn("found settings for unknown module", "module", moduleName)
			continue
		}
		for _, item := range slices.Sorted(maps.Keys(update[moduleName])) {
			f, ok := m.byName[item]
			if !ok {
				s.logger.Warn("found unknown settings item", "module", moduleName, "item", item)
				continue
			}
			value, err := f.Coerce(update[moduleName][item])
			if err != nil {
				s.logger.Warn("skipping setting of wrong type", "module", moduleName, "item", item, "error", err)
				continue
			}
			if accepted[moduleName] == nil {
				accepted[moduleName] = make(map[string]any)
			}
			accepted[moduleName][item] = value
		}
	}
	if len(accepted) == 0 {
		s.mu.Unlock()
		return nil
	}

	if s.repo != nil {
		if err := s.repo.SaveAll(ctx, accepted); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("persisting settings update: %w", err)
		}
	}
	for moduleName, values := range accepted {
		maps.Copy(s.modules[moduleName].values, values)
	}
	s.mu.Unlock()

	for _, moduleName := range slices.Sorted(maps.Keys(accepted)) {
		for _, item := range slices.Sorted(maps.Keys(accepted[moduleName])) {
			s.announce(moduleName, item, accepted[moduleName][item])
		}
	}
	return nil
}

func (s *Store) announce(moduleName, item string, value any) {
	if s.publisher == nil {
		return
	}
	_, err := s.publisher.Publish(events.ConfigChanged, events.ConfigChangedEvent{
		Module: moduleName,
		Item:   item,
		Value:  clone(value),
	})
	if err != nil {
		s.logger.Error("config change handler failed", "module", moduleName, "item", item, "error", err)
	}
}

// ItemView describes one setting for display and editing.
type ItemView struct {
	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	Default  any      `json:"default"`
	Value    any      `json:"value"`
	Choices  []string `json:"choices,omitempty"`
	Elements []string `json:"elements,omitempty"`
}

// ModuleView groups the settings of one module.
type ModuleView struct {
	Name  string     `json:"name"`
	Items []ItemView `json:"items"`
}

// Modules returns every registered module in registration order, with fields
// in declaration order.
func (s *Store) Modules() []ModuleView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]ModuleView, 0, len(s.order))
	for _, name := range s.order {
		m := s.modules[name]
		view := ModuleView{Name: name, Items: make([]ItemView, 0, len(m.fields))}
		for _, f := range m.fields {
			def, _ := f.Coerce(f.Default) //nolint:errcheck // validated at registration
			view.Items = append(view.Items, ItemView{
				Name:     f.Name,
				Kind:     f.Kind,
				Default:  def,
				Value:    clone(m.values[f.Name]),
				Choices:  f.Choices,
				Elements: f.Elements,
			})
		}
		views = append(views, view)
	}
	return views
}

// Values returns the current values of every module keyed by module then item.
func (s *Store) Values() map[string]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]any, len(s.modules))
	for name, m := range s.modules {
		values := make(map[string]any, len(m.values))
		for item, v := range m.values {
			values[item] = clone(v)
		}
		out[name] = values
	}
	return out
}
