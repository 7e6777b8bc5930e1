package config

import (
	"fmt"
	"sync"

	"github.com/cuemby/warren/pkg/types"
)

// Snapshot is the in-memory, mutex-guarded view of Configuration: the
// cluster's worker/family/database/table topology plus schema-typed
// parameters. A process owns exactly one Snapshot; every package that
// needs topology or parameters is handed a reference to it.
type Snapshot struct {
	mu sync.RWMutex

	schema  Schema
	version uint64
	frozen  bool
	bus     *Bus

	workers   map[string]types.Worker
	families  map[string]types.DatabaseFamily
	databases map[string]types.Database
	tables    map[string]map[string]types.Table // database -> table name -> Table

	params map[string]map[string]interface{} // category -> param -> value
}

// New creates an empty Snapshot against schema, with its change bus
// started.
func New(schema Schema) *Snapshot {
	s := &Snapshot{
		schema:    schema,
		bus:       NewBus(),
		workers:   make(map[string]types.Worker),
		families:  make(map[string]types.DatabaseFamily),
		databases: make(map[string]types.Database),
		tables:    make(map[string]map[string]types.Table),
		params:    make(map[string]map[string]interface{}),
	}
	s.bus.Start()
	return s
}

// Bus returns the Snapshot's change-notification bus.
func (s *Snapshot) Bus() *Bus {
	return s.bus
}

// Version returns the number of mutations applied so far.
func (s *Snapshot) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Freeze rejects all subsequent mutators; it is called once at
// controller startup after the initial Document has been applied.
func (s *Snapshot) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
}

func (s *Snapshot) bumpVersion() uint64 {
	s.version++
	return s.version
}

// Workers returns a snapshot copy of the worker topology.
func (s *Snapshot) Workers() []types.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out
}

// Worker looks up one worker by name.
func (s *Snapshot) Worker(name string) (types.Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[name]
	return w, ok
}

// Families returns a snapshot copy of the database families.
func (s *Snapshot) Families() []types.DatabaseFamily {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.DatabaseFamily, 0, len(s.families))
	for _, f := range s.families {
		out = append(out, f)
	}
	return out
}

// Databases returns a snapshot copy of the known databases.
func (s *Snapshot) Databases() []types.Database {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Database, 0, len(s.databases))
	for _, d := range s.databases {
		out = append(out, d)
	}
	return out
}

// Tables returns the tables belonging to database.
func (s *Snapshot) Tables(database string) []types.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byName := s.tables[database]
	out := make([]types.Table, 0, len(byName))
	for _, t := range byName {
		out = append(out, t)
	}
	return out
}

func (s *Snapshot) checkMutable(op string) error {
	if s.frozen {
		return &FrozenError{Op: op}
	}
	return nil
}

// AddWorker registers a new worker. Name must be unique.
func (s *Snapshot) AddWorker(w types.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutable("AddWorker"); err != nil {
		return err
	}
	if _, exists := s.workers[w.Name]; exists {
		return refErr("AddWorker", "worker %q already exists", w.Name)
	}
	s.workers[w.Name] = w
	v := s.bumpVersion()
	s.bus.publish(Change{Type: ChangeWorkerAdded, Name: w.Name, Version: v})
	return nil
}

// UpdateWorker replaces an existing worker's fields.
func (s *Snapshot) UpdateWorker(w types.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutable("UpdateWorker"); err != nil {
		return err
	}
	if _, exists := s.workers[w.Name]; !exists {
		return refErr("UpdateWorker", "worker %q does not exist", w.Name)
	}
	s.workers[w.Name] = w
	v := s.bumpVersion()
	s.bus.publish(Change{Type: ChangeWorkerUpdated, Name: w.Name, Version: v})
	return nil
}

// DeleteWorker removes a worker by name.
func (s *Snapshot) DeleteWorker(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutable("DeleteWorker"); err != nil {
		return err
	}
	if _, exists := s.workers[name]; !exists {
		return refErr("DeleteWorker", "worker %q does not exist", name)
	}
	delete(s.workers, name)
	v := s.bumpVersion()
	s.bus.publish(Change{Type: ChangeWorkerDeleted, Name: name, Version: v})
	return nil
}

// AddDatabaseFamily registers a new database family.
func (s *Snapshot) AddDatabaseFamily(f types.DatabaseFamily) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutable("AddDatabaseFamily"); err != nil {
		return err
	}
	if _, exists := s.families[f.Name]; exists {
		return refErr("AddDatabaseFamily", "family %q already exists", f.Name)
	}
	s.families[f.Name] = f
	s.bumpVersion()
	return nil
}

// AddDatabase registers a new database; FamilyName must already exist.
func (s *Snapshot) AddDatabase(d types.Database) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutable("AddDatabase"); err != nil {
		return err
	}
	if _, exists := s.databases[d.Name]; exists {
		return refErr("AddDatabase", "database %q already exists", d.Name)
	}
	if _, exists := s.families[d.FamilyName]; !exists {
		return refErr("AddDatabase", "database %q references unknown family %q", d.Name, d.FamilyName)
	}
	s.databases[d.Name] = d
	v := s.bumpVersion()
	s.bus.publish(Change{Type: ChangeDatabaseAdded, Name: d.Name, Version: v})
	return nil
}

// PublishDatabase marks a database as published (queryable).
func (s *Snapshot) PublishDatabase(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutable("PublishDatabase"); err != nil {
		return err
	}
	d, exists := s.databases[name]
	if !exists {
		return refErr("PublishDatabase", "database %q does not exist", name)
	}
	d.IsPublished = true
	s.databases[name] = d
	v := s.bumpVersion()
	s.bus.publish(Change{Type: ChangeDatabaseUpdated, Name: name, Version: v})
	return nil
}

// AddTable registers a new table; DatabaseName must already exist.
func (s *Snapshot) AddTable(t types.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkMutable("AddTable"); err != nil {
		return err
	}
	if _, exists := s.databases[t.DatabaseName]; !exists {
		return refErr("AddTable", "table %q references unknown database %q", t.Name, t.DatabaseName)
	}
	byName, ok := s.tables[t.DatabaseName]
	if !ok {
		byName = make(map[string]types.Table)
		s.tables[t.DatabaseName] = byName
	}
	if _, exists := byName[t.Name]; exists {
		return refErr("AddTable", "table %q already exists in database %q", t.Name, t.DatabaseName)
	}
	byName[t.Name] = t
	s.bumpVersion()
	return nil
}

// Set assigns a schema-validated value to category.param.
func (s *Snapshot) Set(category, param string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, err := s.schema.Lookup(category, param)
	if err != nil {
		return err
	}
	if spec.ReadOnly {
		return &FrozenError{Op: fmt.Sprintf("Set(%s.%s)", category, param)}
	}
	if err := s.checkMutable(fmt.Sprintf("Set(%s.%s)", category, param)); err != nil {
		return err
	}
	var typeOK bool
	switch value.(type) {
	case string:
		typeOK = spec.Type == ParamString
	case int:
		typeOK = spec.Type == ParamInt
	case float64:
		typeOK = spec.Type == ParamFloat
	case bool:
		typeOK = spec.Type == ParamBool
	case []string:
		typeOK = spec.Type == ParamStringList
	}
	if !typeOK {
		return fmt.Errorf("config: %s.%s is %s, got %T", category, param, spec.Type, value)
	}
	byName, ok := s.params[category]
	if !ok {
		byName = make(map[string]interface{})
		s.params[category] = byName
	}
	byName[param] = value
	v := s.bumpVersion()
	s.bus.publish(Change{Type: ChangeParamSet, Name: category + "." + param, Version: v})
	return nil
}

func (s *Snapshot) rawGet(category, param string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, err := s.schema.Lookup(category, param)
	if err != nil {
		return nil, err
	}
	if byName, ok := s.params[category]; ok {
		if v, ok := byName[param]; ok {
			return v, nil
		}
	}
	return spec.Default, nil
}

// Get retrieves the schema-validated, typed value of category.param,
// mirroring the spec's get<T>(category, param). T must match the
// ParamType published for the parameter's Go representation (string,
// int, float64, bool, or []string), or Get returns an error.
func Get[T any](s *Snapshot, category, param string) (T, error) {
	var zero T
	raw, err := s.rawGet(category, param)
	if err != nil {
		return zero, err
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("config: %s.%s has type %T, not %T", category, param, raw, zero)
	}
	return v, nil
}

// RetriableContributionErrors is a convenience wrapper over
// Get[[]string]("ingest", "retriable_error_codes"), the Configuration
// list the ingest pipeline consults instead of a hardcoded set.
func (s *Snapshot) RetriableContributionErrors() []string {
	v, err := Get[[]string](s, "ingest", "retriable_error_codes")
	if err != nil {
		return nil
	}
	return v
}
