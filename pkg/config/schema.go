package config

import "fmt"

// ParamType is the declared type of one Schema parameter.
type ParamType int

const (
	ParamString ParamType = iota
	ParamInt
	ParamFloat
	ParamBool
	ParamStringList
)

func (t ParamType) String() string {
	switch t {
	case ParamString:
		return "string"
	case ParamInt:
		return "int"
	case ParamFloat:
		return "float"
	case ParamBool:
		return "bool"
	case ParamStringList:
		return "string_list"
	default:
		return "unknown"
	}
}

// ParamSpec is the published contract for one (category, parameter)
// pair: its type, default, and mutability.
type ParamSpec struct {
	Type ParamType
	// Default is returned by Get when the value was never set in the
	// loaded Document.
	Default interface{}
	// ReadOnly parameters reject every Set, whether or not the owning
	// Snapshot is frozen, so they always read as their Default.
	ReadOnly bool
	// Security parameters are redacted by log.Redacted when logged.
	Security bool
	// AllowEmpty records whether the empty string / zero value is an
	// admissible value. Set does not consult it: an empty or zero value
	// is stored and returned like any other.
	AllowEmpty bool
}

// Schema publishes every known (category, parameter) pair. It is
// immutable once constructed.
type Schema map[string]map[string]ParamSpec

// Lookup returns the ParamSpec for category/param, or an error if
// either is not published by the schema.
func (s Schema) Lookup(category, param string) (ParamSpec, error) {
	cat, ok := s[category]
	if !ok {
		return ParamSpec{}, fmt.Errorf("config: unknown category %q", category)
	}
	spec, ok := cat[param]
	if !ok {
		return ParamSpec{}, fmt.Errorf("config: unknown parameter %q.%q", category, param)
	}
	return spec, nil
}

// DefaultSchema publishes the control plane's built-in parameters.
// New and Build take the Schema explicitly; callers with no custom
// parameters pass this one.
func DefaultSchema() Schema {
	return Schema{
		"controller": {
			"heartbeat_interval_sec": {Type: ParamInt, Default: 10},
			"job_scheduling_interval_ms": {Type: ParamInt, Default: 500},
			"instance_id": {Type: ParamString, Default: "", AllowEmpty: true, ReadOnly: true},
		},
		"messenger": {
			"request_timeout_sec":        {Type: ParamInt, Default: 300},
			"max_queue_depth_per_worker":  {Type: ParamInt, Default: 1000},
			"max_retries":                 {Type: ParamInt, Default: 3},
		},
		"replication": {
			"worker_eviction_timeout_sec":   {Type: ParamInt, Default: 120},
			"replica_verify_interval_sec":   {Type: ParamInt, Default: 3600},
			"purge_batch_size":              {Type: ParamInt, Default: 50},
		},
		"ingest": {
			"num_async_workers":       {Type: ParamInt, Default: 8},
			"max_retries":             {Type: ParamInt, Default: 3},
			"backoff_initial_ms":      {Type: ParamInt, Default: 250},
			"backoff_max_ms":          {Type: ParamInt, Default: 30000},
			"retriable_error_codes":   {Type: ParamStringList, Default: []string{"ER_LOCK_WAIT_TIMEOUT", "ER_LOCK_DEADLOCK"}},
		},
		"security": {
			"admin_auth_key": {Type: ParamString, Default: "", AllowEmpty: true, Security: true},
		},
	}
}
