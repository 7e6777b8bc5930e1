package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/cuemby/warren/pkg/types"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk YAML shape Configuration is loaded from.
// Parameter values are kept as strings here; Build converts each one
// to the Go type its Schema entry declares.
type Document struct {
	Workers   []WorkerDoc             `yaml:"workers"`
	Families  []types.DatabaseFamily  `yaml:"families"`
	Databases []types.Database        `yaml:"databases"`
	Tables    []types.Table           `yaml:"tables"`
	Params    map[string]map[string]string `yaml:"params"`
}

// WorkerDoc mirrors types.Worker with yaml tags; kept distinct so
// Configuration's on-disk shape can evolve independently of the
// in-memory domain type.
type WorkerDoc struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	ReadOnly bool   `yaml:"read_only"`

	SvcHost string `yaml:"svc_host"`
	SvcPort int    `yaml:"svc_port"`

	FsHost string `yaml:"fs_host"`
	FsPort int    `yaml:"fs_port"`

	DataDir string `yaml:"data_dir"`

	LoaderHost   string `yaml:"loader_host"`
	LoaderPort   int    `yaml:"loader_port"`
	LoaderTmpDir string `yaml:"loader_tmp_dir"`

	ExporterHost   string `yaml:"exporter_host"`
	ExporterPort   int    `yaml:"exporter_port"`
	ExporterTmpDir string `yaml:"exporter_tmp_dir"`

	HTTPLoaderHost   string `yaml:"http_loader_host"`
	HTTPLoaderPort   int    `yaml:"http_loader_port"`
	HTTPLoaderTmpDir string `yaml:"http_loader_tmp_dir"`

	QservHost string `yaml:"qserv_host"`
	QservPort int    `yaml:"qserv_port"`
}

func (d WorkerDoc) toWorker() types.Worker {
	return types.Worker{
		Name:             d.Name,
		Enabled:          d.Enabled,
		ReadOnly:         d.ReadOnly,
		SvcHost:          d.SvcHost,
		SvcPort:          d.SvcPort,
		FsHost:           d.FsHost,
		FsPort:           d.FsPort,
		DataDir:          d.DataDir,
		LoaderHost:       d.LoaderHost,
		LoaderPort:       d.LoaderPort,
		LoaderTmpDir:     d.LoaderTmpDir,
		ExporterHost:     d.ExporterHost,
		ExporterPort:     d.ExporterPort,
		ExporterTmpDir:   d.ExporterTmpDir,
		HTTPLoaderHost:   d.HTTPLoaderHost,
		HTTPLoaderPort:   d.HTTPLoaderPort,
		HTTPLoaderTmpDir: d.HTTPLoaderTmpDir,
		QservHost:        d.QservHost,
		QservPort:        d.QservPort,
	}
}

// LoadDocument reads path, expands ${VAR}/$VAR references against the
// process environment with a8m/envsubst, and unmarshals the result as
// YAML.
func LoadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded, err := envsubst.String(string(raw))
	if err != nil {
		return nil, fmt.Errorf("config: expand %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &doc, nil
}

// Build converts a Document into a fresh Snapshot against schema,
// converting every declared param value from its on-disk string
// representation into the Go type the Schema publishes for it.
func Build(doc *Document, schema Schema) (*Snapshot, error) {
	snap := New(schema)

	for _, f := range doc.Families {
		if err := snap.AddDatabaseFamily(f); err != nil {
			return nil, err
		}
	}
	for _, w := range doc.Workers {
		if err := snap.AddWorker(w.toWorker()); err != nil {
			return nil, err
		}
	}
	for _, d := range doc.Databases {
		if err := snap.AddDatabase(d); err != nil {
			return nil, err
		}
	}
	for _, t := range doc.Tables {
		if err := snap.AddTable(t); err != nil {
			return nil, err
		}
	}
	for category, params := range doc.Params {
		for param, raw := range params {
			spec, err := schema.Lookup(category, param)
			if err != nil {
				return nil, err
			}
			value, err := convertParam(spec.Type, raw)
			if err != nil {
				return nil, fmt.Errorf("config: %s.%s: %w", category, param, err)
			}
			if err := snap.Set(category, param, value); err != nil {
				return nil, err
			}
		}
	}
	return snap, nil
}

func convertParam(t ParamType, raw string) (interface{}, error) {
	switch t {
	case ParamString:
		return raw, nil
	case ParamInt:
		var v int
		if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
			return nil, fmt.Errorf("not an int: %q", raw)
		}
		return v, nil
	case ParamFloat:
		var v float64
		if _, err := fmt.Sscanf(raw, "%g", &v); err != nil {
			return nil, fmt.Errorf("not a float: %q", raw)
		}
		return v, nil
	case ParamBool:
		switch raw {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		default:
			return nil, fmt.Errorf("not a bool: %q", raw)
		}
	case ParamStringList:
		return splitList(raw), nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %v", t)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
