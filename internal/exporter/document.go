package exporter

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/robmartinson/pg2xml/internal/database"
)

// Format is an output document format
type Format string

const (
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a user supplied name onto a Format
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "xml":
		return FormatXML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", errors.Errorf("unsupported format: %q", name)
}

// Document is the format independent export of a database
type Document struct {
	Database      string  `yaml:"database"`
	ServerVersion string  `yaml:"server_version,omitempty"`
	Tables        []Table `yaml:"tables,omitempty"`
}

type Table struct {
	Name      string     `yaml:"name"`
	Sequences []Sequence `yaml:"sequences,omitempty"`
	Fields    []Field    `yaml:"fields,omitempty"`
	Keys      []Key      `yaml:"keys,omitempty"`
}

type Field struct {
	Field    string  `yaml:"field"`
	Type     string  `yaml:"type"`
	Null     string  `yaml:"null"`
	Default  *string `yaml:"default"`
	Comments string  `yaml:"comments,omitempty"`
}

type Key struct {
	Index     string `yaml:"index"`
	IsPrimary bool   `yaml:"is_primary"`
	IsUnique  bool   `yaml:"is_unique"`
	Query     string `yaml:"query"`
}

type Sequence struct {
	Name        string  `yaml:"name"`
	Schema      string  `yaml:"schema"`
	Table       string  `yaml:"table"`
	Column      string  `yaml:"column"`
	Type        string  `yaml:"type"`
	StartValue  *string `yaml:"start_value"`
	MinValue    string  `yaml:"min_value"`
	MaxValue    string  `yaml:"max_value"`
	Increment   string  `yaml:"increment"`
	CycleOption string  `yaml:"cycle_option"`
}

func newTable(name string, columns []database.ColumnInfo, keys []database.KeyInfo, sequences []database.SequenceInfo) *Table {
	table := &Table{Name: name}
	for _, seq := range sequences {
		table.Sequences = append(table.Sequences, Sequence(seq))
	}
	for _, col := range columns {
		table.Fields = append(table.Fields, Field(col))
	}
	for _, key := range keys {
		table.Keys = append(table.Keys, Key(key))
	}
	return table
}
