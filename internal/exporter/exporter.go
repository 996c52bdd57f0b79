// Package exporter renders the structure of PostgreSQL tables as an XML
// (or YAML) dump document.
package exporter

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/robmartinson/pg2xml/internal/database"
)

// GenericPrefix replaces the driver's table prefix in exported table names
const GenericPrefix = "#__"

var (
	ErrNoDriver       = errors.New("no database connection set")
	ErrWrongDriver    = errors.New("database connection wrong type")
	ErrNoTables       = errors.New("no tables specified")
	ErrEmptyTableName = errors.New("empty table name")
)

// Driver is the metadata source an Exporter reads from
type Driver interface {
	Dialect() string
	Database() string
	Prefix() string
	Version(ctx context.Context) (string, error)
	TableColumns(ctx context.Context, table string) ([]database.ColumnInfo, error)
	TableKeys(ctx context.Context, table string) ([]database.KeyInfo, error)
	TableSequences(ctx context.Context, table string) ([]database.SequenceInfo, error)
}

// Options controls what goes into the document
type Options struct {
	WithStructure bool
}

// Exporter collects export settings; setters return the receiver so calls chain.
type Exporter struct {
	db      Driver
	from    []string
	options Options
	format  Format
	logger  *zap.Logger
}

// New returns an exporter that writes table structure as XML
func New(logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		options: Options{WithStructure: true},
		format:  FormatXML,
		logger:  logger,
	}
}

// SetDriver sets the metadata source
func (e *Exporter) SetDriver(db Driver) *Exporter {
	e.db = db
	return e
}

// From sets the tables to export, replacing any previous selection
func (e *Exporter) From(tables ...string) *Exporter {
	e.from = append([]string(nil), tables...)
	return e
}

// WithStructure toggles table structure in the document
func (e *Exporter) WithStructure(enabled bool) *Exporter {
	e.options.WithStructure = enabled
	return e
}

// AsXML selects XML output
func (e *Exporter) AsXML() *Exporter {
	return e.As(FormatXML)
}

// AsYAML selects YAML output
func (e *Exporter) AsYAML() *Exporter {
	return e.As(FormatYAML)
}

// As selects the output format
func (e *Exporter) As(format Format) *Exporter {
	e.format = format
	return e
}

// Tables returns the selected tables in export order
func (e *Exporter) Tables() []string {
	return e.from
}

// Options returns the current export options
func (e *Exporter) Options() Options {
	return e.options
}

// Format returns the selected output format
func (e *Exporter) Format() Format {
	return e.format
}

// Check verifies that a PostgreSQL driver and at least one table are set
func (e *Exporter) Check() error {
	if e.db == nil {
		return ErrNoDriver
	}
	if e.db.Dialect() != database.DialectPostgres {
		return errors.Wrapf(ErrWrongDriver, "dialect %q", e.db.Dialect())
	}
	if len(e.from) == 0 {
		return ErrNoTables
	}
	for i, table := range e.from {
		if strings.TrimSpace(table) == "" {
			return errors.Wrapf(ErrEmptyTableName, "table #%d", i+1)
		}
	}
	return nil
}

// GenericTableName replaces the driver prefix in table with GenericPrefix
func (e *Exporter) GenericTableName(table string) string {
	if e.db == nil {
		return table
	}
	prefix := e.db.Prefix()
	if prefix == "" {
		return table
	}
	return strings.ReplaceAll(table, prefix, GenericPrefix)
}

// Render checks the settings and builds the document in the configured format
func (e *Exporter) Render(ctx context.Context) (string, error) {
	if err := e.Check(); err != nil {
		return "", err
	}

	switch e.format {
	case FormatXML:
		return e.BuildXML(ctx)
	case FormatYAML:
		return e.BuildYAML(ctx)
	}
	return "", errors.Errorf("unsupported format: %q", e.format)
}

// Export renders the document and writes it to w
func (e *Exporter) Export(ctx context.Context, w io.Writer) error {
	document, err := e.Render(ctx)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, document+"\n"); err != nil {
		return errors.Wrap(err, "failed to write document")
	}
	return nil
}

func (e *Exporter) loadTable(ctx context.Context, table string) (*Table, error) {
	version, err := e.db.Version(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read server version for %s", table)
	}
	sequences, err := e.db.TableSequences(ctx, table)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sequences of %s", table)
	}
	columns, err := e.db.TableColumns(ctx, table)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read columns of %s", table)
	}
	keys, err := e.db.TableKeys(ctx, table)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read keys of %s", table)
	}

	e.logger.Debug("loaded table structure",
		zap.String("table", table),
		zap.Int("columns", len(columns)),
		zap.Int("keys", len(keys)),
		zap.Int("sequences", len(sequences)))

	t := newTable(e.GenericTableName(table), columns, keys, sequences)
	if !database.AtLeast(version, database.SequenceStartVersion) {
		for i := range t.Sequences {
			t.Sequences[i].StartValue = nil
		}
	}
	return t, nil
}

func (e *Exporter) loadDocument(ctx context.Context) (*Document, error) {
	doc := &Document{Database: e.db.Database()}
	if !e.options.WithStructure {
		return doc, nil
	}
	for _, table := range e.from {
		t, err := e.loadTable(ctx, table)
		if err != nil {
			return nil, err
		}
		doc.Tables = append(doc.Tables, *t)
	}
	return doc, nil
}
