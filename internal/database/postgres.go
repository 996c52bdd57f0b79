package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	// DialectPostgres names the only dialect this package talks to
	DialectPostgres = "postgresql"

	defaultSchema = "public"
	// SequenceStartVersion is the first server version whose
	// information_schema.sequences reports start_value
	SequenceStartVersion = "9.1.0"
)

// Open connects to PostgreSQL, through an SSH tunnel when one is configured
func Open(ctx context.Context, config Config, logger *zap.Logger) (*Postgres, error) {
	var connStr string
	var cleanup func()
	var err error

	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Schema == "" {
		config.Schema = defaultSchema
	}

	if config.ConnectionString != "" {
		connStr = config.ConnectionString
	} else if config.SSHKey != "" {
		connStr, cleanup, err = SetupTunnel(config, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to setup SSH tunnel: %w", err)
		}
	} else {
		connStr = connectionString(config.Host, config.Port, config)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if cleanup != nil {
			cleanup()
		}
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Debug("connected to PostgreSQL",
		zap.String("database", config.Database),
		zap.String("schema", config.Schema),
		zap.Bool("tunnel", cleanup != nil))

	return &Postgres{
		db:      db,
		cleanup: cleanup,
		config:  config,
	}, nil
}

func connectionString(host string, port int, config Config) string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s",
		host,
		port,
		config.Database,
		config.User,
	)
	if config.Password != "" {
		connStr += fmt.Sprintf(" password=%s", config.Password)
	}
	if config.SSLMode != "" {
		connStr += fmt.Sprintf(" sslmode=%s", config.SSLMode)
	}
	return connStr
}

// Close closes the database connection and cleans up resources
func (p *Postgres) Close() {
	if p.db != nil {
		p.db.Close()
	}
	if p.cleanup != nil {
		p.cleanup()
	}
}

// Dialect returns the SQL dialect served by the driver
func (p *Postgres) Dialect() string {
	return DialectPostgres
}

// Database returns the configured database name
func (p *Postgres) Database() string {
	return p.config.Database
}

// Prefix returns the table prefix that generic table names abstract away
func (p *Postgres) Prefix() string {
	return p.config.Prefix
}

// QuoteName quotes an identifier
func (p *Postgres) QuoteName(name string) string {
	return QuoteName(name)
}

// QuoteName quotes a possibly schema qualified identifier with double quotes
func QuoteName(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// Version returns the server version, e.g. "9.1.2" or "16.2"
func (p *Postgres) Version(ctx context.Context) (string, error) {
	if p.version != "" {
		return p.version, nil
	}

	var raw string
	if err := p.db.QueryRowContext(ctx, "SHOW server_version").Scan(&raw); err != nil {
		return "", err
	}

	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty server version")
	}
	p.version = fields[0]
	return p.version, nil
}

// TableNames returns all base tables in the configured schema
func (p *Postgres) TableNames(ctx context.Context) ([]string, error) {
	var tables []string

	rows, err := p.db.QueryContext(ctx, `
		SELECT table_name 
		FROM information_schema.tables 
		WHERE table_schema = $1
		AND table_type = 'BASE TABLE' ORDER BY table_name
	`, p.config.Schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, err
		}
		tables = append(tables, tableName)
	}

	return tables, rows.Err()
}

// TableColumns returns the columns of a table in ordinal order
func (p *Postgres) TableColumns(ctx context.Context, table string) ([]ColumnInfo, error) {
	var columns []ColumnInfo

	rows, err := p.db.QueryContext(ctx, `
		SELECT
			a.attname,
			pg_catalog.format_type(a.atttypid, a.atttypmod),
			CASE WHEN a.attnotnull THEN 'NO' ELSE 'YES' END,
			pg_catalog.pg_get_expr(adef.adbin, adef.adrelid, true),
			COALESCE(pg_catalog.col_description(a.attrelid, a.attnum), '')
		FROM pg_catalog.pg_attribute a
		LEFT JOIN pg_catalog.pg_attrdef adef
			ON a.attrelid = adef.adrelid AND a.attnum = adef.adnum
		WHERE a.attrelid = (
			SELECT c.oid
			FROM pg_catalog.pg_class c
			JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
			WHERE c.relname = $1 AND n.nspname = $2
		)
		AND a.attnum > 0
		AND NOT a.attisdropped
		ORDER BY a.attnum
	`, table, p.config.Schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var col ColumnInfo
		var defaultValue sql.NullString

		if err := rows.Scan(&col.Field, &col.Type, &col.Null, &defaultValue, &col.Comments); err != nil {
			return nil, err
		}

		if defaultValue.Valid {
			col.Default = &defaultValue.String
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// tableKeysQuery lists the indexes of a table. Primary keys are rendered as
// an ALTER TABLE statement with the table name always double quoted.
const tableKeysQuery = `
SELECT
	ic.relname,
	ix.indisprimary,
	ix.indisunique,
	CASE WHEN ix.indisprimary AND con.oid IS NOT NULL THEN
		'ALTER TABLE "' || replace(t.relname, '"', '""') || '" ADD ' || pg_catalog.pg_get_constraintdef(con.oid, true)
	ELSE
		pg_catalog.pg_get_indexdef(ix.indexrelid, 0, true)
	END
FROM pg_catalog.pg_index ix
JOIN pg_catalog.pg_class t ON t.oid = ix.indrelid
JOIN pg_catalog.pg_class ic ON ic.oid = ix.indexrelid
JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
LEFT JOIN pg_catalog.pg_constraint con
	ON con.conindid = ix.indexrelid AND con.contype = 'p'
WHERE t.relname = $1 AND n.nspname = $2
ORDER BY ix.indisprimary DESC, ic.relname
`

// TableKeys returns the indexes of a table, primary key first. The query of a
// primary key is the ALTER TABLE statement that recreates the constraint,
// other indexes carry their CREATE INDEX definition.
func (p *Postgres) TableKeys(ctx context.Context, table string) ([]KeyInfo, error) {
	var keys []KeyInfo

	rows, err := p.db.QueryContext(ctx, tableKeysQuery, table, p.config.Schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key KeyInfo
		if err := rows.Scan(&key.Index, &key.IsPrimary, &key.IsUnique, &key.Query); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// TableSequences returns the sequences owned by columns of a table
func (p *Postgres) TableSequences(ctx context.Context, table string) ([]SequenceInfo, error) {
	version, err := p.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read server version: %w", err)
	}

	startValue := "NULL"
	if AtLeast(version, SequenceStartVersion) {
		startValue = "info.start_value"
	}

	var sequences []SequenceInfo

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT
			s.relname,
			n.nspname,
			t.relname,
			a.attname,
			COALESCE(info.data_type, ''),
			%s,
			COALESCE(info.minimum_value, ''),
			COALESCE(info.maximum_value, ''),
			COALESCE(info.increment, ''),
			COALESCE(info.cycle_option, '')
		FROM pg_catalog.pg_class s
		JOIN pg_catalog.pg_depend d
			ON d.objid = s.oid
			AND d.classid = 'pg_class'::regclass
			AND d.refclassid = 'pg_class'::regclass
		JOIN pg_catalog.pg_class t ON t.oid = d.refobjid
		JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_catalog.pg_attribute a ON a.attrelid = t.oid AND a.attnum = d.refobjsubid
		LEFT JOIN information_schema.sequences info
			ON info.sequence_name = s.relname AND info.sequence_schema = n.nspname
		WHERE s.relkind = 'S'
		AND d.deptype IN ('a', 'i')
		AND t.relname = $1
		AND n.nspname = $2
		ORDER BY s.relname
	`, startValue), table, p.config.Schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq SequenceInfo
		var start sql.NullString

		if err := rows.Scan(
			&seq.Name,
			&seq.Schema,
			&seq.Table,
			&seq.Column,
			&seq.Type,
			&start,
			&seq.MinValue,
			&seq.MaxValue,
			&seq.Increment,
			&seq.CycleOption,
		); err != nil {
			return nil, err
		}

		if start.Valid {
			seq.StartValue = &start.String
		}

		sequences = append(sequences, seq)
	}

	return sequences, rows.Err()
}
