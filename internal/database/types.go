package database

import "database/sql"

// Config holds all configuration for database connections
type Config struct {
	ConnectionString string
	Host             string
	Port             int
	Database         string
	User             string
	Password         string
	SSLMode          string
	Schema           string
	Prefix           string
	SSHKey           string
	SSHUser          string
	SSHHost          string
	SSHPort          int
}

// ColumnInfo stores information about a column's structure
type ColumnInfo struct {
	Field    string
	Type     string
	Null     string
	Default  *string
	Comments string
}

// KeyInfo stores information about an index or key constraint
type KeyInfo struct {
	Index     string
	IsPrimary bool
	IsUnique  bool
	Query     string
}

// SequenceInfo stores information about a sequence owned by a table column.
// StartValue is nil on servers older than 9.1.
type SequenceInfo struct {
	Name        string
	Schema      string
	Table       string
	Column      string
	Type        string
	StartValue  *string
	MinValue    string
	MaxValue    string
	Increment   string
	CycleOption string
}

// Postgres is a connected PostgreSQL metadata driver
type Postgres struct {
	db      *sql.DB
	cleanup func()
	config  Config
	version string
}
