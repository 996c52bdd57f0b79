package exporter

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	xmlHeader    = `<?xml version="1.0"?>`
	xmlRootOpen  = `<postgresqldump xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">`
	xmlRootClose = `</postgresqldump>`
)

var attrEscaper = strings.NewReplacer(
	`&`, "&amp;",
	`<`, "&lt;",
	`>`, "&gt;",
	`"`, "&quot;",
	"\t", "&#x9;",
	"\n", "&#xA;",
	"\r", "&#xD;",
)

// BuildXML returns the complete dump document
func (e *Exporter) BuildXML(ctx context.Context) (string, error) {
	if e.db == nil {
		return "", ErrNoDriver
	}
	buffer := []string{
		xmlHeader,
		xmlRootOpen,
		` <database name="` + escapeAttr(e.db.Database()) + `">`,
	}

	if e.options.WithStructure {
		structure, err := e.BuildXMLStructure(ctx)
		if err != nil {
			return "", err
		}
		buffer = append(buffer, structure...)
	}

	buffer = append(buffer, ` </database>`, xmlRootClose)
	return strings.Join(buffer, "\n"), nil
}

// BuildXMLStructure returns one table_structure element per exported table,
// one line per entry
func (e *Exporter) BuildXMLStructure(ctx context.Context) ([]string, error) {
	if e.db == nil {
		return nil, ErrNoDriver
	}
	var buffer []string

	for _, name := range e.from {
		table, err := e.loadTable(ctx, name)
		if err != nil {
			return nil, err
		}
		buffer = append(buffer, tableLines(table)...)
	}

	e.logger.Debug("built xml structure", zap.Int("tables", len(e.from)), zap.Int("lines", len(buffer)))
	return buffer, nil
}

func tableLines(table *Table) []string {
	lines := []string{`  <table_structure name="` + escapeAttr(table.Name) + `">`}

	for _, seq := range table.Sequences {
		lines = append(lines, element("sequence",
			"Name", seq.Name,
			"Schema", seq.Schema,
			"Table", seq.Table,
			"Column", seq.Column,
			"Type", seq.Type,
			"Start_Value", optional(seq.StartValue),
			"Min_Value", seq.MinValue,
			"Max_Value", seq.MaxValue,
			"Increment", seq.Increment,
			"Cycle_option", seq.CycleOption,
		))
	}

	for _, field := range table.Fields {
		lines = append(lines, element("field",
			"Field", field.Field,
			"Type", field.Type,
			"Null", field.Null,
			"Default", optional(field.Default),
			"Comments", field.Comments,
		))
	}

	for _, key := range table.Keys {
		lines = append(lines, element("key",
			"Index", key.Index,
			"is_primary", flag(key.IsPrimary),
			"is_unique", flag(key.IsUnique),
			"Query", key.Query,
		))
	}

	return append(lines, `  </table_structure>`)
}

// element renders a self-closing element from name/value pairs
func element(name string, attrs ...string) string {
	var b strings.Builder
	b.WriteString("   <")
	b.WriteString(name)
	for i := 0; i+1 < len(attrs); i += 2 {
		b.WriteString(" ")
		b.WriteString(attrs[i])
		b.WriteString(`="`)
		b.WriteString(escapeAttr(attrs[i+1]))
		b.WriteString(`"`)
	}
	b.WriteString(" />")
	return b.String()
}

func escapeAttr(value string) string {
	return attrEscaper.Replace(value)
}

func optional(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func flag(value bool) string {
	if value {
		return "TRUE"
	}
	return "FALSE"
}
