package exporter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/robmartinson/pg2xml/internal/database"
)

type fakeDriver struct {
	dialect   string
	prefix    string
	version   string
	columns   []database.ColumnInfo
	keys      []database.KeyInfo
	sequences []database.SequenceInfo
	err        error
	versionErr error
	requested  []string
}

func (f *fakeDriver) Dialect() string { return f.dialect }
func (f *fakeDriver) Database() string { return "" }
func (f *fakeDriver) Prefix() string { return f.prefix }

func (f *fakeDriver) Version(context.Context) (string, error) {
	return f.version, f.versionErr
}

func (f *fakeDriver) TableColumns(_ context.Context, table string) ([]database.ColumnInfo, error) {
	f.requested = append(f.requested, table)
	if f.err != nil {
		return nil, f.err
	}
	return f.columns, nil
}

func (f *fakeDriver) TableKeys(context.Context, string) ([]database.KeyInfo, error) {
	return f.keys, nil
}

func (f *fakeDriver) TableSequences(context.Context, string) ([]database.SequenceInfo, error) {
	return f.sequences, nil
}

func str(s string) *string { return &s }

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		dialect: database.DialectPostgres,
		prefix:  "jos_",
		version: "9.1.2",
		columns: []database.ColumnInfo{
			{Field: "id", Type: "integer", Null: "NO", Default: str("nextval('jos_dbtest_id_seq'::regclass)")},
			{Field: "title", Type: "character varying(50)", Null: "NO", Default: str("NULL")},
			{Field: "start_date", Type: "timestamp without time zone", Null: "NO", Default: str("NULL")},
			{Field: "description", Type: "text", Null: "NO", Default: str("NULL")},
		},
		keys: []database.KeyInfo{
			{Index: "jos_dbtest_pkey", IsPrimary: true, IsUnique: true, Query: `ALTER TABLE "jos_dbtest" ADD PRIMARY KEY (id)`},
		},
		sequences: []database.SequenceInfo{
			{
				Name:        "jos_dbtest_id_seq",
				Schema:      "public",
				Table:       "jos_dbtest",
				Column:      "id",
				Type:        "bigint",
				StartValue:  str("1"),
				MinValue:    "1",
				MaxValue:    "9223372036854775807",
				Increment:   "1",
				CycleOption: "NO",
			},
		},
	}
}

var expectedStructure = []string{
	`  <table_structure name="#__test">`,
	`   <sequence Name="jos_dbtest_id_seq" Schema="public" Table="jos_dbtest" Column="id" Type="bigint" Start_Value="1" Min_Value="1" Max_Value="9223372036854775807" Increment="1" Cycle_option="NO" />`,
	`   <field Field="id" Type="integer" Null="NO" Default="nextval('jos_dbtest_id_seq'::regclass)" Comments="" />`,
	`   <field Field="title" Type="character varying(50)" Null="NO" Default="NULL" Comments="" />`,
	`   <field Field="start_date" Type="timestamp without time zone" Null="NO" Default="NULL" Comments="" />`,
	`   <field Field="description" Type="text" Null="NO" Default="NULL" Comments="" />`,
	`   <key Index="jos_dbtest_pkey" is_primary="TRUE" is_unique="TRUE" Query="ALTER TABLE &quot;jos_dbtest&quot; ADD PRIMARY KEY (id)" />`,
	`  </table_structure>`,
}

func expectedXML() string {
	lines := []string{
		`<?xml version="1.0"?>`,
		`<postgresqldump xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">`,
		` <database name="">`,
	}
	lines = append(lines, expectedStructure...)
	lines = append(lines, ` </database>`, `</postgresqldump>`)
	return strings.Join(lines, "\n")
}

func TestExporter_Render(t *testing.T) {
	e := New(nil).SetDriver(newFakeDriver()).From("jos_test").WithStructure(true)

	actual, err := e.Render(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(expectedXML(), actual); diff != "" {
		t.Errorf("Render() mismatch (-want +got):\n%s", diff)
	}
}

func TestExporter_BuildXML(t *testing.T) {
	e := New(nil).SetDriver(newFakeDriver()).From("jos_test")

	actual, err := e.BuildXML(context.Background())
	require.NoError(t, err)
	assert.Equal(t, expectedXML(), actual)
}

func TestExporter_BuildXMLWithoutStructure(t *testing.T) {
	driver := newFakeDriver()
	e := New(nil).SetDriver(driver).From("jos_test").WithStructure(false)

	actual, err := e.BuildXML(context.Background())
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		`<?xml version="1.0"?>`,
		`<postgresqldump xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">`,
		` <database name="">`,
		` </database>`,
		`</postgresqldump>`,
	}, "\n"), actual)
	assert.Empty(t, driver.requested)
}

func TestExporter_BuildXMLStructure(t *testing.T) {
	var testCases = []struct {
		description string
		mutate      func(d *fakeDriver)
		expect      []string
	}{
		{
			description: "sequence with start value",
			expect:      expectedStructure,
		},
		{
			description: "server before 9.1 has no start value",
			mutate: func(d *fakeDriver) {
				d.version = "9.0.4"
			},
			expect: append([]string{
				expectedStructure[0],
				strings.Replace(expectedStructure[1], `Start_Value="1"`, `Start_Value=""`, 1),
			}, expectedStructure[2:]...),
		},
		{
			description: "driver reports no start value",
			mutate: func(d *fakeDriver) {
				d.sequences[0].StartValue = nil
			},
			expect: append([]string{
				expectedStructure[0],
				strings.Replace(expectedStructure[1], `Start_Value="1"`, `Start_Value=""`, 1),
			}, expectedStructure[2:]...),
		},
		{
			description: "missing default and comment escaping",
			mutate: func(d *fakeDriver) {
				d.sequences = nil
				d.keys = []database.KeyInfo{{Index: "jos_test_title_idx", Query: "CREATE INDEX jos_test_title_idx ON jos_test USING btree (title)"}}
				d.columns = []database.ColumnInfo{{Field: "title", Type: "text", Null: "YES", Comments: `"a" & <b>`}}
			},
			expect: []string{
				`  <table_structure name="#__test">`,
				`   <field Field="title" Type="text" Null="YES" Default="" Comments="&quot;a&quot; &amp; &lt;b&gt;" />`,
				`   <key Index="jos_test_title_idx" is_primary="FALSE" is_unique="FALSE" Query="CREATE INDEX jos_test_title_idx ON jos_test USING btree (title)" />`,
				`  </table_structure>`,
			},
		},
	}

	for _, testCase := range testCases {
		driver := newFakeDriver()
		if testCase.mutate != nil {
			testCase.mutate(driver)
		}
		e := New(nil).SetDriver(driver).From("jos_test")
		actual, err := e.BuildXMLStructure(context.Background())
		require.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.expect, actual, testCase.description)
	}
}

func TestExporter_BuildXMLStructureKeepsTableOrder(t *testing.T) {
	driver := newFakeDriver()
	e := New(nil).SetDriver(driver).From("jos_b", "jos_a")

	lines, err := e.BuildXMLStructure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"jos_b", "jos_a"}, driver.requested)
	assert.Equal(t, `  <table_structure name="#__b">`, lines[0])
	assert.Equal(t, `  <table_structure name="#__a">`, lines[len(expectedStructure)])
}

func TestExporter_BuildXMLStructureDriverError(t *testing.T) {
	driver := newFakeDriver()
	driver.err = errors.New("relation does not exist")
	e := New(nil).SetDriver(driver).From("jos_missing")

	_, err := e.BuildXMLStructure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jos_missing")
	assert.ErrorIs(t, err, driver.err)
}

func TestExporter_Check(t *testing.T) {
	var testCases = []struct {
		description string
		exporter    *Exporter
		expect      error
	}{
		{
			description: "no driver",
			exporter:    New(nil),
			expect:      ErrNoDriver,
		},
		{
			description: "wrong dialect",
			exporter:    New(nil).SetDriver(&fakeDriver{dialect: "mysql"}).From("foobar"),
			expect:      ErrWrongDriver,
		},
		{
			description: "no tables",
			exporter:    New(nil).SetDriver(newFakeDriver()),
			expect:      ErrNoTables,
		},
		{
			description: "blank table",
			exporter:    New(nil).SetDriver(newFakeDriver()).From("foobar", " "),
			expect:      ErrEmptyTableName,
		},
		{
			description: "good input",
			exporter:    New(nil).SetDriver(newFakeDriver()).From("foobar"),
		},
	}

	for _, testCase := range testCases {
		err := testCase.exporter.Check()
		if testCase.expect == nil {
			assert.NoError(t, err, testCase.description)
			continue
		}
		assert.ErrorIs(t, err, testCase.expect, testCase.description)
	}
}

func TestExporter_RenderFailsCheck(t *testing.T) {
	_, err := New(nil).Render(context.Background())
	assert.ErrorIs(t, err, ErrNoDriver)
}

func TestExporter_From(t *testing.T) {
	e := New(nil)
	assert.Same(t, e, e.From("jos_foobar"))
	assert.Equal(t, []string{"jos_foobar"}, e.Tables())

	e.From("a", "b")
	assert.Equal(t, []string{"a", "b"}, e.Tables())
}

func TestExporter_GenericTableName(t *testing.T) {
	e := New(nil).SetDriver(newFakeDriver())
	assert.Equal(t, "#__test", e.GenericTableName("jos_test"))
	assert.Equal(t, "other", e.GenericTableName("other"))

	e.SetDriver(&fakeDriver{dialect: database.DialectPostgres})
	assert.Equal(t, "jos_test", e.GenericTableName("jos_test"))
}

func TestExporter_WithStructure(t *testing.T) {
	e := New(nil)
	assert.True(t, e.Options().WithStructure, "default")

	assert.Same(t, e, e.WithStructure(false))
	assert.False(t, e.Options().WithStructure)

	e.WithStructure(true)
	assert.True(t, e.Options().WithStructure)
}

func TestExporter_Format(t *testing.T) {
	e := New(nil)
	assert.Equal(t, FormatXML, e.Format())
	assert.Same(t, e, e.AsYAML())
	assert.Equal(t, FormatYAML, e.Format())
	assert.Same(t, e, e.AsXML())
	assert.Equal(t, FormatXML, e.Format())

	_, err := e.As("csv").SetDriver(newFakeDriver()).From("jos_test").Render(context.Background())
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	for name, expect := range map[string]Format{"": FormatXML, "XML": FormatXML, "yml": FormatYAML, "yaml": FormatYAML} {
		format, err := ParseFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, expect, format, name)
	}
	_, err := ParseFormat("json")
	assert.Error(t, err)
}

func TestExporter_Export(t *testing.T) {
	var buf bytes.Buffer
	err := New(nil).SetDriver(newFakeDriver()).From("jos_test").Export(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, expectedXML()+"\n", buf.String())
}

func TestExporter_BuildYAML(t *testing.T) {
	e := New(nil).SetDriver(newFakeDriver()).From("jos_test").AsYAML()

	actual, err := e.Render(context.Background())
	require.NoError(t, err)

	var doc Document
	require.NoError(t, yaml.Unmarshal([]byte(actual), &doc))
	assert.Equal(t, "9.1.2", doc.ServerVersion)
	require.Len(t, doc.Tables, 1)
	table := doc.Tables[0]
	assert.Equal(t, "#__test", table.Name)
	assert.Len(t, table.Fields, 4)
	require.Len(t, table.Keys, 1)
	assert.True(t, table.Keys[0].IsPrimary)
	require.Len(t, table.Sequences, 1)
	require.NotNil(t, table.Sequences[0].StartValue)
	assert.Equal(t, "1", *table.Sequences[0].StartValue)
}

func TestExporter_BuildWithoutDriver(t *testing.T) {
	e := New(nil).From("jos_test")

	_, err := e.BuildXML(context.Background())
	assert.ErrorIs(t, err, ErrNoDriver)
	_, err = e.BuildXMLStructure(context.Background())
	assert.ErrorIs(t, err, ErrNoDriver)
	_, err = e.BuildYAML(context.Background())
	assert.ErrorIs(t, err, ErrNoDriver)
}

func TestExporter_BuildXMLStructureVersionError(t *testing.T) {
	driver := newFakeDriver()
	driver.versionErr = errors.New("connection reset")
	e := New(nil).SetDriver(driver).From("jos_test")

	_, err := e.BuildXMLStructure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jos_test")
	assert.ErrorIs(t, err, driver.versionErr)
}

func TestExporter_BuildXMLStructureKeepsDriverSequences(t *testing.T) {
	driver := newFakeDriver()
	driver.version = "8.4.22"
	e := New(nil).SetDriver(driver).From("jos_test")

	lines, err := e.BuildXMLStructure(context.Background())
	require.NoError(t, err)
	assert.Contains(t, lines[1], `Start_Value=""`)
	require.NotNil(t, driver.sequences[0].StartValue)
	assert.Equal(t, "1", *driver.sequences[0].StartValue)
}
