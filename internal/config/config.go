package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/robmartinson/pg2xml/internal/archive"
	"github.com/robmartinson/pg2xml/internal/database"
	"github.com/robmartinson/pg2xml/internal/exporter"
	"github.com/robmartinson/pg2xml/internal/logging"
)

const version = "pg2xml v1.0"

var (
	cfgFile string
	logger  = zap.NewNop()

	rootCmd = &cobra.Command{
		Use:   "pg2xml",
		Short: "PostgreSQL schema to XML exporter",
		Long: `A schema export tool that reads the structure of PostgreSQL tables
(columns, keys and sequences) and writes it as an XML dump document.`,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogger,
	}

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export table structure",
		Long: `Export the structure of the selected tables as an XML (or YAML)
document, optionally keeping a copy in the export archive.`,
		RunE: runExport,
	}

	tablesCmd = &cobra.Command{
		Use:   "tables",
		Short: "List the tables of the configured schema",
		RunE:  runTables,
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate database connection and configuration",
		Long: `Test the database connection and configuration settings
without performing any export.`,
		RunE: runValidate,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List archived exports",
		RunE:  runHistory,
	}

	showCmd = &cobra.Command{
		Use:   "show <id>",
		Short: "Print an archived export",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	defer func() { logger.Sync() }()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pg2xml.yaml)")

	// Database connection flags
	rootCmd.PersistentFlags().String("pg", "", "PostgreSQL connection string (optional)")
	rootCmd.PersistentFlags().String("host", "localhost", "PostgreSQL host")
	rootCmd.PersistentFlags().Int("port", 5432, "PostgreSQL port")
	rootCmd.PersistentFlags().String("db", "", "PostgreSQL database name")
	rootCmd.PersistentFlags().String("user", "", "PostgreSQL user")
	rootCmd.PersistentFlags().String("password", "", "PostgreSQL password")
	rootCmd.PersistentFlags().String("sslmode", "", "PostgreSQL sslmode")
	rootCmd.PersistentFlags().String("schema", "public", "PostgreSQL schema holding the tables")
	rootCmd.PersistentFlags().String("prefix", "", "Table prefix replaced by #__ in exported names")

	// SSH tunnel flags
	rootCmd.PersistentFlags().String("sshkey", "", "Path to SSH private key file")
	rootCmd.PersistentFlags().String("sshuser", "", "SSH user")
	rootCmd.PersistentFlags().String("sshhost", "", "SSH host")
	rootCmd.PersistentFlags().Int("sshport", 22, "SSH port")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "Log to a rotated file instead of stderr")
	rootCmd.PersistentFlags().String("log-encoding", logging.EncodingConsole, "Log encoding (console, json)")
	rootCmd.PersistentFlags().Int("log-max-size", 100, "Megabytes before the log file is rotated")
	rootCmd.PersistentFlags().Int("log-max-age", 30, "Days to keep rotated log files")
	rootCmd.PersistentFlags().Bool("log-compress", false, "Compress rotated log files")

	rootCmd.PersistentFlags().String("archive", "", "SQLite export archive file")

	// Export command specific flags
	exportCmd.Flags().StringSliceP("table", "t", nil, "Table to export (repeatable)")
	exportCmd.Flags().Bool("all", false, "Export every table of the schema")
	exportCmd.Flags().StringP("format", "f", string(exporter.FormatXML), "Output format (xml, yaml)")
	exportCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	exportCmd.Flags().Bool("with-structure", true, "Include table structure")

	historyCmd.Flags().Int("limit", 20, "Maximum number of entries, 0 for all")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)

	// Bind all flags to viper
	viper.BindPFlags(rootCmd.PersistentFlags())
	viper.BindPFlags(exportCmd.Flags())
	viper.BindPFlags(historyCmd.Flags())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".pg2xml")
	}

	viper.SetEnvPrefix("PG2XML")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func setupLogger(cmd *cobra.Command, args []string) error {
	l, err := logging.New(getLogConfig())
	if err != nil {
		return err
	}
	logger = l
	return nil
}

func getLogConfig() logging.Config {
	return logging.Config{
		Level:    viper.GetString("log-level"),
		File:     viper.GetString("log-file"),
		Encoding: viper.GetString("log-encoding"),
		MaxSize:  viper.GetInt("log-max-size"),
		MaxAge:   viper.GetInt("log-max-age"),
		Compress: viper.GetBool("log-compress"),
	}
}

func getConfig() database.Config {
	return database.Config{
		ConnectionString: viper.GetString("pg"),
		Host:             viper.GetString("host"),
		Port:             viper.GetInt("port"),
		Database:         viper.GetString("db"),
		User:             viper.GetString("user"),
		Password:         viper.GetString("password"),
		SSLMode:          viper.GetString("sslmode"),
		Schema:           viper.GetString("schema"),
		Prefix:           viper.GetString("prefix"),
		SSHKey:           viper.GetString("sshkey"),
		SSHUser:          viper.GetString("sshuser"),
		SSHHost:          viper.GetString("sshhost"),
		SSHPort:          viper.GetInt("sshport"),
	}
}

// tableLister lists the tables available for export
type tableLister interface {
	TableNames(ctx context.Context) ([]string, error)
}

// selectTables returns the explicit table selection, or every table when all is set
func selectTables(ctx context.Context, lister tableLister, tables []string, all bool) ([]string, error) {
	if !all {
		return tables, nil
	}
	if len(tables) > 0 {
		return nil, fmt.Errorf("--all cannot be combined with --table")
	}
	return lister.TableNames(ctx)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, err := exporter.ParseFormat(viper.GetString("format"))
	if err != nil {
		return err
	}

	pg, err := database.Open(ctx, getConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer pg.Close()

	tables, err := selectTables(ctx, pg, viper.GetStringSlice("table"), viper.GetBool("all"))
	if err != nil {
		return fmt.Errorf("failed to select tables: %w", err)
	}

	document, err := exporter.New(logger).
		SetDriver(pg).
		From(tables...).
		WithStructure(viper.GetBool("with-structure")).
		As(format).
		Render(ctx)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if err := writeDocument(cmd.OutOrStdout(), viper.GetString("output"), document); err != nil {
		return err
	}
	logger.Info("export complete", zap.Strings("tables", tables), zap.String("format", string(format)))

	if path := viper.GetString("archive"); path != "" {
		entry := &archive.Entry{
			Database: pg.Database(),
			Tables:   tables,
			Format:   string(format),
			Document: document,
		}
		if err := saveArchive(ctx, path, entry); err != nil {
			return err
		}
		logger.Info("export archived", zap.String("id", entry.ID), zap.String("archive", path))
	}

	return nil
}

// writeDocument writes document to the named file, or to stdout when name is empty
func writeDocument(stdout io.Writer, name, document string) error {
	if name == "" {
		_, err := fmt.Fprintln(stdout, document)
		return err
	}
	if err := os.WriteFile(name, []byte(document+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func saveArchive(ctx context.Context, path string, entry *archive.Entry) error {
	store, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Save(ctx, entry)
}

func runTables(cmd *cobra.Command, args []string) error {
	pg, err := database.Open(cmd.Context(), getConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer pg.Close()

	tables, err := pg.TableNames(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	for _, table := range tables {
		fmt.Fprintln(cmd.OutOrStdout(), table)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	pg, err := database.Open(cmd.Context(), getConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer pg.Close()

	serverVersion, err := pg.Version(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read server version: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid and database is accessible (PostgreSQL %s)\n", serverVersion)
	return nil
}

func openArchive() (*archive.Store, error) {
	path := viper.GetString("archive")
	if path == "" {
		return nil, fmt.Errorf("no archive configured, set --archive")
	}
	return archive.Open(path)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openArchive()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), viper.GetInt("limit"))
	if err != nil {
		return fmt.Errorf("failed to list archive: %w", err)
	}
	return printHistory(cmd.OutOrStdout(), entries)
}

func printHistory(w io.Writer, entries []archive.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tDATABASE\tFORMAT\tTABLES")
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			entry.ID,
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
			entry.Database,
			entry.Format,
			strings.Join(entry.Tables, ","),
		)
	}
	return tw.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	store, err := openArchive()
	if err != nil {
		return err
	}
	defer store.Close()

	entry, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), entry.Document)
	return err
}
