package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	configPath     string
	sourceName     string
	destName       string
	destTable      string
	forceSchema    string
	skipIndexes    bool
	createSchema   bool
	listFromSource bool
	showProgress   bool
	journalPath    string
	logFile        string
	historyLimit   int
	ddlAs          string
	csvHeader      bool
)

var rootCmd = &cobra.Command{
	Use:   "pgcp [flags] <schema.table | schema.glob>",
	Short: "Copy PostgreSQL tables between databases, swapping them in atomically",
	Long: `pgcp copies a table, or every table matching a glob within one schema,
from a source PostgreSQL database to a destination. Column types, nullability
and indexes are preserved. An existing destination table is replaced by
renaming a fully loaded staging table over it, so readers never see a
partially copied table.`,
	Args:          cobra.ExactArgs(1),
	RunE:          runCopy,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent table copies recorded in the journal",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var ddlCmd = &cobra.Command{
	Use:   "ddl <schema.table>",
	Short: "Print the CREATE TABLE statement for a source table",
	Args:  cobra.ExactArgs(1),
	RunE:  runDDL,
}

var loadCmd = &cobra.Command{
	Use:   "load <schema.table> <file.csv>",
	Short: "Load a CSV file into a destination table",
	Args:  cobra.ExactArgs(2),
	RunE:  runLoad,
}

var materializeCmd = &cobra.Command{
	Use:   "materialize <schema.table> <query>",
	Short: "Replace a destination table with the result of a query run on the destination",
	Args:  cobra.ExactArgs(2),
	RunE:  runMaterialize,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pgcp version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func init() {
	rootCmd.Version = versionString()

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to TOML or YAML config (default ~/.pgcp.yml, ~/.pgcp.yaml or ~/.pgcp.toml)")
	pf.StringVar(&journalPath, "journal", "", "SQLite file recording each table copy")
	pf.StringVarP(&sourceName, "source", "s", "", "source database profile (overrides config)")
	pf.StringVarP(&destName, "dest", "d", "", "destination database profile (overrides config)")

	f := rootCmd.Flags()
	f.StringVar(&destTable, "dest-table", "", "destination schema.table (single table only; defaults to the source name)")
	f.StringVar(&forceSchema, "force-schema", "", "place the destination table in this schema")
	f.BoolVar(&skipIndexes, "skip-indexes", false, "do not recreate source indexes on the destination")
	f.BoolVar(&createSchema, "create-schema", true, "create the destination schema if it does not exist")
	f.BoolVar(&listFromSource, "list-from-source", false, "match globs against source tables instead of destination tables")
	f.BoolVar(&showProgress, "progress", false, "show a transfer progress bar")
	f.StringVar(&logFile, "log-file", "", "also write log output to this file")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")
	ddlCmd.Flags().StringVar(&ddlAs, "as", "", "render the statement for this schema.table instead")
	loadCmd.Flags().BoolVar(&csvHeader, "header", false, "skip the first line of the CSV file")

	rootCmd.AddCommand(historyCmd, ddlCmd, loadCmd, materializeCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadResolvedConfig loads the config file and applies command-line overrides.
func loadResolvedConfig(cmd *cobra.Command) (*CopyConfig, error) {
	path := configPath
	if path == "" {
		path = defaultConfigPath()
	}
	if path == "" {
		return nil, fmt.Errorf("config file required: pgcp --config <pgcp.yml|pgcp.toml> or create ~/.pgcp.yml")
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.Source = sourceName
	}
	if flags.Changed("dest") {
		cfg.Destination = destName
	}
	if flags.Changed("force-schema") {
		cfg.Copy.ForceSchema = strings.TrimSpace(forceSchema)
	}
	if flags.Changed("skip-indexes") {
		cfg.Copy.SkipIndexes = skipIndexes
	}
	if flags.Changed("create-schema") {
		cfg.Copy.CreateSchema = createSchema
	}
	if flags.Changed("list-from-source") {
		cfg.Copy.ListFromSource = listFromSource
	}
	if flags.Changed("progress") {
		cfg.Progress = showProgress
	}
	if flags.Changed("journal") {
		cfg.Journal = journalPath
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
	return cfg, nil
}

func runCopy(cmd *cobra.Command, args []string) error {
	cfg, err := loadResolvedConfig(cmd)
	if err != nil {
		return err
	}
	table := strings.TrimSpace(args[0])
	glob := isTableGlob(table)
	if glob && destTable != "" {
		return fmt.Errorf("--dest-table cannot be combined with a table pattern")
	}

	log, err := newLogger(cfg.LogFile)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	src, err := profileCatalog(cfg, "source", cfg.Source)
	if err != nil {
		return err
	}
	dst, err := profileCatalog(cfg, "destination", cfg.Destination)
	if err != nil {
		return err
	}

	hooks, err := loadHookScripts(cfg)
	if err != nil {
		return err
	}
	topts := []transportOption{withAfterCopyHooks(hooks)}
	if cfg.Progress {
		topts = append(topts, withProgress(os.Stderr))
	}
	if cfg.Journal != "" {
		j, err := openJournal(cfg.Journal)
		if err != nil {
			return err
		}
		defer j.Close()
		topts = append(topts, withRecorder(j))
	}

	opts := cfg.Copy.options()
	log.Infof("pgcp %s: %s -> %s", versionString(), src, dst)
	log.Infof("options: create_schema=%t skip_indexes=%t force_schema=%q list_from_source=%t",
		opts.CreateSchema, opts.SkipIndexes, opts.ForceSchema, opts.ListFromSource)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	t := newTransport(src, dst, log, topts...)
	if glob {
		err = t.CopyTables(ctx, table, opts)
	} else {
		err = t.CopyTable(ctx, table, destTable, opts)
	}
	if err != nil {
		return err
	}
	log.Infof("completed in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

// isTableGlob reports whether name contains shell wildcard characters.
func isTableGlob(name string) bool {
	return strings.ContainsAny(name, "*?[")
}

// profileCatalog builds the catalog for the named profile; role is used in errors.
func profileCatalog(cfg *CopyConfig, role, name string) (*Catalog, error) {
	db, err := cfg.database(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", role, err)
	}
	c, err := newCatalog(db)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", role, err)
	}
	return c, nil
}

func runDDL(cmd *cobra.Command, args []string) error {
	cfg, err := loadResolvedConfig(cmd)
	if err != nil {
		return err
	}
	src, err := parseQualifiedName(strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	dst := src
	if ddlAs != "" {
		if dst, err = parseQualifiedName(strings.TrimSpace(ddlAs)); err != nil {
			return err
		}
	}
	cat, err := profileCatalog(cfg, "source", cfg.Source)
	if err != nil {
		return err
	}
	ddl, err := renderTableDDL(cmd.Context(), cat, src, dst)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ddl)
	return nil
}

type columnSource interface {
	ColumnDefinitions(ctx context.Context, schema, table string) ([]ColumnDefinition, error)
}

// renderTableDDL renders the CREATE TABLE statement that recreates src's
// columns under the name dst.
func renderTableDDL(ctx context.Context, cat columnSource, src, dst QualifiedName) (string, error) {
	columns, err := cat.ColumnDefinitions(ctx, src.Schema, src.Table)
	if err != nil {
		return "", err
	}
	return createTableStatement(dst, columns, false), nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, err := loadResolvedConfig(cmd)
	if err != nil {
		return err
	}
	name, err := parseQualifiedName(strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogFile)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	dst, err := profileCatalog(cfg, "destination", cfg.Destination)
	if err != nil {
		return err
	}
	f, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	log.Infof("loading %s into %s on %s", args[1], name, dst)
	n, err := dst.CopyFromFile(cmd.Context(), name.Schema, name.Table, f, csvHeader)
	if err != nil {
		log.Errorf("load %s failed: %v", name, err)
		return err
	}
	log.Infof("loaded %s rows into %s", humanize.Comma(n), name)
	return nil
}

func runMaterialize(cmd *cobra.Command, args []string) error {
	cfg, err := loadResolvedConfig(cmd)
	if err != nil {
		return err
	}
	name, err := parseQualifiedName(strings.TrimSpace(args[0]))
	if err != nil {
		return err
	}
	query := strings.TrimRight(strings.TrimSpace(args[1]), ";")
	log, err := newLogger(cfg.LogFile)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	dst, err := profileCatalog(cfg, "destination", cfg.Destination)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if cfg.Copy.CreateSchema {
		if err := dst.CreateSchemaIfMissing(ctx, name.Schema); err != nil {
			return err
		}
	}
	columns, err := dst.QueryColumns(ctx, query)
	if err != nil {
		return err
	}
	log.Infof("materializing %d columns into %s on %s", len(columns), name, dst)
	n, err := dst.CreateTableFromQuery(ctx, name.Schema, name.Table, columns, query)
	if err != nil {
		log.Errorf("materialize %s failed: %v", name, err)
		return err
	}
	log.Infof("materialized %s rows into %s", humanize.Comma(n), name)
	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	path := journalPath
	if path == "" {
		cfg, err := loadResolvedConfig(cmd)
		if err != nil {
			return err
		}
		path = cfg.Journal
	}
	if path == "" {
		return fmt.Errorf("no journal configured: pass --journal or set journal in the config")
	}

	j, err := openJournal(path)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), entries)
}

func printHistory(out io.Writer, entries []JournalEntry) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSOURCE\tDESTINATION\tPATH\tSTATUS\tROWS\tSIZE\tDURATION\tERROR")
	for _, e := range entries {
		duration := "-"
		if e.FinishedAt != nil {
			duration = e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(e.ID),
			e.StartedAt.Local().Format(time.DateTime),
			e.Source,
			e.Destination,
			dashIfEmpty(e.Path),
			e.Status,
			humanize.Comma(e.Rows),
			humanize.Bytes(uint64(e.Bytes)),
			duration,
			dashIfEmpty(e.Error),
		)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
