// Package main implements the tessera command line tool: store, get, and
// delete table-like entities on a remote tabular service, upsert rows into
// them, and run ad-hoc queries.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tessera/tessera/internal/config"
	"github.com/tessera/tessera/internal/observability"
	"github.com/tessera/tessera/internal/remote"
	"github.com/tessera/tessera/internal/snapshot"
	"github.com/tessera/tessera/internal/staging"
	"github.com/tessera/tessera/internal/store"
	"github.com/tessera/tessera/internal/upsert"
	"github.com/tessera/tessera/pkg/types"
)

var (
	version = "dev"
	commit  = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Tessera - table synchronization for remote tabular storage\n\n")
	fmt.Fprintf(os.Stderr, "Usage: tessera <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  store    Create or update an entity from a definition file\n")
	fmt.Fprintf(os.Stderr, "  get      Fetch an entity and print its schema\n")
	fmt.Fprintf(os.Stderr, "  delete   Delete an entity\n")
	fmt.Fprintf(os.Stderr, "  upsert   Upsert CSV rows into an entity\n")
	fmt.Fprintf(os.Stderr, "  query    Run a query and print CSV results\n")
	fmt.Fprintf(os.Stderr, "  version  Show version information\n")
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  TESSERA_ENDPOINT        Base URL of the remote service\n")
	fmt.Fprintf(os.Stderr, "  TESSERA_DATA_DIR        Base directory for local state\n")
	fmt.Fprintf(os.Stderr, "  TESSERA_STAGING_TYPE    Staging storage type (local, s3)\n")
}

func main() {
	// A .env file is optional; absence is not an error.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "store":
		err = runStore(os.Args[2:])
	case "get":
		err = runGet(os.Args[2:])
	case "delete":
		err = runDelete(os.Args[2:])
	case "upsert":
		err = runUpsert(os.Args[2:])
	case "query":
		err = runQuery(os.Args[2:])
	case "version":
		fmt.Printf("tessera version %s (commit: %s)\n", version, commit)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "tessera: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("tessera: %v", err)
	}
}

// loadConfig layers file, environment, and the shared --config/--endpoint
// flags, highest priority last.
func loadConfig(configFile, endpoint string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildStaging(ctx context.Context, cfg *config.Config) (staging.ObjectStorage, error) {
	switch cfg.Staging.Type {
	case "s3":
		return staging.NewS3Storage(ctx, cfg.Staging.S3.Bucket, staging.S3Config{
			Region:   cfg.Staging.S3.Region,
			Endpoint: cfg.Staging.S3.Endpoint,
		})
	default:
		return staging.NewLocalStorage(cfg.Staging.Path)
	}
}

// entityDef is the YAML shape of an entity definition file.
type entityDef struct {
	Kind        string         `yaml:"kind"`
	Name        string         `yaml:"name"`
	ParentID    string         `yaml:"parent_id"`
	Description string         `yaml:"description"`
	Annotations map[string]any `yaml:"annotations"`

	// View-like fields.
	ScopeIDs []string `yaml:"scope_ids"`
	Mask     int64    `yaml:"view_type_mask"`

	// SQL-defined kinds.
	DefiningSQL string `yaml:"defining_sql"`

	Columns []struct {
		Name              string   `yaml:"name"`
		Type              string   `yaml:"type"`
		MaximumSize       int64    `yaml:"maximum_size"`
		MaximumListLength int64    `yaml:"maximum_list_length"`
		DefaultValue      string   `yaml:"default_value"`
		EnumValues        []string `yaml:"enum_values"`
		FacetType         string   `yaml:"facet_type"`
	} `yaml:"columns"`
}

func (d *entityDef) build() (types.TableLike, error) {
	var e types.TableLike
	switch types.EntityKind(d.Kind) {
	case types.KindTable, "":
		e = types.NewTable(d.Name, d.ParentID)
	case types.KindView:
		e = types.NewView(d.Name, d.ParentID, d.Mask, d.ScopeIDs...)
	case types.KindDataset:
		e = types.NewDataset(d.Name, d.ParentID, d.Mask)
	case types.KindMaterializedView:
		e = types.NewMaterializedView(d.Name, d.ParentID, d.DefiningSQL)
	case types.KindVirtualTable:
		e = types.NewVirtualTable(d.Name, d.ParentID, d.DefiningSQL)
	default:
		return nil, fmt.Errorf("unknown entity kind %q", d.Kind)
	}

	attrs := e.Attributes()
	attrs.Description = d.Description
	attrs.Annotations = d.Annotations
	e.SetAttributes(attrs)

	cols := &types.ColumnSet{}
	for _, c := range d.Columns {
		t := types.ColumnType(strings.ToUpper(c.Type))
		if !t.Valid() {
			return nil, fmt.Errorf("column %q has unknown type %q", c.Name, c.Type)
		}
		col := &types.Column{
			Name:              c.Name,
			Type:              t,
			MaximumSize:       c.MaximumSize,
			MaximumListLength: c.MaximumListLength,
			EnumValues:        c.EnumValues,
			FacetType:         c.FacetType,
		}
		if c.DefaultValue != "" {
			col.DefaultValue = c.DefaultValue
		}
		cols.Put(col)
	}
	e.SetColumns(cols)
	return e, nil
}

func runStore(args []string) error {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to configuration file (YAML or JSON)")
	endpoint := fs.String("endpoint", "", "Remote service base URL")
	defFile := fs.String("file", "", "Entity definition file (YAML)")
	dryRun := fs.Bool("dry-run", false, "Compute and log changes without writing")
	fs.Parse(args)

	if *defFile == "" {
		return fmt.Errorf("store: --file is required")
	}
	data, err := os.ReadFile(*defFile)
	if err != nil {
		return err
	}
	var def entityDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("store: failed to parse %s: %w", *defFile, err)
	}
	entity, err := def.build()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configFile, *endpoint)
	if err != nil {
		return err
	}

	snaps, err := snapshot.NewStore(cfg.SnapshotPath())
	if err != nil {
		return err
	}
	defer snaps.Close()

	coord := store.New(remote.NewHTTPClient(cfg.Endpoint), snaps, store.Options{
		JobTimeout:   cfg.JobTimeout,
		PollInterval: cfg.PollInterval,
		Progress:     logProgress,
	})

	ctx := context.Background()
	if err := coord.Store(ctx, entity, store.StoreOptions{DryRun: *dryRun}); err != nil {
		return err
	}
	if *dryRun {
		log.Printf("dry run complete for %q", def.Name)
		return nil
	}
	log.Printf("stored %s %s (%d columns)", entity.Kind(), entity.ID(), entity.Columns().Len())
	return nil
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to configuration file (YAML or JSON)")
	endpoint := fs.String("endpoint", "", "Remote service base URL")
	id := fs.String("id", "", "Entity ID")
	fs.Parse(args)

	cfg, err := loadConfig(*configFile, *endpoint)
	if err != nil {
		return err
	}

	coord := store.New(remote.NewHTTPClient(cfg.Endpoint), nil, store.Options{})
	entity := &types.Table{}
	if err := coord.Get(context.Background(), *id, entity); err != nil {
		return err
	}

	attrs := entity.Attributes()
	fmt.Printf("id:     %s\n", entity.ID())
	fmt.Printf("name:   %s\n", attrs.Name)
	fmt.Printf("parent: %s\n", attrs.ParentID)
	if attrs.Description != "" {
		fmt.Printf("desc:   %s\n", attrs.Description)
	}
	fmt.Printf("columns:\n")
	for _, col := range entity.Columns().Columns() {
		fmt.Printf("  %-24s %-16s %s\n", col.Name, col.Type, col.ID)
	}
	return nil
}

func runDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to configuration file (YAML or JSON)")
	endpoint := fs.String("endpoint", "", "Remote service base URL")
	id := fs.String("id", "", "Entity ID")
	fs.Parse(args)

	cfg, err := loadConfig(*configFile, *endpoint)
	if err != nil {
		return err
	}

	snaps, err := snapshot.NewStore(cfg.SnapshotPath())
	if err != nil {
		return err
	}
	defer snaps.Close()

	coord := store.New(remote.NewHTTPClient(cfg.Endpoint), snaps, store.Options{})
	if err := coord.Delete(context.Background(), *id); err != nil {
		return err
	}
	log.Printf("deleted %s", *id)
	return nil
}

func runUpsert(args []string) error {
	fs := flag.NewFlagSet("upsert", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to configuration file (YAML or JSON)")
	endpoint := fs.String("endpoint", "", "Remote service base URL")
	id := fs.String("id", "", "Entity ID")
	csvFile := fs.String("csv", "", "CSV file with a header row")
	keys := fs.String("keys", "", "Comma-separated primary key column names")
	appendOnly := fs.Bool("append", false, "Append all rows without matching persisted rows")
	dryRun := fs.Bool("dry-run", false, "Compute the delta without writing")
	wait := fs.Bool("wait", false, "Wait for eventually-consistent views to catch up")
	fs.Parse(args)

	if *csvFile == "" {
		return fmt.Errorf("upsert: --csv is required")
	}
	if *keys == "" && !*appendOnly {
		return fmt.Errorf("upsert: --keys is required unless --append is set")
	}

	cfg, err := loadConfig(*configFile, *endpoint)
	if err != nil {
		return err
	}

	ctx := context.Background()
	client := remote.NewHTTPClient(cfg.Endpoint)
	stage, err := buildStaging(ctx, cfg)
	if err != nil {
		return err
	}

	coord := store.New(client, nil, store.Options{})
	entity := &types.Table{}
	if err := coord.Get(ctx, *id, entity); err != nil {
		return err
	}

	var primaryKeys []string
	if *keys != "" {
		primaryKeys = strings.Split(*keys, ",")
	}

	stats := observability.NewSyncStats()
	orch := upsert.New(client, stage, upsert.Options{
		PrimaryKeys:        primaryKeys,
		RowsPerQuery:       cfg.RowsPerQuery,
		UpdateSizeBytes:    cfg.UpdateSizeBytes,
		InsertSizeBytes:    cfg.InsertSizeBytes,
		DryRun:             *dryRun,
		WaitForConsistency: *wait || cfg.WaitForConsistency,
		ConsistencyTimeout: cfg.ConsistencyTimeout,
		JobTimeout:         cfg.JobTimeout,
		PollInterval:       cfg.PollInterval,
		Progress:           logProgress,
		Stats:              stats,
	})

	started := time.Now()
	var summary *upsert.Summary
	if *appendOnly {
		summary, err = orch.StoreRows(ctx, entity, types.CSVFile(*csvFile))
	} else {
		summary, err = orch.Run(ctx, entity, types.CSVFile(*csvFile))
	}
	if err != nil {
		return err
	}

	verb := "applied"
	if summary.DryRun {
		verb = "would apply"
	}
	log.Printf("%s: %d updated, %d unchanged, %d inserted in %s",
		verb, summary.RowsUpdated, summary.RowsUnchanged, summary.RowsInserted,
		time.Since(started).Round(time.Millisecond))
	for _, op := range stats.Snapshot() {
		log.Printf("  %-16s calls=%d rows=%d elapsed=%s failures=%d",
			op.Operation, op.Calls, op.Rows, op.Elapsed.Round(time.Millisecond), op.Failures)
	}
	return nil
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to configuration file (YAML or JSON)")
	endpoint := fs.String("endpoint", "", "Remote service base URL")
	sql := fs.String("sql", "", "Query text")
	withIDs := fs.Bool("row-ids", false, "Include row IDs and versions")
	fs.Parse(args)

	if *sql == "" {
		return fmt.Errorf("query: --sql is required")
	}

	cfg, err := loadConfig(*configFile, *endpoint)
	if err != nil {
		return err
	}

	client := remote.NewHTTPClient(cfg.Endpoint)
	rs, err := client.Query(context.Background(), *sql, remote.QueryOptions{IncludeRowIDs: *withIDs})
	if err != nil {
		return err
	}

	w := csv.NewWriter(os.Stdout)
	header := rs.Columns
	if *withIDs {
		header = append([]string{"ROW_ID", "ROW_VERSION"}, header...)
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rs.Rows {
		record := make([]string, 0, len(header))
		if *withIDs {
			record = append(record, row.ID, fmt.Sprintf("%d", row.Version))
		}
		for _, name := range rs.Columns {
			v := row.Values[name]
			if v == nil {
				record = append(record, "")
				continue
			}
			record = append(record, fmt.Sprintf("%v", v))
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func logProgress(message string, current, total int64) {
	if total > 0 {
		log.Printf("  %s (%d/%d)", message, current, total)
		return
	}
	log.Printf("  %s", message)
}
