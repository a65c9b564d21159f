package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jdbcx/jdbcx/internal/async"
	"github.com/jdbcx/jdbcx/internal/batch"
	"github.com/jdbcx/jdbcx/internal/log"
	"github.com/jdbcx/jdbcx/internal/model"
	"github.com/jdbcx/jdbcx/internal/query"
	"github.com/jdbcx/jdbcx/internal/result"

	"github.com/spf13/cobra"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var queryCmd = &cobra.Command{
	Use:   "query [flags] [QUERY]",
	Short: "query runs a query document against a database and prints the reduced result",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doQuery,
}

func init() {
	f := queryCmd.Flags()
	f.String("file", "", "read the query document from a file")
	f.String("glob", "", "run every file matching the pattern, ** is supported")
	f.String("driver", model.DriverSQLite, "database/sql driver: sqlite, postgres or mysql")
	f.String("dsn", model.DSNMemory, "data source name")
	f.String("policy", model.PolicySummary, "result policy: first, firstQuery, firstUpdate, last, lastQuery, lastUpdate, mergedQueries, mergedUpdates or summary")
	f.Int("parallelism", 0, "run up to N documents at once, each on its own connection")
	f.Bool("dry-run", false, "print the groups instead of running them")
	f.String("format", string(result.FormatTable), "output format: table, csv or markdown")
	f.String("schedule", "", "cron expression re-running the batch until interrupted")
	f.StringArrayP("option", "o", nil, "key=value property, may be repeated")
}

func queryConfig(cmd *cobra.Command) (model.Query, error) {
	q := *model.DefaultConfig().Query
	if config.Query != nil {
		q = *config.Query
	}
	props, err := properties(cmd)
	if err != nil {
		return q, err
	}
	q, err = q.Apply(props)
	if err != nil {
		return q, err
	}

	if settings.IsSet("driver") {
		q.Driver = settings.GetString("driver")
	}
	if settings.IsSet("dsn") {
		q.DSN = settings.GetString("dsn")
	}
	if settings.IsSet("policy") {
		q.Policy = settings.GetString("policy")
	}
	if settings.IsSet("parallelism") {
		q.Parallelism = settings.GetInt("parallelism")
	}
	if settings.IsSet("dry-run") {
		q.DryRun = settings.GetBool("dry-run")
	}
	if settings.IsSet("schedule") {
		q.Schedule = settings.GetString("schedule")
	}
	if q.Driver == "" {
		q.Driver = model.DriverSQLite
	}
	return q, nil
}

func doQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	q, err := queryConfig(cmd)
	if err != nil {
		return err
	}
	format, err := result.ParseFormat(settings.GetString("format"))
	if err != nil {
		return err
	}

	src := query.Source{
		File:    settings.GetString("file"),
		Pattern: settings.GetString("glob"),
	}
	if len(args) == 1 {
		src.Query = args[0]
	}
	if src.Query == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		src.Query = string(b)
	}

	attrs := slog.Group("jdbcx",
		slog.String("cmd", "query"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs, slog.String("query_source", src.String()))

	tasks, err := query.Load(ctx, src)
	if err != nil {
		return err
	}
	exe, err := batch.New(batch.FromModel(q))
	if err != nil {
		return err
	}

	db, err := sql.Open(q.Driver, q.DSN)
	if err != nil {
		return fmt.Errorf("opening %s database: %w", q.Driver, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.WarnContext(ctx, "closing database", "error", err)
		}
	}()

	once := func(ctx context.Context) error {
		r, err := exe.Execute(ctx, batch.FromDB(db), tasks)
		if err != nil {
			return err
		}
		return result.Render(cmd.OutOrStdout(), r, format)
	}

	if q.Schedule == "" {
		return once(ctx)
	}
	return schedule(ctx, q.Schedule, once)
}

// schedule runs fn on every tick of the cron expression until ctx is done.
// A failed run is logged and the next tick still fires.
func schedule(ctx context.Context, expr string, fn func(context.Context) error) error {
	if _, err := async.ParseCron(expr); err != nil {
		return fmt.Errorf("schedule %q: %w", expr, err)
	}

	runner := async.New(async.DefaultSize())
	defer func() {
		if err := runner.Close(); err != nil {
			slog.WarnContext(ctx, "closing runner", "error", err)
		}
	}()
	sched, err := runner.Scheduler()
	if err != nil {
		return err
	}

	id, err := sched.Cron(strings.TrimSpace(expr), func() {
		if err := fn(ctx); err != nil {
			slog.ErrorContext(ctx, "scheduled batch failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "batch scheduled", "schedule", expr, "job_id", id)

	<-ctx.Done()
	slog.InfoContext(ctx, "schedule stopped", "cause", context.Cause(ctx))
	return nil
}
