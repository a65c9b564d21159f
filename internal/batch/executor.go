// Package batch executes query documents against database connections and
// reduces the results of their statements according to a policy.
//
// With parallelism of one or less all groups of all tasks run in order on a
// single connection. Otherwise every task gets its own connection and up to
// parallelism tasks run at once, the first failure stops the others.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jdbcx/jdbcx/internal/log"
	"github.com/jdbcx/jdbcx/internal/model"
	"github.com/jdbcx/jdbcx/internal/parallel"
	"github.com/jdbcx/jdbcx/internal/query"
	"github.com/jdbcx/jdbcx/internal/result"
)

type Config struct {
	Parallelism int
	Policy      string
	DryRun      bool
}

func FromModel(q model.Query) Config {
	return Config{
		Parallelism: q.Parallelism,
		Policy:      q.Policy,
		DryRun:      q.DryRun,
	}
}

type Executor struct {
	parallelism int
	policy      Policy
	dryRun      bool
}

// New fails with model.ErrUnknownPolicy for an unknown policy name.
func New(cfg Config) (*Executor, error) {
	policy, err := ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	return &Executor{
		parallelism: cfg.Parallelism,
		policy:      policy,
		dryRun:      cfg.DryRun,
	}, nil
}

func (e *Executor) Policy() Policy {
	return e.policy
}

// Execute runs tasks with connections from connect.
func (e *Executor) Execute(ctx context.Context, connect ConnFunc, tasks []query.Task) (result.Result, error) {
	ctx = log.ContextAttrs(ctx,
		slog.String("batch_id", uuid.NewString()),
		slog.Int("tasks", len(tasks)),
	)

	switch {
	case e.dryRun:
		return e.dryRunResult(tasks), nil
	case e.parallelism <= 1:
		return e.sequential(ctx, connect, tasks)
	default:
		return e.parallel(ctx, connect, tasks)
	}
}

type item struct {
	source string
	group  query.Group
}

func flatten(tasks []query.Task) []item {
	var ret []item
	for _, t := range tasks {
		for _, g := range t.Groups {
			ret = append(ret, item{source: t.Source, group: g})
		}
	}
	return ret
}

// sequential runs every group on one connection. Only the last group is
// reduced unless the policy is summary, which reports all of them.
func (e *Executor) sequential(ctx context.Context, connect ConnFunc, tasks []query.Task) (result.Result, error) {
	items := flatten(tasks)
	if len(items) == 0 {
		return result.Result{}, fmt.Errorf("%w: nothing to execute", model.ErrEmptyGroup)
	}

	conn, err := connect(ctx)
	if err != nil {
		return result.Result{}, fmt.Errorf("connecting: %w", err)
	}
	defer closeConn(ctx, conn)

	summary := result.New(
		result.Field{Name: "source", Type: result.TypeString},
		result.Field{Name: "group", Type: result.TypeInt},
		result.Field{Name: "sequence", Type: result.TypeInt},
		result.Field{Name: "type", Type: result.TypeString},
		result.Field{Name: "rows", Type: result.TypeInt},
	)
	for i, it := range items {
		start := time.Now()
		outcomes, stats, err := runGroup(ctx, conn, it.group)
		if err != nil {
			return result.Result{}, fmt.Errorf("%s group %d: %w", it.source, it.group.Index, err)
		}
		slog.DebugContext(ctx, "group executed",
			"source", it.source,
			"group", it.group.Index,
			"description", it.group.Description,
			"stats", stats,
			"elapsed", time.Since(start),
		)

		if e.policy == PolicySummary {
			for seq, o := range outcomes {
				summary.Append(it.source, int64(it.group.Index), int64(seq+1), o.kind(), o.rowCount())
			}
			continue
		}
		if i == len(items)-1 {
			return reduce(e.policy, outcomes)
		}
	}
	return summary, nil
}

type groupStats struct {
	group query.Group
	stats Stats
}

// parallel runs each task on its own connection. Any failure is logged and
// reported as model.ErrQueryFailed.
func (e *Executor) parallel(ctx context.Context, connect ConnFunc, tasks []query.Task) (result.Result, error) {
	perTask, err := parallel.Map(ctx, e.parallelism, tasks, func(ctx context.Context, task query.Task) ([]groupStats, error) {
		ctx = log.ContextAttrs(ctx, slog.String("source", task.Source))
		return e.runTask(ctx, connect, task)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			slog.WarnContext(ctx, "batch interrupted", "error", err)
		} else {
			slog.ErrorContext(ctx, "batch failed", "error", err)
		}
		return result.Result{}, model.ErrQueryFailed
	}

	ret := result.New(
		result.Field{Name: "source", Type: result.TypeString},
		result.Field{Name: "group", Type: result.TypeInt},
		result.Field{Name: "description", Type: result.TypeString},
		result.Field{Name: "reads", Type: result.TypeInt},
		result.Field{Name: "updates", Type: result.TypeInt},
		result.Field{Name: "rows", Type: result.TypeInt},
	)
	for i, task := range tasks {
		for _, gs := range perTask[i] {
			ret.Append(task.Source, int64(gs.group.Index), gs.group.Description, gs.stats.Reads, gs.stats.Updates, gs.stats.Rows)
		}
	}
	return ret, nil
}

func (e *Executor) runTask(ctx context.Context, connect ConnFunc, task query.Task) ([]groupStats, error) {
	if len(task.Groups) == 0 {
		return nil, nil
	}
	conn, err := connect(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "connecting failed", "error", err)
		return nil, fmt.Errorf("%s: connecting: %w", task.Source, err)
	}
	defer closeConn(ctx, conn)

	ret := make([]groupStats, 0, len(task.Groups))
	for _, g := range task.Groups {
		// a sibling may have failed meanwhile
		if err := ctx.Err(); err != nil {
			slog.DebugContext(ctx, "skipping group", "group", g.Index, "error", err)
			return nil, err
		}
		_, stats, err := runGroup(ctx, conn, g)
		if err != nil {
			if ctx.Err() == nil {
				slog.ErrorContext(ctx, "group failed", "group", g.Index, "description", g.Description, "stats", stats, "error", err)
			}
			return nil, fmt.Errorf("%s group %d: %w", task.Source, g.Index, err)
		}
		slog.DebugContext(ctx, "group executed", "group", g.Index, "stats", stats)
		ret = append(ret, groupStats{group: g, stats: stats})
	}
	return ret, nil
}

func (e *Executor) dryRunResult(tasks []query.Task) result.Result {
	r := result.New(
		result.Field{Name: "source", Type: result.TypeString},
		result.Field{Name: "query", Type: result.TypeString},
		result.Field{Name: "options", Type: result.TypeString},
	)
	for _, it := range flatten(tasks) {
		options := fmt.Sprintf("group=%d description=%q policy=%s parallelism=%d",
			it.group.Index, it.group.Description, e.policy, e.parallelism)
		r.Append(it.source, it.group.Query, options)
	}
	return r
}

func closeConn(ctx context.Context, conn Conn) {
	if err := conn.Close(); err != nil {
		slog.WarnContext(ctx, "closing connection", "error", err)
	}
}
