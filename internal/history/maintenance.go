package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/flowgraph"
	"github.com/caevv/agenthistory/internal/index"
)

// BackfillStats summarizes a backfill pass.
type BackfillStats struct {
	Runs     int `json:"runs"`
	Appended int `json:"appended"`
	Stamped  int `json:"stamped"`
}

// Backfill indexes every mirrored run on the nodes it used: the node a
// freestyle run was built on, or each allocation node in a pipeline's step
// graph. Existing records are kept and get their result stamped if known.
func (s *Service) Backfill(ctx context.Context) (*BackfillStats, error) {
	runs, err := s.host.GetAllRuns(0)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	stats := &BackfillStats{}
	var errs []error
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("backfill aborted: %w", err)
		}
		stats.Runs++
		for _, touch := range s.touches(run) {
			appended, stamped, err := s.backfillTouch(run, touch)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if appended {
				stats.Appended++
			}
			if stamped {
				stats.Stamped++
			}
		}
	}

	s.logger.Info("backfill completed",
		"runs", stats.Runs,
		"appended", stats.Appended,
		"stamped", stats.Stamped,
		"failures", len(errs))
	return stats, errors.Join(errs...)
}

type touch struct {
	node   string
	stepID string
}

func (s *Service) touches(run *build.Run) []touch {
	if !run.Pipeline {
		node := run.BuiltOn
		if node == "" {
			node = flowgraph.BuiltInNode
		}
		return []touch{{node: node}}
	}
	var out []touch
	for _, step := range s.allSteps(run) {
		out = append(out, touch{node: step.NodeName, stepID: step.StepID})
	}
	return out
}

func (s *Service) backfillTouch(run *build.Run, t touch) (appended, stamped bool, err error) {
	result := run.StampableResult()
	appended, err = s.index.Append(t.node, index.Record{
		Job:             run.Job,
		Build:           run.Number,
		StartTimeMillis: run.StartTimeMillis,
		Result:          result,
	})
	if err != nil {
		return false, false, err
	}
	if !appended && result.Known() {
		stamped, err = s.index.UpdateResult(t.node, run.Job, run.Number, result)
		if err != nil {
			return false, false, err
		}
	}
	if _, err := s.host.Annotate(run.Job, run.Number, t.node, t.stepID); err != nil {
		return appended, stamped, fmt.Errorf("annotate %s: %w", run.FullDisplayName(), err)
	}
	return appended, stamped, nil
}

// PruneStats summarizes a prune pass.
type PruneStats struct {
	Nodes   int `json:"nodes"`
	Checked int `json:"checked"`
	Removed int `json:"removed"`
}

// Prune removes index records whose run no longer exists on the host. It
// covers deletions whose event was never delivered.
func (s *Service) Prune(ctx context.Context) (*PruneStats, error) {
	nodes, err := s.index.ListKnownNodeNames()
	if err != nil {
		return nil, err
	}

	stats := &PruneStats{}
	var errs []error
	for _, node := range nodes {
		stats.Nodes++
		records, err := s.index.ReadAll(node)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		stale := make(map[index.Key]bool)
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return stats, fmt.Errorf("prune aborted: %w", err)
			}
			stats.Checked++
			if _, err := s.host.GetRun(rec.Job, rec.Build); build.IsNotFound(err) {
				stale[rec.Key()] = true
			}
		}
		if len(stale) == 0 {
			continue
		}

		removed, err := s.index.Retain(node, func(r index.Record) bool {
			return !stale[r.Key()]
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stats.Removed += removed
		s.logger.Debug("pruned stale index records",
			"node", node,
			"removed", removed)
	}

	s.logger.Info("prune completed",
		"nodes", stats.Nodes,
		"checked", stats.Checked,
		"removed", stats.Removed)
	return stats, errors.Join(errs...)
}
