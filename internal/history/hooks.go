package history

import (
	"errors"
	"fmt"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/index"
	"github.com/caevv/agenthistory/internal/logging"
)

// OnRunStartedOnNode records that run started executing on node.
func (s *Service) OnRunStartedOnNode(node string, run *build.Run) error {
	return s.recordTouch(node, run, "")
}

// OnRunStepStartedOnNode records that a pipeline step of run allocated an
// executor on node. Re-entering a node appends nothing new to the index but
// keeps the step id on the run's annotation.
func (s *Service) OnRunStepStartedOnNode(node string, run *build.Run, stepID string) error {
	if stepID == "" {
		return fmt.Errorf("step id is required")
	}
	return s.recordTouch(node, run, stepID)
}

func (s *Service) recordTouch(node string, run *build.Run, stepID string) error {
	if err := run.Validate(); err != nil {
		return err
	}
	rec := index.Record{
		Job:             run.Job,
		Build:           run.Number,
		StartTimeMillis: run.StartTimeMillis,
		Result:          run.StampableResult(),
	}
	log := logging.ForRun(s.logger, run.Job, run.Number)
	added, err := s.index.Append(node, rec)
	if err != nil {
		log.Error("failed to append index record",
			"node", node,
			"error", err)
		return fmt.Errorf("append %s to %s: %w", run.FullDisplayName(), node, err)
	}

	if _, err := s.host.Annotate(run.Job, run.Number, node, stepID); err != nil {
		if !build.IsNotFound(err) {
			return fmt.Errorf("annotate %s: %w", run.FullDisplayName(), err)
		}
		log.Debug("run not mirrored, annotation skipped")
	}

	log.Debug("recorded node touch",
		"node", node,
		"step_id", stepID,
		"added", added)
	return nil
}

// touchedNodes returns the nodes a run is known to have touched, or every
// known node when the run carries no annotation.
func (s *Service) touchedNodes(run *build.Run) ([]string, error) {
	if len(run.History.Nodes) > 0 {
		return run.History.Nodes, nil
	}
	return s.index.ListKnownNodeNames()
}

// OnRunCompleted stamps the run's terminal result onto its index records.
// Nothing is written while the run's log is still open.
func (s *Service) OnRunCompleted(run *build.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	result := run.StampableResult()
	if !result.Known() {
		return nil
	}
	nodes, err := s.touchedNodes(run)
	if err != nil {
		return err
	}
	log := logging.ForRun(s.logger, run.Job, run.Number)
	var errs []error
	for _, node := range nodes {
		changed, err := s.index.UpdateResult(node, run.Job, run.Number, result)
		if err != nil {
			log.Error("failed to stamp result",
				"node", node,
				"error", err)
			errs = append(errs, err)
			continue
		}
		if changed {
			log.Debug("stamped result",
				"node", node,
				"result", result.String())
		}
	}
	return errors.Join(errs...)
}

// OnRunDeleted drops the run from the index and the host mirror.
func (s *Service) OnRunDeleted(run *build.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	nodes, err := s.touchedNodes(run)
	if err != nil {
		return err
	}
	var errs []error
	for _, node := range nodes {
		if _, err := s.index.Delete(node, run.Job, run.Number); err != nil {
			s.logger.Error("failed to delete index record",
				"node", node,
				"job", run.Job,
				"build", run.Number,
				"error", err)
			errs = append(errs, err)
		}
	}
	if err := s.host.DeleteRun(run.Job, run.Number); err != nil && !build.IsNotFound(err) {
		errs = append(errs, fmt.Errorf("delete mirrored run: %w", err))
	}
	return errors.Join(errs...)
}

// OnJobDeleted drops every record of job.
func (s *Service) OnJobDeleted(job string) error {
	if job == "" {
		return fmt.Errorf("job is required")
	}
	var errs []error
	if err := s.index.DeleteAllForJob(job); err != nil {
		errs = append(errs, err)
	}
	if err := s.host.DeleteJob(job); err != nil && !build.IsNotFound(err) {
		errs = append(errs, fmt.Errorf("delete mirrored job: %w", err))
	}
	return errors.Join(errs...)
}

// OnJobRenamed moves every record of oldJob to newJob.
func (s *Service) OnJobRenamed(oldJob, newJob string) error {
	if oldJob == "" || newJob == "" {
		return fmt.Errorf("old and new job names are required")
	}
	var errs []error
	if err := s.index.RenameJobInAllIndexes(oldJob, newJob); err != nil {
		errs = append(errs, err)
	}
	if err := s.host.RenameJob(oldJob, newJob); err != nil && !build.IsNotFound(err) {
		errs = append(errs, fmt.Errorf("rename mirrored job: %w", err))
	}
	return errors.Join(errs...)
}

// OnNodeDeleted removes the node's index.
func (s *Service) OnNodeDeleted(node string) error {
	if err := s.index.DeleteAllForNode(node); err != nil {
		s.logger.Error("failed to delete node index",
			"node", node,
			"error", err)
		return err
	}
	return nil
}

// OnNodeRenamed moves the node's index and annotations to the new name.
func (s *Service) OnNodeRenamed(oldNode, newNode string) error {
	if err := s.index.RenameNodeFile(oldNode, newNode); err != nil {
		s.logger.Error("failed to rename node index",
			"node", oldNode,
			"new_name", newNode,
			"error", err)
		return err
	}
	if err := s.host.RenameNode(oldNode, newNode); err != nil {
		return fmt.Errorf("rename node in mirrored runs: %w", err)
	}
	return nil
}
