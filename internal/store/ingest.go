package store

import (
	"fmt"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/flowgraph"
)

// RunDocument is a run as pushed by the host, optionally with its step
// graph. It is the body of PUT /api/runs and the unit of ingest files.
type RunDocument struct {
	Run   *build.Run       `json:"run" yaml:"run"`
	Graph *flowgraph.Graph `json:"graph,omitempty" yaml:"graph,omitempty"`
}

// Validate checks the run and indexes the graph, if any.
func (d *RunDocument) Validate() error {
	if err := d.Run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	if d.Graph == nil {
		return nil
	}
	if !d.Run.Pipeline {
		return fmt.Errorf("%s: step graph given for a non-pipeline run", d.Run.FullDisplayName())
	}
	if err := d.Graph.Index(); err != nil {
		return fmt.Errorf("%s: invalid step graph: %w", d.Run.FullDisplayName(), err)
	}
	return nil
}

// Writer is the write side of a Store used by Ingest.
type Writer interface {
	SaveRun(run *build.Run) error
	SaveGraph(job string, number int, g *flowgraph.Graph) error
}

// Ingest validates a document and writes its run and graph to s.
func Ingest(s Writer, doc *RunDocument) error {
	if doc == nil {
		return fmt.Errorf("document is nil")
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	if err := s.SaveRun(doc.Run); err != nil {
		return fmt.Errorf("save %s: %w", doc.Run.FullDisplayName(), err)
	}
	if doc.Graph != nil {
		if err := s.SaveGraph(doc.Run.Job, doc.Run.Number, doc.Graph); err != nil {
			return fmt.Errorf("save graph of %s: %w", doc.Run.FullDisplayName(), err)
		}
	}
	return nil
}
