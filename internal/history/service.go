// Package history answers node history queries and keeps the node index in
// step with host events.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/flowgraph"
	"github.com/caevv/agenthistory/internal/index"
	"github.com/caevv/agenthistory/internal/logging"
	"github.com/caevv/agenthistory/internal/query"
)

// Host is the view of the host's runs the history needs. store.Store
// implements it.
type Host interface {
	GetRun(job string, number int) (*build.Run, error)
	GetJobRuns(job string, limit int) ([]*build.Run, error)
	GetAllRuns(limit int) ([]*build.Run, error)
	GetGraph(job string, number int) (*flowgraph.Graph, error)
	Annotate(job string, number int, node, stepID string) (bool, error)
	DeleteRun(job string, number int) error
	DeleteJob(job string) error
	RenameJob(oldJob, newJob string) error
	RenameNode(oldNode, newNode string) error
}

// Service ties the node index to the host.
type Service struct {
	index  *index.Store
	host   Host
	engine *query.Engine
	loader *Loader
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for in-progress durations.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a service over an index store and a host.
func NewService(idx *index.Store, host Host, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		index:  idx,
		host:   host,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loader = NewLoader(host, logger)
	s.engine = query.New(query.ResolverFunc(s.liveResult), logger)
	return s
}

// Index returns the underlying node index.
func (s *Service) Index() *index.Store {
	return s.index
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) liveResult(_ context.Context, job string, number int) (build.Result, error) {
	run, err := s.host.GetRun(job, number)
	if err != nil {
		return build.ResultUnknown, err
	}
	return run.Result, nil
}

// Result is one page of a node's history.
type Result struct {
	Node       string            `json:"node"`
	Items      []*AgentExecution `json:"items"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	Total      int               `json:"total"`
	TotalPages int               `json:"total_pages"`
}

// Query returns one page of node's history. Records whose run can no
// longer be loaded are left out of the page.
func (s *Service) Query(ctx context.Context, node string, p query.Params) (*Result, error) {
	log := logging.ForNode(s.logger, node)
	records, err := s.index.ReadAll(node)
	if err != nil {
		log.Error("failed to read node index", "error", err)
		return nil, fmt.Errorf("read index for %s: %w", node, err)
	}

	page, err := s.engine.Run(ctx, records, p)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Node:       node,
		Items:      make([]*AgentExecution, 0, len(page.Records)),
		Page:       page.Page,
		PageSize:   page.PageSize,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}
	for _, rec := range page.Records {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("query aborted: %w", err)
		}
		exec, err := s.loader.Load(ctx, node, rec.Job, rec.Build)
		if err != nil {
			if build.IsNotFound(err) {
				log.Debug("skipping index record for missing run",
					"job", rec.Job,
					"build", rec.Build)
			} else {
				log.Warn("failed to load run",
					"job", rec.Job,
					"build", rec.Build,
					"error", err)
			}
			continue
		}
		exec.Result = rec.Result
		exec.render(s.now())
		res.Items = append(res.Items, exec)
	}
	return res, nil
}

// Nodes lists every node with an index.
func (s *Service) Nodes() ([]string, error) {
	return s.index.ListKnownNodeNames()
}

// MatchNodes lists the indexed nodes matching a glob pattern.
func (s *Service) MatchNodes(pattern string) ([]string, error) {
	return s.index.MatchKnownNodeNames(pattern)
}

// Run looks up a run on the host.
func (s *Service) Run(job string, number int) (*build.Run, error) {
	return s.host.GetRun(job, number)
}
