package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/flowgraph"
)

type runKey struct {
	job    string
	number int
}

// JSONStore implements the Store interface using a simple JSON file.
// All runs are kept in memory and persisted to disk on each write.
// This implementation is suitable for small-scale deployments and testing.
type JSONStore struct {
	path   string
	runs   map[runKey]*build.Run
	graphs map[runKey]json.RawMessage
	mu     sync.RWMutex
}

// jsonPersistence is the on-disk format for the JSON store.
type jsonPersistence struct {
	Runs   []*build.Run `json:"runs"`
	Graphs []jsonGraph  `json:"graphs,omitempty"`
}

type jsonGraph struct {
	Job    string          `json:"job"`
	Number int             `json:"number"`
	Graph  json.RawMessage `json:"graph"`
}

// NewJSONStore creates a new JSON file-backed store at the given path.
func NewJSONStore(path string) (Store, error) {
	s := &JSONStore{
		path:   path,
		runs:   make(map[runKey]*build.Run),
		graphs: make(map[runKey]json.RawMessage),
	}

	// Load existing data if file exists
	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("load existing data: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return s, nil
}

// load reads the JSON file and populates the in-memory maps.
func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var persist jsonPersistence
	if err := json.Unmarshal(data, &persist); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}

	s.runs = make(map[runKey]*build.Run, len(persist.Runs))
	for _, run := range persist.Runs {
		s.runs[runKey{run.Job, run.Number}] = run
	}
	s.graphs = make(map[runKey]json.RawMessage, len(persist.Graphs))
	for _, g := range persist.Graphs {
		s.graphs[runKey{g.Job, g.Number}] = g.Graph
	}

	return nil
}

// save writes the in-memory maps to the JSON file.
func (s *JSONStore) save() error {
	runs := make([]*build.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Job != runs[j].Job {
			return runs[i].Job < runs[j].Job
		}
		return runs[i].Number < runs[j].Number
	})

	graphs := make([]jsonGraph, 0, len(s.graphs))
	for k, g := range s.graphs {
		graphs = append(graphs, jsonGraph{Job: k.job, Number: k.number, Graph: g})
	}
	sort.Slice(graphs, func(i, j int) bool {
		if graphs[i].Job != graphs[j].Job {
			return graphs[i].Job < graphs[j].Job
		}
		return graphs[i].Number < graphs[j].Number
	})

	persist := jsonPersistence{Runs: runs, Graphs: graphs}
	data, err := json.MarshalIndent(persist, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	// Write to temp file first, then rename (atomic on POSIX)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

func (s *JSONStore) hasJob(job string) bool {
	for k := range s.runs {
		if k.job == job {
			return true
		}
	}
	return false
}

// lookup finds a run. Callers must hold s.mu.
func (s *JSONStore) lookup(job string, number int) (*build.Run, error) {
	run, ok := s.runs[runKey{job, number}]
	if ok {
		return run, nil
	}
	if !s.hasJob(job) {
		return nil, jobNotFound(job)
	}
	return nil, runNotFound(job, number)
}

// SaveRun persists a run.
func (s *JSONStore) SaveRun(run *build.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	run = run.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := runKey{run.Job, run.Number}
	mergeAnnotation(run, s.runs[key])
	s.runs[key] = run
	return s.save()
}

// GetRun retrieves one run.
func (s *JSONStore) GetRun(job string, number int) (*build.Run, error) {
	if err := validateKey(job, number); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	run, err := s.lookup(job, number)
	if err != nil {
		return nil, err
	}
	return run.Clone(), nil
}

// GetJobRuns retrieves a job's runs, highest build number first.
func (s *JSONStore) GetJobRuns(job string, limit int) ([]*build.Run, error) {
	if job == "" {
		return nil, fmt.Errorf("job is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*build.Run
	for k, run := range s.runs {
		if k.job == job {
			runs = append(runs, run.Clone())
		}
	}
	if len(runs) == 0 {
		return nil, jobNotFound(job)
	}

	sortByNumberDesc(runs)
	return applyLimit(runs, limit), nil
}

// GetAllRuns retrieves runs across all jobs, newest start first.
func (s *JSONStore) GetAllRuns(limit int) ([]*build.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*build.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run.Clone())
	}
	// Map order is random; fix it before the stable sort.
	sortByNumberDesc(runs)
	sortByStartDesc(runs)
	return applyLimit(runs, limit), nil
}

// ListJobs returns all job names.
func (s *JSONStore) ListJobs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var jobs []string
	for k := range s.runs {
		if !seen[k.job] {
			seen[k.job] = true
			jobs = append(jobs, k.job)
		}
	}
	sort.Strings(jobs)
	return jobs, nil
}

// DeleteRun removes a run and its graph.
func (s *JSONStore) DeleteRun(job string, number int) error {
	if err := validateKey(job, number); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(job, number); err != nil {
		return err
	}
	delete(s.runs, runKey{job, number})
	delete(s.graphs, runKey{job, number})
	return s.save()
}

// DeleteJob removes every run of a job.
func (s *JSONStore) DeleteJob(job string) error {
	if job == "" {
		return fmt.Errorf("job is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasJob(job) {
		return jobNotFound(job)
	}
	for k := range s.runs {
		if k.job == job {
			delete(s.runs, k)
		}
	}
	for k := range s.graphs {
		if k.job == job {
			delete(s.graphs, k)
		}
	}
	return s.save()
}

// RenameJob moves a job's runs and graphs under a new name.
func (s *JSONStore) RenameJob(oldJob, newJob string) error {
	if oldJob == "" || newJob == "" {
		return fmt.Errorf("job names are required")
	}
	if oldJob == newJob {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasJob(oldJob) {
		return jobNotFound(oldJob)
	}
	for k, run := range s.runs {
		if k.job != oldJob {
			continue
		}
		delete(s.runs, k)
		run.Job = newJob
		s.runs[runKey{newJob, k.number}] = run
	}
	for k, g := range s.graphs {
		if k.job != oldJob {
			continue
		}
		delete(s.graphs, k)
		s.graphs[runKey{newJob, k.number}] = g
	}
	return s.save()
}

// RenameNode rewrites node references across all runs.
func (s *JSONStore) RenameNode(oldNode, newNode string) error {
	if oldNode == newNode {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, run := range s.runs {
		if renameNodeIn(run, oldNode, newNode) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save()
}

// Annotate records a node touch on a run.
func (s *JSONStore) Annotate(job string, number int, node, stepID string) (bool, error) {
	if err := validateKey(job, number); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.lookup(job, number)
	if err != nil {
		return false, err
	}
	if !run.History.AddStep(node, stepID) {
		return false, nil
	}
	return true, s.save()
}

// SaveGraph stores a step graph for an existing run.
func (s *JSONStore) SaveGraph(job string, number int, g *flowgraph.Graph) error {
	if err := validateKey(job, number); err != nil {
		return err
	}
	if g == nil {
		return fmt.Errorf("graph is nil")
	}
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(job, number); err != nil {
		return err
	}
	s.graphs[runKey{job, number}] = data
	return s.save()
}

// GetGraph loads a step graph.
func (s *JSONStore) GetGraph(job string, number int) (*flowgraph.Graph, error) {
	if err := validateKey(job, number); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data := s.graphs[runKey{job, number}]
	s.mu.RUnlock()

	return decodeGraph(job, number, data)
}

// Close releases resources held by the store.
// For JSON store, this is a no-op since we don't hold open file handles.
func (s *JSONStore) Close() error {
	return nil
}
