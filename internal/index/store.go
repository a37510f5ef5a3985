// Package index provides the per-node build history index: one append-only
// text file per node listing the runs that executed on it.
package index

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/caevv/agenthistory/internal/build"
)

const (
	fileSuffix = "_index.txt"

	// bulkParallelism bounds how many node files a cross-node rewrite
	// touches at once.
	bulkParallelism = 4
)

// replaceFile moves a finished temp file over a node file.
var replaceFile = os.Rename

// StorageError reports an I/O failure on a node's index file. The file is
// left as it was before the failed operation.
type StorageError struct {
	Op   string
	Node string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("index %s for node %q: %v", e.Op, e.Node, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageFault reports whether err is (or wraps) a StorageError.
func IsStorageFault(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// lockRegistry hands out one mutex per node name. Locks are created on
// first use and kept for the lifetime of the registry.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sync.Mutex)}
}

func (r *lockRegistry) get(node string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[node]
	if !ok {
		l = &sync.Mutex{}
		r.locks[node] = l
	}
	return l
}

// Store is the node index store rooted at a directory. All operations on
// one node are serialized through that node's lock; different nodes
// proceed independently.
type Store struct {
	dir    string
	locks  *lockRegistry
	logger *slog.Logger
}

// New creates a store rooted at dir. The directory is created on the first
// write.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("index storage dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		locks:  newLockRegistry(),
		logger: logger,
	}, nil
}

// Dir returns the storage root.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(node string) string {
	return filepath.Join(s.dir, fileName(node))
}

// indexLine is a raw line plus its parsed form. Lines that fail to parse
// are kept verbatim on rewrite and skipped everywhere else.
type indexLine struct {
	raw string
	rec Record
	ok  bool
}

// load reads a node file. A missing file is an empty index. Callers must
// hold the node lock.
func (s *Store) load(node string) ([]indexLine, bool, error) {
	data, err := os.ReadFile(s.path(node))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, true, nil
		}
		return nil, false, &StorageError{Op: "read", Node: node, Err: err}
	}
	terminated := len(data) == 0 || data[len(data)-1] == '\n'

	var lines []indexLine
	for i, raw := range strings.Split(string(bytes.TrimRight(data, "\n")), "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		rec, err := ParseRecord(raw)
		if err != nil {
			s.logger.Warn("skipping malformed index record",
				"node", node,
				"line", i+1,
				"error", err)
			lines = append(lines, indexLine{raw: raw})
			continue
		}
		lines = append(lines, indexLine{raw: raw, rec: rec, ok: true})
	}
	return lines, terminated, nil
}

// write replaces a node file with lines. The new content is written to a
// temporary file in the same directory and renamed over the old one, so
// readers never observe a partial file.
func (s *Store) write(node string, lines []indexLine) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &StorageError{Op: "mkdir", Node: node, Err: err}
	}

	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l.raw)
		buf.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(s.dir, ".index-*.tmp")
	if err != nil {
		return &StorageError{Op: "create temp", Node: node, Err: err}
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return &StorageError{Op: "write temp", Node: node, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &StorageError{Op: "sync temp", Node: node, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "close temp", Node: node, Err: err}
	}
	if err := replaceFile(tmpName, s.path(node)); err != nil {
		return &StorageError{Op: "replace", Node: node, Err: err}
	}
	return nil
}

func validateNode(node string) error {
	if strings.TrimSpace(node) == "" {
		return fmt.Errorf("node name is required")
	}
	return nil
}

// ReadAll returns the node's records in insertion order. Malformed lines
// are skipped. A node without an index yields no records.
func (s *Store) ReadAll(node string) ([]Record, error) {
	if err := validateNode(node); err != nil {
		return nil, err
	}
	l := s.locks.get(node)
	l.Lock()
	defer l.Unlock()

	lines, _, err := s.load(node)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		if line.ok {
			records = append(records, line.rec)
		}
	}
	return records, nil
}

// Append adds rec to the node's index unless a record for the same job and
// build is already present. It reports whether a line was written.
func (s *Store) Append(node string, rec Record) (bool, error) {
	if err := validateNode(node); err != nil {
		return false, err
	}
	if err := rec.validate(); err != nil {
		return false, err
	}
	l := s.locks.get(node)
	l.Lock()
	defer l.Unlock()

	lines, terminated, err := s.load(node)
	if err != nil {
		return false, err
	}
	key := rec.Key()
	for _, line := range lines {
		if line.ok && line.rec.Key() == key {
			return false, nil
		}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return false, &StorageError{Op: "mkdir", Node: node, Err: err}
	}
	f, err := os.OpenFile(s.path(node), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false, &StorageError{Op: "open", Node: node, Err: err}
	}

	out := rec.Line() + "\n"
	if !terminated {
		// A previous append was cut short; start on a fresh line.
		out = "\n" + out
	}
	if _, err := f.WriteString(out); err != nil {
		_ = f.Close()
		return false, &StorageError{Op: "append", Node: node, Err: err}
	}
	if err := f.Close(); err != nil {
		return false, &StorageError{Op: "close", Node: node, Err: err}
	}
	return true, nil
}

// UpdateResult stamps result onto the record for job/build. The file is
// rewritten only if the stored result differs. An unknown result never
// replaces a known one. It reports whether the file changed.
func (s *Store) UpdateResult(node, job string, number int, result build.Result) (bool, error) {
	if err := validateNode(node); err != nil {
		return false, err
	}
	if !result.Known() {
		return false, nil
	}
	l := s.locks.get(node)
	l.Lock()
	defer l.Unlock()

	lines, _, err := s.load(node)
	if err != nil {
		return false, err
	}
	key := Key{Job: job, Build: number}
	changed := false
	for i, line := range lines {
		if !line.ok || line.rec.Key() != key || line.rec.Result == result {
			continue
		}
		line.rec.Result = result
		line.raw = line.rec.Line()
		lines[i] = line
		changed = true
	}
	if !changed {
		return false, nil
	}
	if err := s.write(node, lines); err != nil {
		return false, err
	}
	return true, nil
}

// Retain rewrites the node's index keeping only the records for which keep
// returns true. Malformed lines are kept. It returns how many records were
// removed; the file is untouched when none are.
func (s *Store) Retain(node string, keep func(Record) bool) (int, error) {
	if err := validateNode(node); err != nil {
		return 0, err
	}
	l := s.locks.get(node)
	l.Lock()
	defer l.Unlock()

	lines, _, err := s.load(node)
	if err != nil {
		return 0, err
	}
	kept := lines[:0:0]
	for _, line := range lines {
		if line.ok && !keep(line.rec) {
			continue
		}
		kept = append(kept, line)
	}
	removed := len(lines) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.write(node, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// Delete removes the record for job/build from the node's index.
func (s *Store) Delete(node, job string, number int) (bool, error) {
	key := Key{Job: job, Build: number}
	removed, err := s.Retain(node, func(r Record) bool { return r.Key() != key })
	return removed > 0, err
}

// DeleteAllForJob removes every record of job from every node index.
func (s *Store) DeleteAllForJob(job string) error {
	return s.eachNode("delete job", func(node string) error {
		_, err := s.Retain(node, func(r Record) bool { return r.Job != job })
		return err
	})
}

// RenameJobInAllIndexes rewrites the job name of matching records in every
// node index. If a node already holds the same build under the new name,
// the renamed duplicate is dropped.
func (s *Store) RenameJobInAllIndexes(oldJob, newJob string) error {
	if strings.TrimSpace(newJob) == "" {
		return fmt.Errorf("new job name is required")
	}
	if oldJob == newJob {
		return nil
	}
	return s.eachNode("rename job", func(node string) error {
		return s.renameJob(node, oldJob, newJob)
	})
}

func (s *Store) renameJob(node, oldJob, newJob string) error {
	l := s.locks.get(node)
	l.Lock()
	defer l.Unlock()

	lines, _, err := s.load(node)
	if err != nil {
		return err
	}
	present := make(map[Key]bool)
	for _, line := range lines {
		if line.ok && line.rec.Job == newJob {
			present[line.rec.Key()] = true
		}
	}
	changed := false
	out := lines[:0:0]
	for _, line := range lines {
		if line.ok && line.rec.Job == oldJob {
			line.rec.Job = newJob
			changed = true
			if present[line.rec.Key()] {
				continue
			}
			present[line.rec.Key()] = true
			line.raw = line.rec.Line()
		}
		out = append(out, line)
	}
	if !changed {
		return nil
	}
	return s.write(node, out)
}

// eachNode runs fn for every known node, a few nodes at a time. Every node
// is attempted; failures are joined.
func (s *Store) eachNode(op string, fn func(node string) error) error {
	nodes, err := s.ListKnownNodeNames()
	if err != nil {
		return err
	}
	errs := make([]error, len(nodes))
	var g errgroup.Group
	g.SetLimit(bulkParallelism)
	for i, node := range nodes {
		g.Go(func() error {
			if err := fn(node); err != nil {
				s.logger.Error("index bulk operation failed",
					"op", op,
					"node", node,
					"error", err)
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// DeleteAllForNode removes the node's index file.
func (s *Store) DeleteAllForNode(node string) error {
	if err := validateNode(node); err != nil {
		return err
	}
	l := s.locks.get(node)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(s.path(node)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Op: "delete", Node: node, Err: err}
	}
	return nil
}

// RenameNodeFile moves a node's index to a new node name. If the target
// already has an index, the records are merged into it.
func (s *Store) RenameNodeFile(oldNode, newNode string) error {
	if err := validateNode(oldNode); err != nil {
		return err
	}
	if err := validateNode(newNode); err != nil {
		return err
	}
	if oldNode == newNode {
		return nil
	}

	// Lock both nodes in name order so concurrent renames cannot deadlock.
	first, second := oldNode, newNode
	if second < first {
		first, second = second, first
	}
	l1, l2 := s.locks.get(first), s.locks.get(second)
	l1.Lock()
	defer l1.Unlock()
	l2.Lock()
	defer l2.Unlock()

	if _, err := os.Stat(s.path(oldNode)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &StorageError{Op: "stat", Node: oldNode, Err: err}
	}

	if _, err := os.Stat(s.path(newNode)); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(s.path(oldNode), s.path(newNode)); err != nil {
			return &StorageError{Op: "rename", Node: oldNode, Err: err}
		}
		return nil
	}

	oldLines, _, err := s.load(oldNode)
	if err != nil {
		return err
	}
	merged, _, err := s.load(newNode)
	if err != nil {
		return err
	}
	present := make(map[Key]bool, len(merged))
	for _, line := range merged {
		if line.ok {
			present[line.rec.Key()] = true
		}
	}
	for _, line := range oldLines {
		if line.ok && present[line.rec.Key()] {
			continue
		}
		merged = append(merged, line)
	}
	if err := s.write(newNode, merged); err != nil {
		return err
	}
	if err := os.Remove(s.path(oldNode)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Op: "delete", Node: oldNode, Err: err}
	}
	return nil
}

// ListKnownNodeNames returns every node that has an index file, sorted.
func (s *Store) ListKnownNodeNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list", Node: "*", Err: err}
	}
	var nodes []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if node, ok := nodeFromFileName(entry.Name()); ok {
			nodes = append(nodes, node)
		}
	}
	sort.Strings(nodes)
	return nodes, nil
}

// MatchKnownNodeNames returns the known nodes matching a glob pattern such
// as "linux-*" or "{arm,x86}-??". An empty pattern matches every node.
func (s *Store) MatchKnownNodeNames(pattern string) ([]string, error) {
	nodes, err := s.ListKnownNodeNames()
	if err != nil || pattern == "" {
		return nodes, err
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid node pattern %q", pattern)
	}
	var matched []string
	for _, node := range nodes {
		if ok, _ := doublestar.Match(pattern, node); ok {
			matched = append(matched, node)
		}
	}
	return matched, nil
}
