package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/flowgraph"
)

const (
	// runsBucket holds one sub-bucket per job, keyed by build number.
	runsBucket = "runs"
	// graphsBucket mirrors runsBucket for pipeline step graphs.
	graphsBucket = "graphs"
)

// BoltStore implements the Store interface using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store at the given path.
func NewBoltStore(path string) (Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb at %s: %w", path, err)
	}

	// Initialize buckets
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(graphsBucket)); err != nil {
			return fmt.Errorf("create graphs bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// numberKey encodes a build number so keys sort numerically.
func numberKey(n int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func decodeRun(data []byte) (*build.Run, error) {
	run := &build.Run{}
	if err := json.Unmarshal(data, run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return run, nil
}

func putRun(b *bolt.Bucket, run *build.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := b.Put(numberKey(run.Number), data); err != nil {
		return fmt.Errorf("put run %s: %w", run.FullDisplayName(), err)
	}
	return nil
}

// SaveRun persists a run.
func (s *BoltStore) SaveRun(run *build.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	run = run.Clone()

	return s.db.Update(func(tx *bolt.Tx) error {
		jobBucket, err := tx.Bucket([]byte(runsBucket)).CreateBucketIfNotExists([]byte(run.Job))
		if err != nil {
			return fmt.Errorf("create job bucket %s: %w", run.Job, err)
		}
		if data := jobBucket.Get(numberKey(run.Number)); data != nil {
			existing, err := decodeRun(data)
			if err != nil {
				return err
			}
			mergeAnnotation(run, existing)
		}
		return putRun(jobBucket, run)
	})
}

// GetRun retrieves one run.
func (s *BoltStore) GetRun(job string, number int) (*build.Run, error) {
	if err := validateKey(job, number); err != nil {
		return nil, err
	}

	var run *build.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket([]byte(runsBucket)).Bucket([]byte(job))
		if jobBucket == nil {
			return jobNotFound(job)
		}
		data := jobBucket.Get(numberKey(number))
		if data == nil {
			return runNotFound(job, number)
		}
		var err error
		run, err = decodeRun(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetJobRuns retrieves a job's runs, highest build number first.
func (s *BoltStore) GetJobRuns(job string, limit int) ([]*build.Run, error) {
	if job == "" {
		return nil, fmt.Errorf("job is required")
	}

	var runs []*build.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket([]byte(runsBucket)).Bucket([]byte(job))
		if jobBucket == nil {
			return jobNotFound(job)
		}

		// Keys are big-endian, so walking backwards yields newest first.
		c := jobBucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			run, err := decodeRun(v)
			if err != nil {
				return err
			}
			runs = append(runs, run)
			if limit > 0 && len(runs) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// GetAllRuns retrieves runs across all jobs, newest start first.
func (s *BoltStore) GetAllRuns(limit int) ([]*build.Run, error) {
	var runs []*build.Run

	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(runsBucket))

		return root.ForEach(func(job, v []byte) error {
			jobBucket := root.Bucket(job)
			if jobBucket == nil {
				return nil
			}
			return jobBucket.ForEach(func(k, v []byte) error {
				run, err := decodeRun(v)
				if err != nil {
					return fmt.Errorf("job %s: %w", string(job), err)
				}
				runs = append(runs, run)
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	sortByStartDesc(runs)
	return applyLimit(runs, limit), nil
}

// ListJobs returns all job names.
func (s *BoltStore) ListJobs() ([]string, error) {
	var jobs []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(k, v []byte) error {
			if v == nil {
				jobs = append(jobs, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Bucket keys are already byte-ordered.
	return jobs, nil
}

// DeleteRun removes a run and its graph.
func (s *BoltStore) DeleteRun(job string, number int) error {
	if err := validateKey(job, number); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket([]byte(runsBucket)).Bucket([]byte(job))
		if jobBucket == nil {
			return jobNotFound(job)
		}
		if jobBucket.Get(numberKey(number)) == nil {
			return runNotFound(job, number)
		}
		if err := jobBucket.Delete(numberKey(number)); err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		if graphs := tx.Bucket([]byte(graphsBucket)).Bucket([]byte(job)); graphs != nil {
			if err := graphs.Delete(numberKey(number)); err != nil {
				return fmt.Errorf("delete graph: %w", err)
			}
		}
		return nil
	})
}

// DeleteJob removes every run of a job.
func (s *BoltStore) DeleteJob(job string) error {
	if job == "" {
		return fmt.Errorf("job is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(runsBucket)).DeleteBucket([]byte(job)); err != nil {
			if errors.Is(err, bolt.ErrBucketNotFound) {
				return jobNotFound(job)
			}
			return fmt.Errorf("delete job bucket: %w", err)
		}
		err := tx.Bucket([]byte(graphsBucket)).DeleteBucket([]byte(job))
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("delete graph bucket: %w", err)
		}
		return nil
	})
}

// RenameJob moves a job's runs and graphs under a new name.
func (s *BoltStore) RenameJob(oldJob, newJob string) error {
	if oldJob == "" || newJob == "" {
		return fmt.Errorf("job names are required")
	}
	if oldJob == newJob {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		src := runs.Bucket([]byte(oldJob))
		if src == nil {
			return jobNotFound(oldJob)
		}
		dst, err := runs.CreateBucketIfNotExists([]byte(newJob))
		if err != nil {
			return fmt.Errorf("create job bucket %s: %w", newJob, err)
		}
		err = src.ForEach(func(k, v []byte) error {
			run, err := decodeRun(v)
			if err != nil {
				return err
			}
			run.Job = newJob
			return putRun(dst, run)
		})
		if err != nil {
			return err
		}
		if err := runs.DeleteBucket([]byte(oldJob)); err != nil {
			return fmt.Errorf("delete job bucket %s: %w", oldJob, err)
		}

		graphs := tx.Bucket([]byte(graphsBucket))
		gsrc := graphs.Bucket([]byte(oldJob))
		if gsrc == nil {
			return nil
		}
		gdst, err := graphs.CreateBucketIfNotExists([]byte(newJob))
		if err != nil {
			return fmt.Errorf("create graph bucket %s: %w", newJob, err)
		}
		err = gsrc.ForEach(func(k, v []byte) error {
			return gdst.Put(k, v)
		})
		if err != nil {
			return fmt.Errorf("copy graphs: %w", err)
		}
		return graphs.DeleteBucket([]byte(oldJob))
	})
}

// RenameNode rewrites node references across all runs.
func (s *BoltStore) RenameNode(oldNode, newNode string) error {
	if oldNode == newNode {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(runsBucket))

		// Collect first; buckets must not be modified inside ForEach.
		var changed []*build.Run
		err := root.ForEach(func(job, v []byte) error {
			jobBucket := root.Bucket(job)
			if jobBucket == nil {
				return nil
			}
			return jobBucket.ForEach(func(k, v []byte) error {
				run, err := decodeRun(v)
				if err != nil {
					return err
				}
				if renameNodeIn(run, oldNode, newNode) {
					changed = append(changed, run)
				}
				return nil
			})
		})
		if err != nil {
			return err
		}
		for _, run := range changed {
			if err := putRun(root.Bucket([]byte(run.Job)), run); err != nil {
				return err
			}
		}
		return nil
	})
}

// Annotate records a node touch on a run.
func (s *BoltStore) Annotate(job string, number int, node, stepID string) (bool, error) {
	if err := validateKey(job, number); err != nil {
		return false, err
	}
	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket([]byte(runsBucket)).Bucket([]byte(job))
		if jobBucket == nil {
			return jobNotFound(job)
		}
		data := jobBucket.Get(numberKey(number))
		if data == nil {
			return runNotFound(job, number)
		}
		run, err := decodeRun(data)
		if err != nil {
			return err
		}
		if !run.History.AddStep(node, stepID) {
			return nil
		}
		changed = true
		return putRun(jobBucket, run)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// SaveGraph stores a step graph for an existing run.
func (s *BoltStore) SaveGraph(job string, number int, g *flowgraph.Graph) error {
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
	return s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket([]byte(runsBucket)).Bucket([]byte(job))
		if jobBucket == nil {
			return jobNotFound(job)
		}
		if jobBucket.Get(numberKey(number)) == nil {
			return runNotFound(job, number)
		}
		graphs, err := tx.Bucket([]byte(graphsBucket)).CreateBucketIfNotExists([]byte(job))
		if err != nil {
			return fmt.Errorf("create graph bucket %s: %w", job, err)
		}
		return graphs.Put(numberKey(number), data)
	})
}

// GetGraph loads a step graph.
func (s *BoltStore) GetGraph(job string, number int) (*flowgraph.Graph, error) {
	if err := validateKey(job, number); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		graphs := tx.Bucket([]byte(graphsBucket)).Bucket([]byte(job))
		if graphs == nil {
			return nil
		}
		if v := graphs.Get(numberKey(number)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodeGraph(job, number, data)
}

func decodeGraph(job string, number int, data []byte) (*flowgraph.Graph, error) {
	if data == nil {
		return nil, fmt.Errorf("%s #%d: %w", job, number, flowgraph.ErrGraphUnavailable)
	}
	g := &flowgraph.Graph{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("%s #%d: %w: %v", job, number, flowgraph.ErrGraphUnavailable, err)
	}
	if err := g.Index(); err != nil {
		return nil, fmt.Errorf("%s #%d: %w: %v", job, number, flowgraph.ErrGraphUnavailable, err)
	}
	return g, nil
}

// Close releases resources held by the store.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
