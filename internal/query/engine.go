// Package query sorts, filters and pages the records of a node index.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/index"
)

// ErrInvalidParams is returned for page parameters the engine cannot serve.
var ErrInvalidParams = errors.New("invalid query parameters")

// Column is a sortable column.
type Column string

const (
	ColumnStartTime Column = "startTime"
	ColumnBuild     Column = "build"
)

// Order is a sort direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// StatusFilter restricts a query to one terminal result.
type StatusFilter string

const (
	StatusAll      StatusFilter = "all"
	StatusSuccess  StatusFilter = "success"
	StatusUnstable StatusFilter = "unstable"
	StatusFailure  StatusFilter = "failure"
	StatusAborted  StatusFilter = "aborted"
	StatusNotBuilt StatusFilter = "not_built"
)

var filterResults = map[StatusFilter]build.Result{
	StatusSuccess:  build.ResultSuccess,
	StatusUnstable: build.ResultUnstable,
	StatusFailure:  build.ResultFailure,
	StatusAborted:  build.ResultAborted,
	StatusNotBuilt: build.ResultNotBuilt,
}

// Matches reports whether a resolved result passes the filter. Only "all"
// admits runs without a known result.
func (f StatusFilter) Matches(r build.Result) bool {
	if f == StatusAll || f == "" {
		return true
	}
	want, ok := filterResults[f]
	return ok && r == want
}

// ParseColumn parses a sort column; empty yields def.
func ParseColumn(s string, def Column) (Column, error) {
	switch c := Column(strings.TrimSpace(s)); c {
	case "":
		return def, nil
	case ColumnStartTime, ColumnBuild:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown sort column %q", ErrInvalidParams, s)
	}
}

// ParseOrder parses a sort order; empty yields def.
func ParseOrder(s string, def Order) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return def, nil
	case OrderAsc, OrderDesc:
		return o, nil
	default:
		return "", fmt.Errorf("%w: unknown sort order %q", ErrInvalidParams, s)
	}
}

// ParseStatus parses a status filter; empty yields StatusAll.
func ParseStatus(s string) (StatusFilter, error) {
	f := StatusFilter(strings.ToLower(strings.TrimSpace(s)))
	if f == "" || f == StatusAll {
		return StatusAll, nil
	}
	if _, ok := filterResults[f]; !ok {
		return "", fmt.Errorf("%w: unknown status filter %q", ErrInvalidParams, s)
	}
	return f, nil
}

// Params selects one page of a node's history.
type Params struct {
	Page     int
	PageSize int
	Sort     Column
	Order    Order
	Status   StatusFilter
}

// Validate checks the parameters. Page numbers start at 1.
func (p Params) Validate() error {
	if p.Page < 1 {
		return fmt.Errorf("%w: page must be >= 1, got %d", ErrInvalidParams, p.Page)
	}
	if p.PageSize <= 0 {
		return fmt.Errorf("%w: page size must be > 0, got %d", ErrInvalidParams, p.PageSize)
	}
	if _, err := ParseColumn(string(p.Sort), ColumnStartTime); err != nil {
		return err
	}
	if _, err := ParseOrder(string(p.Order), OrderDesc); err != nil {
		return err
	}
	if _, err := ParseStatus(string(p.Status)); err != nil {
		return err
	}
	return nil
}

// ResultResolver fetches the live result of a run whose index record has
// none. It returns an error satisfying build.IsNotFound when the run is gone.
type ResultResolver interface {
	Result(ctx context.Context, job string, number int) (build.Result, error)
}

// ResolverFunc adapts a function to ResultResolver.
type ResolverFunc func(ctx context.Context, job string, number int) (build.Result, error)

func (f ResolverFunc) Result(ctx context.Context, job string, number int) (build.Result, error) {
	return f(ctx, job, number)
}

// Page is one page of sorted, filtered records. Records carry their
// resolved result.
type Page struct {
	Records    []index.Record
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

// Engine runs queries over index records.
type Engine struct {
	resolver ResultResolver
	logger   *slog.Logger
}

// New creates an engine. A nil resolver leaves records without a stored
// result as unknown.
func New(resolver ResultResolver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{resolver: resolver, logger: logger}
}

// Run sorts, filters and pages records. The input slice is not modified.
// Cancellation is checked between records.
func (e *Engine) Run(ctx context.Context, records []index.Record, p Params) (*Page, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.Sort, _ = ParseColumn(string(p.Sort), ColumnStartTime)
	p.Order, _ = ParseOrder(string(p.Order), OrderDesc)
	p.Status, _ = ParseStatus(string(p.Status))

	sorted := make([]index.Record, len(records))
	copy(sorted, records)
	sortRecords(sorted, p.Sort, p.Order)

	filtered := sorted[:0]
	for _, rec := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("query aborted: %w", err)
		}
		result, ok := e.resolve(ctx, rec)
		if !ok {
			continue
		}
		if !p.Status.Matches(result) {
			continue
		}
		rec.Result = result
		filtered = append(filtered, rec)
	}

	total := len(filtered)
	page := &Page{
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      total,
		TotalPages: (total + p.PageSize - 1) / p.PageSize,
	}
	from := min((p.Page-1)*p.PageSize, total)
	to := min(from+p.PageSize, total)
	page.Records = append([]index.Record(nil), filtered[from:to]...)
	return page, nil
}

// resolve returns the record's terminal result. ok is false when the run
// can no longer be loaded.
func (e *Engine) resolve(ctx context.Context, rec index.Record) (build.Result, bool) {
	if rec.Result.Known() || e.resolver == nil {
		return rec.Result, true
	}
	result, err := e.resolver.Result(ctx, rec.Job, rec.Build)
	if err != nil {
		if build.IsNotFound(err) {
			e.logger.Debug("dropping index record for missing run",
				"job", rec.Job,
				"build", rec.Build)
		} else {
			e.logger.Warn("failed to resolve run result",
				"job", rec.Job,
				"build", rec.Build,
				"error", err)
		}
		return build.ResultUnknown, false
	}
	return result, true
}

func sortRecords(records []index.Record, col Column, order Order) {
	compare := compareStartTime
	if col == ColumnBuild {
		compare = compareBuild
	}
	desc := order == OrderDesc
	sort.SliceStable(records, func(i, j int) bool {
		c := compare(records[i], records[j])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareStartTime(a, b index.Record) int {
	switch {
	case a.StartTimeMillis < b.StartTimeMillis:
		return -1
	case a.StartTimeMillis > b.StartTimeMillis:
		return 1
	}
	return 0
}

func compareBuild(a, b index.Record) int {
	if c := strings.Compare(a.Job, b.Job); c != 0 {
		return c
	}
	switch {
	case a.Build < b.Build:
		return -1
	case a.Build > b.Build:
		return 1
	}
	return 0
}
