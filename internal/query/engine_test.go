package query

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/index"
)

func defaultParams() Params {
	return Params{Page: 1, PageSize: 10, Sort: ColumnStartTime, Order: OrderDesc, Status: StatusAll}
}

func buildKeys(records []index.Record) []index.Key {
	out := make([]index.Key, len(records))
	for i, r := range records {
		out[i] = r.Key()
	}
	return out
}

func TestEngine_Pagination(t *testing.T) {
	var records []index.Record
	for i := 1; i <= 30; i++ {
		records = append(records, index.Record{Job: "app", Build: i, StartTimeMillis: int64(i * 1000), Result: build.ResultSuccess})
	}
	e := New(nil, nil)

	seen := make(map[index.Key]bool)
	for page := 1; page <= 2; page++ {
		p := defaultParams()
		p.Page = page
		got, err := e.Run(context.Background(), records, p)
		if err != nil {
			t.Fatalf("Run(page %d) error = %v", page, err)
		}
		if got.TotalPages != 3 {
			t.Errorf("TotalPages = %d, want 3", got.TotalPages)
		}
		if got.Total != 30 {
			t.Errorf("Total = %d, want 30", got.Total)
		}
		if len(got.Records) != 10 {
			t.Fatalf("page %d has %d records, want 10", page, len(got.Records))
		}
		for _, r := range got.Records {
			if seen[r.Key()] {
				t.Errorf("record %v appears on more than one page", r.Key())
			}
			seen[r.Key()] = true
		}
	}

	p := defaultParams()
	p.Page = 4
	got, err := e.Run(context.Background(), records, p)
	if err != nil {
		t.Fatalf("Run(page 4) error = %v", err)
	}
	if len(got.Records) != 0 {
		t.Errorf("page 4 has %d records, want 0", len(got.Records))
	}
}

func TestEngine_Sorting(t *testing.T) {
	records := []index.Record{
		{Job: "b", Build: 2, StartTimeMillis: 300},
		{Job: "a", Build: 1, StartTimeMillis: 200},
		{Job: "a", Build: 3, StartTimeMillis: 100},
		{Job: "a", Build: 10, StartTimeMillis: 400},
	}
	tests := []struct {
		name  string
		col   Column
		order Order
		want  []index.Key
	}{
		{"build asc", ColumnBuild, OrderAsc, []index.Key{{Job: "a", Build: 1}, {Job: "a", Build: 3}, {Job: "a", Build: 10}, {Job: "b", Build: 2}}},
		{"build desc", ColumnBuild, OrderDesc, []index.Key{{Job: "b", Build: 2}, {Job: "a", Build: 10}, {Job: "a", Build: 3}, {Job: "a", Build: 1}}},
		{"start asc", ColumnStartTime, OrderAsc, []index.Key{{Job: "a", Build: 3}, {Job: "a", Build: 1}, {Job: "b", Build: 2}, {Job: "a", Build: 10}}},
		{"start desc", ColumnStartTime, OrderDesc, []index.Key{{Job: "a", Build: 10}, {Job: "b", Build: 2}, {Job: "a", Build: 1}, {Job: "a", Build: 3}}},
	}
	e := New(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultParams()
			p.Sort, p.Order = tt.col, tt.order
			got, err := e.Run(context.Background(), records, p)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if keys := buildKeys(got.Records); !reflect.DeepEqual(keys, tt.want) {
				t.Errorf("order = %v, want %v", keys, tt.want)
			}
		})
	}

	if records[0].Job != "b" {
		t.Error("Run() modified its input")
	}
}

func TestEngine_BuildSortSpecExample(t *testing.T) {
	records := []index.Record{
		{Job: "b", Build: 2},
		{Job: "a", Build: 1},
		{Job: "a", Build: 3},
	}
	p := defaultParams()
	p.Sort, p.Order = ColumnBuild, OrderAsc
	got, err := New(nil, nil).Run(context.Background(), records, p)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []index.Key{{Job: "a", Build: 1}, {Job: "a", Build: 3}, {Job: "b", Build: 2}}
	if keys := buildKeys(got.Records); !reflect.DeepEqual(keys, want) {
		t.Errorf("order = %v, want %v", keys, want)
	}
}

func TestEngine_StatusFilterAndLiveResults(t *testing.T) {
	records := []index.Record{
		{Job: "app", Build: 1, StartTimeMillis: 1, Result: build.ResultSuccess},
		{Job: "app", Build: 2, StartTimeMillis: 2, Result: build.ResultFailure},
		{Job: "app", Build: 3, StartTimeMillis: 3},
		{Job: "app", Build: 4, StartTimeMillis: 4},
		{Job: "app", Build: 5, StartTimeMillis: 5, Result: build.ResultUnstable},
		{Job: "app", Build: 6, StartTimeMillis: 6},
	}
	live := map[int]build.Result{
		3: build.ResultFailure,
		4: build.ResultUnknown,
	}
	calls := 0
	resolver := ResolverFunc(func(_ context.Context, job string, number int) (build.Result, error) {
		calls++
		r, ok := live[number]
		if !ok {
			return "", fmt.Errorf("%s #%d: %w", job, number, build.ErrRunNotFound)
		}
		return r, nil
	})
	e := New(resolver, nil)

	tests := []struct {
		status StatusFilter
		want   []int
	}{
		{StatusAll, []int{5, 4, 3, 2, 1}},
		{StatusFailure, []int{3, 2}},
		{StatusSuccess, []int{1}},
		{StatusUnstable, []int{5}},
		{StatusAborted, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			p := defaultParams()
			p.Status = tt.status
			got, err := e.Run(context.Background(), records, p)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			var builds []int
			for _, r := range got.Records {
				builds = append(builds, r.Build)
				if !tt.status.Matches(r.Result) {
					t.Errorf("build %d result %s does not match %s", r.Build, r.Result, tt.status)
				}
			}
			if !reflect.DeepEqual(builds, tt.want) {
				t.Errorf("builds = %v, want %v", builds, tt.want)
			}
		})
	}
	if calls == 0 {
		t.Error("resolver never consulted for records without a stored result")
	}
}

func TestEngine_EmptyInput(t *testing.T) {
	got, err := New(nil, nil).Run(context.Background(), nil, defaultParams())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got.Records) != 0 || got.TotalPages != 0 || got.Total != 0 {
		t.Errorf("Run(nil) = %+v, want empty page", got)
	}
}

func TestEngine_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Params)
	}{
		{"zero page", func(p *Params) { p.Page = 0 }},
		{"zero page size", func(p *Params) { p.PageSize = 0 }},
		{"negative page size", func(p *Params) { p.PageSize = -5 }},
		{"bad column", func(p *Params) { p.Sort = "duration" }},
		{"bad order", func(p *Params) { p.Order = "sideways" }},
		{"bad status", func(p *Params) { p.Status = "green" }},
	}
	e := New(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultParams()
			tt.mut(&p)
			if _, err := e.Run(context.Background(), nil, p); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("Run() error = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestEngine_Cancellation(t *testing.T) {
	records := []index.Record{{Job: "app", Build: 1}, {Job: "app", Build: 2}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(nil, nil).Run(ctx, records, defaultParams()); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestParseHelpers(t *testing.T) {
	if c, err := ParseColumn("", ColumnBuild); err != nil || c != ColumnBuild {
		t.Errorf("ParseColumn(\"\") = %v, %v", c, err)
	}
	if o, err := ParseOrder("ASC", OrderDesc); err != nil || o != OrderAsc {
		t.Errorf("ParseOrder(ASC) = %v, %v", o, err)
	}
	if s, err := ParseStatus("Not_Built"); err != nil || s != StatusNotBuilt {
		t.Errorf("ParseStatus(Not_Built) = %v, %v", s, err)
	}
	if _, err := ParseStatus("bogus"); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("ParseStatus(bogus) error = %v", err)
	}
}
