package history

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/query"
)

func trendFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	runs := []struct {
		result   build.Result
		building bool
		blocks   []block
	}{
		{build.ResultSuccess, false, []block{{"n1", 100, 200, false}}},
		{build.ResultFailure, false, []block{{"n2", 300, 400, true}}},
		{build.ResultSuccess, false, []block{{"n1", 500, 600, false}, {"n2", 700, 800, false}}},
		{build.ResultUnknown, true, []block{{"n2", 900, 0, false}}},
		{build.ResultFailure, false, []block{{"", 1000, 1100, false}}},
	}
	for i, r := range runs {
		f.ingest(t, &build.Run{
			Job:             "pipe",
			Number:          i + 1,
			StartTimeMillis: int64(i * 100),
			Pipeline:        true,
			Result:          r.result,
			Building:        r.building,
		}, graphOf(t, r.blocks...))
	}
	return f
}

func rowNumbers(tr *Trend) []int {
	var out []int
	for _, r := range tr.Rows {
		out = append(out, r.Number)
	}
	return out
}

func TestTrend_Filters(t *testing.T) {
	f := trendFixture(t)

	tests := []struct {
		name   string
		params TrendParams
		want   []int
	}{
		{"all", TrendParams{Job: "pipe"}, []int{5, 4, 3, 2, 1}},
		{"failure keeps running builds", TrendParams{Job: "pipe", Status: query.StatusFailure}, []int{5, 4, 2}},
		{"success", TrendParams{Job: "pipe", Status: query.StatusSuccess}, []int{4, 3, 1}},
		{"agent", TrendParams{Job: "pipe", Agent: "n1"}, []int{3, 1}},
		{"built-in agent", TrendParams{Job: "pipe", Agent: "built-in"}, []int{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := f.svc.Trend(context.Background(), tt.params)
			if err != nil {
				t.Fatalf("Trend() error = %v", err)
			}
			if got := rowNumbers(tr); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("rows = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrend_Cursors(t *testing.T) {
	f := trendFixture(t)

	tr, err := f.svc.Trend(context.Background(), TrendParams{Job: "pipe", Limit: 2})
	if err != nil {
		t.Fatalf("Trend() error = %v", err)
	}
	if got := rowNumbers(tr); !reflect.DeepEqual(got, []int{5, 4}) {
		t.Errorf("rows = %v, want [5 4]", got)
	}
	if tr.StartOlder != 3 || tr.StartNewer != 0 || tr.NewestBuild != 5 || tr.OldestBuild != 1 {
		t.Errorf("cursors = older %d newer %d newest %d oldest %d", tr.StartOlder, tr.StartNewer, tr.NewestBuild, tr.OldestBuild)
	}

	tr, err = f.svc.Trend(context.Background(), TrendParams{Job: "pipe", Limit: 2, StartBuild: tr.StartOlder})
	if err != nil {
		t.Fatalf("Trend() error = %v", err)
	}
	if got := rowNumbers(tr); !reflect.DeepEqual(got, []int{3, 2}) {
		t.Errorf("rows = %v, want [3 2]", got)
	}
	if tr.StartOlder != 1 || tr.StartNewer != 5 {
		t.Errorf("cursors = older %d newer %d, want 1 and 5", tr.StartOlder, tr.StartNewer)
	}
}

func TestTrend_AgentRows(t *testing.T) {
	f := trendFixture(t)
	tr, err := f.svc.Trend(context.Background(), TrendParams{Job: "pipe", StartBuild: 4, Limit: 2})
	if err != nil {
		t.Fatalf("Trend() error = %v", err)
	}
	if len(tr.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(tr.Rows))
	}

	running := tr.Rows[0]
	if len(running.Agents) != 1 || running.Agents[0].Node != "n2" || !running.Agents[0].InProgress {
		t.Errorf("build 4 agents = %+v, want one in-progress n2 block", running.Agents)
	}

	both := tr.Rows[1]
	if len(both.Agents) != 2 || both.Agents[0].Node != "n2" || both.Agents[1].Node != "n1" {
		t.Errorf("build 3 agents = %+v, want n2 then n1", both.Agents)
	}
	if both.Agents[0].Label != "label-n2" || both.Agents[0].Duration != "100 ms" {
		t.Errorf("build 3 n2 block = %+v", both.Agents[0])
	}
}

func TestTrend_Errors(t *testing.T) {
	f := trendFixture(t)
	if _, err := f.svc.Trend(context.Background(), TrendParams{}); !errors.Is(err, query.ErrInvalidParams) {
		t.Errorf("Trend(no job) error = %v, want ErrInvalidParams", err)
	}
	if _, err := f.svc.Trend(context.Background(), TrendParams{Job: "ghost"}); !build.IsNotFound(err) {
		t.Errorf("Trend(ghost) error = %v, want not found", err)
	}
	if _, err := f.svc.Trend(context.Background(), TrendParams{Job: "pipe", Status: "green"}); !errors.Is(err, query.ErrInvalidParams) {
		t.Errorf("Trend(bad status) error = %v, want ErrInvalidParams", err)
	}
}
