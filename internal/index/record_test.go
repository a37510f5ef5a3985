package index

import (
	"errors"
	"testing"

	"github.com/caevv/agenthistory/internal/build"
)

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Record
		wantErr bool
	}{
		{
			name: "without result",
			line: "folder/app;12;1700000000000",
			want: Record{Job: "folder/app", Build: 12, StartTimeMillis: 1700000000000},
		},
		{
			name: "with result",
			line: "app;3;42;FAILURE",
			want: Record{Job: "app", Build: 3, StartTimeMillis: 42, Result: build.ResultFailure},
		},
		{
			name: "escaped separator in job",
			line: "a%3Bb;1;5",
			want: Record{Job: "a;b", Build: 1, StartTimeMillis: 5},
		},
		{
			name: "other percent sequences kept",
			line: "a%41 b%2Fc;1;5",
			want: Record{Job: "a%41 b%2Fc", Build: 1, StartTimeMillis: 5},
		},
		{
			name: "bare percent kept",
			line: "100%;1;5",
			want: Record{Job: "100%", Build: 1, StartTimeMillis: 5},
		},
		{
			name: "escaped percent before escape code",
			line: "%253B;1;5",
			want: Record{Job: "%3B", Build: 1, StartTimeMillis: 5},
		},
		{
			name: "trailing carriage return",
			line: "app;1;5;SUCCESS\r",
			want: Record{Job: "app", Build: 1, StartTimeMillis: 5, Result: build.ResultSuccess},
		},
		{name: "too few fields", line: "app;1", wantErr: true},
		{name: "too many fields", line: "app;1;2;SUCCESS;x", wantErr: true},
		{name: "empty job", line: ";1;2", wantErr: true},
		{name: "bad build", line: "app;x;2", wantErr: true},
		{name: "zero build", line: "app;0;2", wantErr: true},
		{name: "bad start", line: "app;1;soon", wantErr: true},
		{name: "bad result", line: "app;1;2;GREAT", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecord(tt.line)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedRecord) {
					t.Fatalf("ParseRecord() error = %v, want ErrMalformedRecord", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRecord() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseRecord() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRecord_LineRoundTripsAwkwardJobNames(t *testing.T) {
	for _, job := range []string{"plain", "with;semicolon", "100%", "multi\nline", "%3B literal"} {
		rec := Record{Job: job, Build: 7, StartTimeMillis: 99, Result: build.ResultAborted}
		got, err := ParseRecord(rec.Line())
		if err != nil {
			t.Fatalf("ParseRecord(%q) error = %v", rec.Line(), err)
		}
		if got != rec {
			t.Errorf("round trip of %q = %+v, want %+v", job, got, rec)
		}
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		node string
		want string
	}{
		{"agent-1", "agent-1_index.txt"},
		{"linux/arm64", "linux%2Farm64_index.txt"},
		{".hidden", "%2Ehidden_index.txt"},
	}
	for _, tt := range tests {
		if got := fileName(tt.node); got != tt.want {
			t.Errorf("fileName(%q) = %q, want %q", tt.node, got, tt.want)
		}
		node, ok := nodeFromFileName(tt.want)
		if !ok || node != tt.node {
			t.Errorf("nodeFromFileName(%q) = %q, %v; want %q", tt.want, node, ok, tt.node)
		}
	}

	for _, name := range []string{".index-123.tmp", "notes.txt", "_index.txt"} {
		if _, ok := nodeFromFileName(name); ok {
			t.Errorf("nodeFromFileName(%q) accepted a non-index file", name)
		}
	}
}
