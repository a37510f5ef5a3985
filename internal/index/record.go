package index

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/caevv/agenthistory/internal/build"
)

// Separator delimits the fields of an index line.
const Separator = ";"

// ErrMalformedRecord is returned for index lines that do not parse.
var ErrMalformedRecord = errors.New("malformed index record")

// jobEscaper reserves the separator (and line breaks) inside job names.
// '%' is escaped first so that decoding is unambiguous.
var jobEscaper = strings.NewReplacer(
	"%", "%25",
	Separator, "%3B",
	"\n", "%0A",
	"\r", "%0D",
)

// jobUnescaper reverses jobEscaper and leaves any other '%' sequence as is.
var jobUnescaper = strings.NewReplacer(
	"%25", "%",
	"%3B", Separator,
	"%0A", "\n",
	"%0D", "\r",
)

// Record is one line of a node's index: a run that touched the node.
type Record struct {
	Job             string
	Build           int
	StartTimeMillis int64
	Result          build.Result
}

// Key identifies a run within a node index.
type Key struct {
	Job   string
	Build int
}

// Key returns the record's identity.
func (r Record) Key() Key {
	return Key{Job: r.Job, Build: r.Build}
}

func (r Record) validate() error {
	if strings.TrimSpace(r.Job) == "" {
		return fmt.Errorf("job name is required")
	}
	if r.Build <= 0 {
		return fmt.Errorf("build number must be positive, got %d", r.Build)
	}
	return nil
}

// Line encodes the record as an index line without a trailing newline:
// job;build;start[;result].
func (r Record) Line() string {
	var b strings.Builder
	b.WriteString(jobEscaper.Replace(r.Job))
	b.WriteString(Separator)
	b.WriteString(strconv.Itoa(r.Build))
	b.WriteString(Separator)
	b.WriteString(strconv.FormatInt(r.StartTimeMillis, 10))
	if r.Result.Known() {
		b.WriteString(Separator)
		b.WriteString(string(r.Result))
	}
	return b.String()
}

// ParseRecord decodes one index line.
func ParseRecord(line string) (Record, error) {
	line = strings.TrimRight(line, "\r")
	fields := strings.Split(line, Separator)
	if len(fields) != 3 && len(fields) != 4 {
		return Record{}, fmt.Errorf("%w: expected 3 or 4 fields, got %d", ErrMalformedRecord, len(fields))
	}

	job := jobUnescaper.Replace(fields[0])
	if job == "" {
		return Record{}, fmt.Errorf("%w: empty job name", ErrMalformedRecord)
	}

	number, err := strconv.Atoi(fields[1])
	if err != nil || number <= 0 {
		return Record{}, fmt.Errorf("%w: invalid build number %q", ErrMalformedRecord, fields[1])
	}

	start, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: invalid start time %q", ErrMalformedRecord, fields[2])
	}

	rec := Record{Job: job, Build: number, StartTimeMillis: start}
	if len(fields) == 4 {
		result, err := build.ParseResult(fields[3])
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		rec.Result = result
	}
	return rec, nil
}

// fileName maps a node name to its index file name. Path separators and
// other unsafe characters in node names are escaped.
func fileName(node string) string {
	escaped := url.PathEscape(node)
	if strings.HasPrefix(escaped, ".") {
		// Keep node files visible and distinct from temp files.
		escaped = "%2E" + escaped[1:]
	}
	return escaped + fileSuffix
}

// nodeFromFileName reverses fileName. ok is false for files that are not
// node indexes.
func nodeFromFileName(name string) (string, bool) {
	if !strings.HasSuffix(name, fileSuffix) || strings.HasPrefix(name, ".") {
		return "", false
	}
	escaped := strings.TrimSuffix(name, fileSuffix)
	if escaped == "" {
		return "", false
	}
	node, err := url.PathUnescape(escaped)
	if err != nil {
		return escaped, true
	}
	return node, true
}
