package server

import (
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/flowgraph"
	"github.com/caevv/agenthistory/internal/history"
	"github.com/caevv/agenthistory/internal/logging"
)

var (
	dashboardTmpl = template.Must(template.New("dashboard").Funcs(templateFuncs).Parse(pageHead + dashboardTemplate))
	nodePageTmpl  = template.Must(template.New("node").Funcs(templateFuncs).Parse(pageHead + nodeTemplate))
)

// DashboardData holds data for the dashboard template
type DashboardData struct {
	Title   string
	Nodes   []string
	Match   string
	Version string
	Uptime  string
}

// NodePageData holds data for the node history template
type NodePageData struct {
	Title      string
	Node       string
	Result     *history.Result
	SortColumn string
	SortOrder  string
	Status     string
	PrevURL    string
	NextURL    string
}

// handleDashboard lists the indexed nodes.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	match := r.URL.Query().Get("match")
	nodes, err := s.history.MatchNodes(match)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := DashboardData{
		Title:   "Agent Build History",
		Nodes:   nodes,
		Match:   match,
		Version: version,
		Uptime:  s.Uptime(),
	}
	s.render(w, r, dashboardTmpl, data)
}

// handleNodePage renders one page of a node's build history.
func (s *Server) handleNodePage(w http.ResponseWriter, r *http.Request) {
	node := pathParam(r, "node")
	p, err := s.historyParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.history.Query(r.Context(), node, p)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to query node history for page", "node", node, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := NodePageData{
		Title:      "Build History of " + node,
		Node:       node,
		Result:     res,
		SortColumn: string(p.Sort),
		SortOrder:  string(p.Order),
		Status:     string(p.Status),
	}
	pageURL := func(page int) string {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(page))
		return "/nodes/" + url.PathEscape(node) + "?" + q.Encode()
	}
	if res.Page > 1 {
		data.PrevURL = pageURL(res.Page - 1)
	}
	if res.Page < res.TotalPages {
		data.NextURL = pageURL(res.Page + 1)
	}
	s.render(w, r, nodePageTmpl, data)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		logging.FromContext(r.Context()).Error("failed to render template", "template", tmpl.Name(), "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// templateFuncs provides custom template functions
var templateFuncs = template.FuncMap{
	"formatMillis": func(ms int64) string {
		if ms <= 0 {
			return "N/A"
		}
		return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
	},
	"nodePath": func(node string) string {
		return "/nodes/" + url.PathEscape(node)
	},
	"resultBadge": func(r build.Result) template.HTML {
		switch r {
		case build.ResultSuccess:
			return template.HTML(`<span class="badge badge-success">success</span>`)
		case build.ResultUnstable:
			return template.HTML(`<span class="badge badge-warning">unstable</span>`)
		case build.ResultFailure:
			return template.HTML(`<span class="badge badge-danger">failure</span>`)
		case build.ResultUnknown:
			return template.HTML(`<span class="badge badge-info">running</span>`)
		default:
			return template.HTML(`<span class="badge badge-secondary">` + template.HTMLEscapeString(r.String()) + `</span>`)
		}
	},
	"stepBadge": func(st flowgraph.Status) template.HTML {
		return template.HTML(`<span class="badge badge-secondary">` + template.HTMLEscapeString(string(st)) + `</span>`)
	},
}

const pageHead = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f5f5f5; color: #333; line-height: 1.6; }
        .container { max-width: 1200px; margin: 0 auto; padding: 20px; }
        header { background: #2c3e50; color: white; padding: 20px 0; margin-bottom: 30px; }
        header h1 { font-size: 28px; margin-bottom: 5px; }
        header a { color: white; opacity: 0.8; }
        header .meta { font-size: 14px; opacity: 0.8; }
        .section { background: white; padding: 25px; border-radius: 8px; margin-bottom: 30px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        table { width: 100%; border-collapse: collapse; }
        th { background: #f8f9fa; text-align: left; padding: 12px; border-bottom: 2px solid #dee2e6; }
        td { padding: 12px; border-bottom: 1px solid #dee2e6; vertical-align: top; }
        .steps td { padding: 4px 12px; font-size: 13px; color: #555; border: none; }
        .badge { display: inline-block; padding: 4px 8px; border-radius: 4px; font-size: 12px; font-weight: 600; text-transform: uppercase; }
        .badge-success { background: #d4edda; color: #155724; }
        .badge-warning { background: #fff3cd; color: #856404; }
        .badge-danger { background: #f8d7da; color: #721c24; }
        .badge-info { background: #d1ecf1; color: #0c5460; }
        .badge-secondary { background: #e2e3e5; color: #383d41; }
        .empty { text-align: center; padding: 40px; color: #7f8c8d; }
        .pager { margin-top: 20px; display: flex; gap: 20px; }
        a { color: #3498db; text-decoration: none; }
        code { background: #f8f9fa; padding: 2px 6px; border-radius: 3px; font-family: monospace; font-size: 13px; }
    </style>
</head>`

// dashboardTemplate lists the indexed nodes
const dashboardTemplate = `
<body>
    <header>
        <div class="container">
            <h1>{{.Title}}</h1>
            <div class="meta">Version: {{.Version}} | Uptime: {{.Uptime}}</div>
        </div>
    </header>
    <div class="container">
        <div class="section">
            <form method="get" action="/">
                <input name="match" value="{{.Match}}" placeholder="glob, e.g. linux-*">
                <button type="submit">Filter</button>
            </form>
        </div>
        <div class="section">
            <h2>Nodes ({{len .Nodes}})</h2>
            {{if .Nodes}}
            <table>
                <tbody>
                    {{range .Nodes}}
                    <tr><td><a href="{{nodePath .}}">{{.}}</a></td></tr>
                    {{end}}
                </tbody>
            </table>
            {{else}}
            <div class="empty">No node history recorded yet</div>
            {{end}}
        </div>
    </div>
</body>
</html>`

// nodeTemplate renders one page of a node's history
const nodeTemplate = `
<body>
    <header>
        <div class="container">
            <div><a href="/">&larr; All nodes</a></div>
            <h1>{{.Title}}</h1>
            <div class="meta">Sorted by {{.SortColumn}} {{.SortOrder}} | Status: {{.Status}} | {{.Result.Total}} builds</div>
        </div>
    </header>
    <div class="container">
        <div class="section">
            {{if .Result.Items}}
            <table>
                <thead>
                    <tr>
                        <th>Build</th>
                        <th>Started</th>
                        <th>Duration</th>
                        <th>Result</th>
                    </tr>
                </thead>
                <tbody>
                    {{range .Result.Items}}
                    <tr id="{{.RowID}}">
                        <td><code>{{.Run.FullDisplayName}}</code></td>
                        <td>{{formatMillis .Run.StartTimeMillis}}</td>
                        <td>{{.Duration}}</td>
                        <td>{{resultBadge .Result}}</td>
                    </tr>
                    {{range .Views}}
                    <tr class="steps">
                        <td>&nbsp;&nbsp;step {{.StepID}}{{if .Label}} ({{.Label}}){{end}}</td>
                        <td>{{formatMillis .StartTimeMillis}}</td>
                        <td>{{.Duration}}</td>
                        <td>{{stepBadge .Status}}</td>
                    </tr>
                    {{end}}
                    {{end}}
                </tbody>
            </table>
            {{else}}
            <div class="empty">No builds on this page</div>
            {{end}}
            <div class="pager">
                {{if .PrevURL}}<a href="{{.PrevURL}}">&larr; Previous page</a>{{end}}
                <span>Page {{.Result.Page}} of {{.Result.TotalPages}}</span>
                {{if .NextURL}}<a href="{{.NextURL}}">Next page &rarr;</a>{{end}}
            </div>
        </div>
    </div>
</body>
</html>`
