package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var funcs = template.FuncMap{
	"pct": func(v float64) string { return fmt.Sprintf("%.2f%%", v) },
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04")
	},
	"round": func(d time.Duration) string { return d.Round(time.Millisecond).String() },
}

var summaryTemplate = template.Must(template.New("summary").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Catalog sync {{.Outcome}}</title></head>
<body style="font-family: sans-serif">
<h2>Catalog sync {{.Outcome}} ({{.Mode}})</h2>
<p>Run {{.RunID}} started {{date .StartedAt}}, took {{round .Duration}}.</p>
{{if .Error}}<p style="color:#b00"><strong>Stage {{.FailedStage}} failed:</strong> {{.Error}}</p>{{end}}

<h3>Catalog</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><td>Snapshot</td><td>{{.SnapshotID}}{{if .ReusedSnapshot}} (reused){{end}}</td></tr>
<tr><td>Baseline</td><td>{{if .FirstRun}}none, first run{{else}}{{.PreviousID}}{{end}}</td></tr>
<tr><td>Products</td><td>{{.Validation.Stats.Total}}</td></tr>
<tr><td>Previous products</td><td>{{.Validation.Stats.PreviousTotal}} ({{printf "%+d" .Validation.Stats.CountDelta}}, {{pct .Validation.Stats.CountDeltaPct}})</td></tr>
<tr><td>Zero price</td><td>{{.Validation.Stats.ZeroPrice}} ({{pct .Validation.Stats.ZeroPricePct}})</td></tr>
<tr><td>Zero stock</td><td>{{.Validation.Stats.ZeroStock}} ({{pct .Validation.Stats.ZeroStockPct}})</td></tr>
</table>

{{with .Validation.Violations}}
<h3>Validation</h3>
<ul>{{range .}}<li><strong>{{.Severity}}</strong> {{.Code}}: {{.Message}}</li>{{end}}</ul>
{{end}}

<h3>Changes</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><td>New</td><td>{{.Changes.New}}</td></tr>
<tr><td>Removed</td><td>{{.Changes.Removed}}</td></tr>
<tr><td>Price changes</td><td>{{.Changes.Prices}} ({{pct .PricePct}})</td></tr>
<tr><td>Stock changes</td><td>{{.Changes.Stocks}} ({{pct .StockPct}})</td></tr>
<tr><td>Unchanged</td><td>{{.Changes.Unchanged}}</td></tr>
<tr><td>Queue entries created</td><td>{{.Staged.Enqueued.Created}}</td></tr>
<tr><td>Queue entries refreshed</td><td>{{.Staged.Enqueued.Updated}}</td></tr>
</table>

{{with .Staged.Unmapped}}
<h3>Products missing in the storefront ({{len .}})</h3>
<p>{{range $i, $k := .}}{{if $i}}, {{end}}{{$k}}{{end}}</p>
{{end}}

{{with .Discontinued}}
<h3>Newly discontinued ({{len .}})</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Product</th><th>Description</th><th>Last price</th><th>Last stock</th><th>Last seen</th><th>Absences</th></tr>
{{range .}}<tr><td>{{.Key}}</td><td>{{.Description}}</td><td>{{.LastKnownPrice.StringFixed 2}}</td><td>{{.LastKnownStock}}</td><td>{{date .LastSeenAt}}</td><td>{{.ConsecutiveAbsences}}</td></tr>
{{end}}</table>
{{end}}

{{with .DeadLetters}}
<h3>Dead letters ({{len .}})</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Product</th><th>Type</th><th>Payload</th><th>Attempts</th><th>Error</th></tr>
{{range .}}<tr><td>{{.ProductKey}}</td><td>{{.Type}}</td><td>{{.Payload}}</td><td>{{.AttemptCount}}</td><td>{{.LastError}}</td></tr>
{{end}}</table>
{{end}}

{{with .Stages}}
<h3>Stages</h3>
<ul>{{range .}}<li>{{.Stage}}: {{round .Duration}}</li>{{end}}</ul>
{{end}}
</body>
</html>
`))

// RenderHTML renders the run report as an HTML document
func RenderHTML(r *RunReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

// Subject returns the mail subject for the report
func Subject(r *RunReport) string {
	day := r.StartedAt.Format("2006-01-02")
	if r.Succeeded() {
		return fmt.Sprintf("Catalog sync %s: %d price, %d stock, %d discontinued",
			day, r.Changes.Prices(), r.Changes.Stocks(), len(r.Discontinued))
	}
	return fmt.Sprintf("ALERT: catalog sync %s aborted at %s", day, r.FailedStage)
}
