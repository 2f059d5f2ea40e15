package export

import (
	"bytes"
	"html/template"
	"time"
)

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(batchReportTemplate))
}

// TemplateData holds data for report template rendering
type TemplateData struct {
	Title         string
	BatchID       string
	Author        string
	Status        string
	ReviewNote    string
	CreatedAt     time.Time
	HasVerdicts   bool
	EditCount     int
	ConflictCount int
	Edits         []TemplateEdit
}

// TemplateEdit is one edit row of the report table.
type TemplateEdit struct {
	Position int
	Action   string
	Word     string
	Code     string
	Type     string
	Weight   string
	Check    string
	Conflict bool
}

// RenderReportHTML renders the batch report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const batchReportTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .note { background: #fff3cd; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid #ccc; padding: 6px 10px; text-align: left; font-size: 0.9em; }
    th { background: #f5f5f5; }
    .conflict { color: #b00020; }
    .summary { margin-top: 1.5rem; color: #666; font-size: 0.9em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">Batch {{.BatchID}} | {{.Author}} | {{.Status}} | {{formatDate .CreatedAt "Jan 2, 2006"}}</div>
  {{if .ReviewNote}}<div class="note"><strong>Review note:</strong> {{.ReviewNote}}</div>{{end}}
  <table>
    <tr>
      <th>#</th><th>Action</th><th>Word</th><th>Code</th><th>Type</th><th>Weight</th>{{if .HasVerdicts}}<th>Check</th>{{end}}
    </tr>
    {{range .Edits}}
    <tr>
      <td>{{.Position}}</td>
      <td>{{.Action}}</td>
      <td>{{.Word}}</td>
      <td>{{.Code}}</td>
      <td>{{.Type}}</td>
      <td>{{.Weight}}</td>
      {{if $.HasVerdicts}}<td{{if .Conflict}} class="conflict"{{end}}>{{.Check}}</td>{{end}}
    </tr>
    {{end}}
  </table>
  {{if .HasVerdicts}}
  <div class="summary">{{.EditCount}} edit(s), {{.ConflictCount}} unresolved conflict(s).</div>
  {{else}}
  <div class="summary">{{.EditCount}} edit(s).</div>
  {{end}}
</body>
</html>`
