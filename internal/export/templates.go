package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var transcriptTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"nl2br": func(s string) template.HTML {
			escaped := template.HTMLEscapeString(s)
			return template.HTML(strings.ReplaceAll(escaped, "\n", "<br>"))
		},
	}

	templateContent, err := templateFS.ReadFile("templates/transcript.html")
	if err != nil {
		// Fallback to built-in template if file not found
		transcriptTemplate = template.Must(template.New("transcript").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	transcriptTemplate = template.Must(template.New("transcript").Funcs(funcMap).Parse(string(templateContent)))
}

// RenderTranscriptHTML renders the transcript template with provided data
func RenderTranscriptHTML(data TranscriptData) (string, error) {
	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.CommunityName}} transcript</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .message { margin: 0.75rem 0; }
    .sender { font-weight: bold; }
  </style>
</head>
<body>
  <h1>{{.CommunityName}}</h1>
  <div class="meta">Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}} by {{.GeneratedBy}}</div>
  {{range .Messages}}
  <div class="message">
    <span class="sender">{{.Sender}}</span> {{formatDate .SentAt "Jan 2 15:04"}}<br>
    {{if .Body}}{{nl2br .Body}}{{else}}[{{.Kind}}] {{.FileName}}{{end}}
  </div>
  {{end}}
</body>
</html>`
