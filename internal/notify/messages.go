package notify

import (
	"bytes"
	"html/template"

	"github.com/hamed0406/watchdog/internal/domain"
)

// MessageData fills an alert template. Zero values render as fallbacks.
type MessageData struct {
	Name       string
	URL        string
	StatusCode int
	DurationMS int64
	Error      string
}

const header = `📍 {{or .Name "Noname"}}
🔗 {{.URL}}

`

var messages = template.Must(template.New("alerts").Parse(`
{{- define "http_error"}}🔴 <b>HTTP error</b>

` + header + `Status code: {{if .StatusCode}}{{.StatusCode}}{{else}}?{{end}}
{{- if .DurationMS}}
⏱ Response time: {{.DurationMS}}ms{{end}}{{end}}

{{- define "timeout"}}⏱️ <b>Timeout</b>

` + header + `The site did not respond within the configured timeout.{{end}}

{{- define "connection"}}🔌 <b>Connection error</b>

` + header + `Could not connect to the server.
Possible causes: server down, DNS problems, network.{{end}}

{{- define "request"}}❌ <b>Request error</b>

` + header + `The request failed:
{{or .Error "Unknown Error"}}{{end}}

{{- define "recovery"}}🟢 <b>Back online</b>

` + header + `The site is responding again.
{{- if .DurationMS}}
⏱ Response time: {{.DurationMS}}ms{{end}}{{end}}

{{- define "fallback"}}⚠️ Problem monitoring {{.URL}}{{end}}
`))

// Render executes the template named by kind. Unknown kinds get a generic
// one-line message.
func Render(kind domain.AlertKind, d MessageData) (string, error) {
	name := string(kind)
	if messages.Lookup(name) == nil {
		name = "fallback"
	}
	var buf bytes.Buffer
	if err := messages.ExecuteTemplate(&buf, name, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}
