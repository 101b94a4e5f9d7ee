package frontend

import (
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html templates/partials/*.html
var TemplatesFS embed.FS

// BuildTemplates parses partials and pages. Call it once at startup.
func BuildTemplates() (*template.Template, error) {
	t := template.New("app").Funcs(template.FuncMap{
		"datetime": func(t time.Time) string {
			if t.IsZero() {
				return "unknown"
			}
			return t.UTC().Format("2006-01-02 15:04 MST")
		},
	})
	// partials first so pages can use them
	if _, err := t.ParseFS(TemplatesFS, "templates/partials/*.html"); err != nil {
		return nil, err
	}
	if _, err := t.ParseFS(TemplatesFS, "templates/*.html"); err != nil {
		return nil, err
	}
	return t, nil
}
