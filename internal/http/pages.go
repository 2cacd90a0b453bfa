package httpx

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/domain/navigation"
)

//go:embed views/*.html
var viewsFS embed.FS

// PageData is the view model of every page.
type PageData struct {
	Title    string
	Route    navigation.Route
	Email    string
	Role     domainauth.Role
	Approved bool
	Error    string
	// Status overrides the response code; zero means 200.
	Status int
}

// Pages renders the placeholder page of each declared route.
type Pages struct {
	tmpl   *template.Template
	routes *navigation.Table
	logger *slog.Logger
}

// NewPages parses the embedded views.
func NewPages(routes *navigation.Table, logger *slog.Logger) (*Pages, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tmpl, err := template.ParseFS(viewsFS, "views/*.html")
	if err != nil {
		return nil, err
	}
	return &Pages{tmpl: tmpl, routes: routes, logger: logger}, nil
}

// Handler serves the page of route rt. It runs after the gate has allowed the navigation.
func (p *Pages) Handler(rt navigation.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Render(w, r, PageData{Route: rt})
	}
}

// Render fills in the viewer and renders data. Route defaults to the route
// matching the request path.
func (p *Pages) Render(w http.ResponseWriter, r *http.Request, data PageData) {
	if data.Route.Path == "" {
		data.Route, _ = p.routes.Match(r.URL.Path)
	}
	if data.Title == "" {
		data.Title = data.Route.Name
	}
	if client, ok := NavigationClientFromContext(r.Context()); ok {
		if principal, signedIn := client.Identity.CurrentPrincipal(); signedIn {
			data.Email = principal.Email
			if data.Email == "" {
				data.Email = principal.UID
			}
		}
		if rec, has := client.State.Record(); has {
			data.Role = rec.Role
			data.Approved = rec.Approved
		}
	}

	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		p.logger.ErrorContext(r.Context(), "render page failed", "path", r.URL.Path, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	status := data.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		return
	}
}
