package web

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

const layout = `<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>relme-auth</title>
  </head>
  <body>
    {{ template "content" . }}
  </body>
</html>`

var views = map[string]*template.Template{
	"index": view(`{{ define "content" }}
    <form action="/auth" method="get">
      <label for="me">Your URL:</label>
      <input id="me" name="me" placeholder="e.g. https://example.com" />
      {{ if .RedirectURI }}<input type="hidden" name="redirect_uri" value="{{ .RedirectURI }}" />{{ end }}
      <button type="submit">Sign-in</button>
    </form>
    <p><a href="/setup">How do I set up my site?</a></p>
{{ end }}`),

	"setup": view(`{{ define "content" }}
    <h1>Setting up your site</h1>
    <p>
      Add a link with <code>rel="me"</code> from the page at your URL to your
      profile on one of the providers below, for example
    </p>
    <pre>&lt;a href="https://github.com/username" rel="me"&gt;GitHub&lt;/a&gt;</pre>
    <p>
      Then make sure your profile links back to your URL, most providers have a
      website field for this.
    </p>
    <ul>
      {{ range .Providers }}<li>{{ .Name }}, like <code>{{ .Example }}</code></li>
      {{ else }}<li>No providers are set up yet.</li>
      {{ end }}
    </ul>
    <p>When signing in you will be asked to sign in to the first provider that links back.</p>
    <p><a href="/">Sign in</a></p>
{{ end }}`),

	"success": view(`{{ define "content" }}
    <h1>Signed in</h1>
    <p>You are <a href="{{ .Me }}">{{ .Me }}</a>.</p>
    {{ if .Profiles }}<p>Verified with</p>
    <ul>
      {{ range .Profiles }}<li><a href="{{ . }}">{{ . }}</a></li>
      {{ end }}
    </ul>{{ end }}
    <p><a href="/reset">Sign in as someone else</a></p>
{{ end }}`),

	"failure": view(`{{ define "content" }}
    <h1>Could not sign in</h1>
    <p>{{ .Message }}</p>
    <p><a href="/">Try again</a>, or read <a href="/setup">how to set up your site</a>.</p>
{{ end }}`),
}

func view(content string) *template.Template {
	return template.Must(template.Must(template.New("layout").Parse(layout)).Parse(content))
}

type indexData struct {
	RedirectURI string
}

type setupProvider struct {
	Name    string
	Example string
}

type setupData struct {
	Providers []setupProvider
}

type successData struct {
	Me       string
	Profiles []string
}

type failureData struct {
	Message string
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if err := views[name].ExecuteTemplate(w, "layout", data); err != nil {
		s.log.Error("rendering view failed", zap.String("view", name), zap.Error(err))
	}
}
