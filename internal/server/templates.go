package server

import (
	_ "embed"
	"html/template"

	"github.com/dgellow/handoff/internal/loginview"
)

//go:embed templates/login.html
var loginPageTemplateHTML string

var loginPageTemplate = template.Must(template.New("login").Parse(loginPageTemplateHTML))

// LoginPageData represents the data for the login page
type LoginPageData struct {
	Title     string
	Model     loginview.Model
	CSRFToken string
	ViewState string
	Paths     LoginPaths

	// RedirectURL is where the redirecting screen sends the browser
	RedirectURL string
	// DeepLink is opened once on load of the authenticated screen; empty
	// when this mount already handed off or issuance failed
	DeepLink template.URL
}

// LoginPaths are the form targets, already prefixed with the base path
type LoginPaths struct {
	Login    string
	OpenApp  string
	SignOut  string
	Continue string
}
