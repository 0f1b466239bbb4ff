package service

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	notificationdomain "github.com/smallbiznis/stitchery/internal/notification/domain"
	"github.com/smallbiznis/stitchery/internal/notification/templates"
)

var subjects = map[notificationdomain.Kind]string{
	notificationdomain.KindOrderSubmitted:  "Order %s received",
	notificationdomain.KindOrderProcessing: "Order %s is in progress",
	notificationdomain.KindOrderCompleted:  "Order %s is ready",
	notificationdomain.KindOrderFailed:     "Order %s needs your attention",
	notificationdomain.KindTokensPurchased: "Your tokens have arrived",
	notificationdomain.KindWelcome:         "Welcome to %s",
}

type renderData struct {
	Subject     string
	AppName     string
	FrontendURL string
	Name        string
	Formats     []string
	Event       notificationdomain.Event
}

// Renderer turns events into mail subjects and HTML bodies.
type Renderer struct {
	appName     string
	frontendURL string
	pages       map[notificationdomain.Kind]*template.Template
}

func NewRenderer(appName, frontendURL string) (*Renderer, error) {
	funcs := template.FuncMap{"join": strings.Join}
	pages := make(map[notificationdomain.Kind]*template.Template, len(subjects))
	for kind := range subjects {
		tmpl, err := template.New("layout").Funcs(funcs).ParseFS(templates.FS, "layout.html", string(kind)+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", kind, err)
		}
		pages[kind] = tmpl
	}
	if strings.TrimSpace(appName) == "" {
		appName = "Stitchery"
	}
	return &Renderer{
		appName:     appName,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		pages:       pages,
	}, nil
}

func (r *Renderer) Render(event notificationdomain.Event, recipient notificationdomain.Recipient) (string, string, error) {
	tmpl, ok := r.pages[event.Kind]
	if !ok {
		return "", "", fmt.Errorf("no template for %q", event.Kind)
	}

	subject := subjects[event.Kind]
	switch {
	case event.Kind.IsOrder():
		subject = fmt.Sprintf(subject, event.OrderNumber)
	case event.Kind == notificationdomain.KindWelcome:
		subject = fmt.Sprintf(subject, r.appName)
	}

	name := strings.TrimSpace(recipient.Name)
	if name == "" {
		name = "there"
	}

	var buf bytes.Buffer
	err := tmpl.ExecuteTemplate(&buf, "layout", renderData{
		Subject:     subject,
		AppName:     r.appName,
		FrontendURL: r.frontendURL,
		Name:        name,
		Formats:     event.Formats,
		Event:       event,
	})
	if err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}
