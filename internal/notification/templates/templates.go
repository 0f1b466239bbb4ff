// Package templates holds the HTML bodies of outgoing notification mail.
package templates

import "embed"

//go:embed *.html
var FS embed.FS
