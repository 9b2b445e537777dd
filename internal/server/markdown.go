package server

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
)

// DefaultNotice is the landing text shown until task management exists.
const DefaultNotice = `## Welcome to TryDo!

Your authentication is working. Task management features coming soon!
`

// RenderMarkdown converts markdown text to HTML (safe to inject as template.HTML).
// Raw HTML in the source is not passed through.
func RenderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}
