package contact

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// SubjectPrefix starts every notification subject line.
const SubjectPrefix = "Portfolio Contact"

const dateLayout = "Monday, January 2, 2006 at 15:04 MST"

// Rendered holds both representations of a notification.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

var htmlTemplate = htmltemplate.Must(htmltemplate.New("notification.html").
	Funcs(htmltemplate.FuncMap{"breaks": lineBreaks}).
	Parse(htmlSource))

var textTemplate = texttemplate.Must(texttemplate.New("notification.txt").Parse(textSource))

type templateData struct {
	Event
	Date string
	Year int
}

// Render produces the subject line, HTML body, and plain-text body for e.
// The event is expected to be sanitized already.
func Render(e Event) (Rendered, error) {
	data := templateData{
		Event: e,
		Date:  e.ReceivedAt.Format(dateLayout),
		Year:  e.ReceivedAt.Year(),
	}

	var html bytes.Buffer
	if err := htmlTemplate.Execute(&html, data); err != nil {
		return Rendered{}, fmt.Errorf("failed to render html body: %w", err)
	}

	var text bytes.Buffer
	if err := textTemplate.Execute(&text, data); err != nil {
		return Rendered{}, fmt.Errorf("failed to render text body: %w", err)
	}

	return Rendered{
		Subject: Subject(e),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

// Subject composes the notification subject from the sender name and, when
// present, the submission subject.
func Subject(e Event) string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %s", SubjectPrefix, e.Name)
	}
	return fmt.Sprintf("%s: %s - %s", SubjectPrefix, e.Name, e.Subject)
}

// lineBreaks escapes s and turns each newline into a <br> element.
func lineBreaks(s string) htmltemplate.HTML {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = htmltemplate.HTMLEscapeString(line)
	}
	return htmltemplate.HTML(strings.Join(lines, "<br>"))
}

const htmlSource = `<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>New Contact Form Submission</title>
  </head>
  <body style="margin: 0; padding: 0; font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; background-color: #f9fafb;">
    <table role="presentation" width="100%" cellspacing="0" cellpadding="0" border="0">
      <tr>
        <td style="padding: 20px 0;">
          <table align="center" role="presentation" width="600" cellspacing="0" cellpadding="0" border="0" style="background-color: #ffffff; border-radius: 8px; overflow: hidden;">
            <tr>
              <td style="background: linear-gradient(to right, #3b82f6, #8b5cf6); padding: 30px; text-align: center;">
                <h2 style="margin: 0; color: white; font-weight: 600; font-size: 24px;">New Contact Form Submission</h2>
                <p style="margin: 10px 0 0; color: rgba(255, 255, 255, 0.9); font-size: 16px;">{{.Date}}</p>
              </td>
            </tr>
            <tr>
              <td style="padding: 30px;">
                <div style="margin-bottom: 20px; padding: 15px; background-color: #f8f9fa; border-radius: 6px; border-left: 4px solid #3b82f6;">
                  <p style="margin: 0 0 5px; font-weight: 600; color: #4b5563; font-size: 14px;">NAME</p>
                  <p style="margin: 0; color: #111827; font-size: 16px;">{{.Name}}</p>
                </div>
                <div style="margin-bottom: 20px; padding: 15px; background-color: #f8f9fa; border-radius: 6px; border-left: 4px solid #8b5cf6;">
                  <p style="margin: 0 0 5px; font-weight: 600; color: #4b5563; font-size: 14px;">EMAIL</p>
                  <p style="margin: 0; color: #111827; font-size: 16px;"><a href="mailto:{{.Email}}" style="color: #6366f1; text-decoration: none;">{{.Email}}</a></p>
                </div>
{{- if .Subject}}
                <div style="margin-bottom: 20px; padding: 15px; background-color: #f8f9fa; border-radius: 6px; border-left: 4px solid #10b981;">
                  <p style="margin: 0 0 5px; font-weight: 600; color: #4b5563; font-size: 14px;">SUBJECT</p>
                  <p style="margin: 0; color: #111827; font-size: 16px;">{{.Subject}}</p>
                </div>
{{- end}}
                <div style="margin-bottom: 20px; padding: 20px; background-color: #f8f9fa; border-radius: 6px; border-left: 4px solid #ec4899;">
                  <p style="margin: 0 0 10px; font-weight: 600; color: #4b5563; font-size: 14px;">MESSAGE</p>
                  <div style="margin: 0; color: #374151; font-size: 16px; line-height: 1.6;">{{breaks .Message}}</div>
                </div>
              </td>
            </tr>
            <tr>
              <td style="background-color: #f3f4f6; padding: 20px; text-align: center; border-top: 1px solid #e5e7eb;">
                <p style="margin: 0; color: #6b7280; font-size: 14px;">This message was sent from your portfolio contact form.</p>
                <p style="margin: 10px 0 0; color: #9ca3af; font-size: 12px;">&copy; {{.Year}}</p>
              </td>
            </tr>
          </table>
        </td>
      </tr>
    </table>
  </body>
</html>
`

const textSource = `New contact form submission

Name: {{.Name}}
Email: {{.Email}}
{{- if .Subject}}
Subject: {{.Subject}}
{{- end}}

Message:
{{.Message}}

Received: {{.Date}}
`
