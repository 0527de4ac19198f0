package notify

import (
	"bytes"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"alumni-forms/common"
)

// MaxFieldLength caps each value embedded in a notification mail.
const MaxFieldLength = 1000

// Notification is one templated mail to the association's inbox.
type Notification struct {
	ID        string      `json:"id"`
	Kind      common.Kind `json:"kind"`
	To        string      `json:"to"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body"`
	CreatedAt time.Time   `json:"created_at"`
}

// Sanitize strips C0 control characters and DEL, trims surrounding
// whitespace and caps the result at max runes (MaxFieldLength when max <= 0).
// Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string, max int) string {
	if max <= 0 {
		max = MaxFieldLength
	}
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > max {
		s = strings.TrimSpace(string([]rune(s)[:max]))
	}
	return s
}

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

var bodyTemplate = template.Must(template.New("body").Parse(
	`{{.Intro}}

` + rule + `
{{range .Fields}}【{{.Label}}】
{{.Value}}

{{end}}【送信日時】
{{.Timestamp}}
` + rule))

type mailField struct {
	Label string
	Value string
}

// Compose renders the notification for an accepted submission. Every value
// is sanitized; empty optional values print the schema placeholder.
func Compose(schema common.Schema, s common.FormSubmission, stamp, to string) (Notification, error) {
	fields := make([]mailField, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		v := Sanitize(s.Get(f.Key), MaxFieldLength)
		if v == "" {
			v = f.Empty
		}
		fields = append(fields, mailField{Label: f.MailLabel, Value: v})
	}

	var body bytes.Buffer
	err := bodyTemplate.Execute(&body, struct {
		Intro     string
		Fields    []mailField
		Timestamp string
	}{schema.MailIntro, fields, stamp})
	if err != nil {
		return Notification{}, err
	}

	return Notification{
		ID:        s.ID,
		Kind:      schema.Kind,
		To:        to,
		Subject:   "【" + schema.FormName + "】" + Sanitize(s.Name, MaxFieldLength) + schema.MailSubjectTail,
		Body:      body.String(),
		CreatedAt: s.CreationDate,
	}, nil
}
