package common

import (
	"net/url"
	"strings"
)

// Field describes one form input: its wire key, the spreadsheet header, the
// label used in the notification mail and what to print when it is empty.
type Field struct {
	Key       string
	Header    string
	MailLabel string
	Empty     string
	Required  bool
	Email     bool
}

// Schema is the per-kind layout of rows, headers and notification mails.
type Schema struct {
	Kind            Kind
	Title           string
	FormName        string
	Fields          []Field
	TimestampHeader string
	MailIntro       string
	MailSubjectTail string
}

var schemas = map[Kind]Schema{
	KindContact: {
		Kind:     KindContact,
		Title:    "お問い合わせフォーム回答",
		FormName: "お問い合わせフォーム",
		Fields: []Field{
			{Key: FieldName, Header: "お名前", MailLabel: "お名前", Required: true},
			{Key: FieldEmail, Header: "メールアドレス", MailLabel: "メールアドレス", Required: true, Email: true},
			{Key: FieldPhone, Header: "電話番号", MailLabel: "電話番号", Empty: "未入力"},
			{Key: FieldSubject, Header: "件名", MailLabel: "件名", Empty: "未入力"},
			{Key: FieldMessage, Header: "お問い合わせ内容", MailLabel: "お問い合わせ内容", Required: true},
		},
		TimestampHeader: "送信日時",
		MailIntro:       "お問い合わせフォームより以下の内容でお問い合わせがありました。",
		MailSubjectTail: "様よりお問い合わせがありました",
	},
	KindParticipation: {
		Kind:     KindParticipation,
		Title:    "OB会出欠フォーム回答",
		FormName: "OB会出欠フォーム",
		Fields: []Field{
			{Key: FieldName, Header: "氏名", MailLabel: "氏名", Required: true},
			{Key: FieldPeriod, Header: "卒期", MailLabel: "卒期", Required: true},
			{Key: FieldEmail, Header: "メールアドレス", MailLabel: "メールアドレス", Required: true, Email: true},
			{Key: FieldPhone, Header: "電話番号", MailLabel: "電話番号", Empty: "未入力"},
			{Key: FieldAttendance, Header: "出欠", MailLabel: "出欠"},
			{Key: FieldRemarks, Header: "備考", MailLabel: "備考・ご連絡事項", Empty: "なし"},
		},
		TimestampHeader: "送信日時",
		MailIntro:       "OB会出欠フォームより以下の内容でご回答がありました。",
		MailSubjectTail: "様より出欠のご回答がありました",
	},
}

// SchemaFor returns the schema for kind. Unknown kinds get the contact schema.
func SchemaFor(kind Kind) Schema {
	if s, ok := schemas[kind]; ok {
		return s
	}
	return schemas[KindContact]
}

// ParseKind maps a path segment or flag value to a Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	_, ok := schemas[k]
	return k, ok
}

// Header is the first row written into an empty store.
func (sc Schema) Header() []string {
	h := make([]string, 0, len(sc.Fields)+1)
	for _, f := range sc.Fields {
		h = append(h, f.Header)
	}
	return append(h, sc.TimestampHeader)
}

// Row lays out a submission in header order, stamped with the server time.
func (sc Schema) Row(s FormSubmission, stamp string) []interface{} {
	row := make([]interface{}, 0, len(sc.Fields)+1)
	for _, f := range sc.Fields {
		row = append(row, s.Get(f.Key))
	}
	return append(row, stamp)
}

// Values encodes a submission as form fields. Every schema field is sent,
// empty or not, followed by the informational client timestamp.
func Values(s FormSubmission, timestamp string) url.Values {
	v := url.Values{}
	for _, f := range SchemaFor(s.Kind).Fields {
		v.Set(f.Key, s.Get(f.Key))
	}
	if s.IdempotencyKey != "" {
		v.Set(FieldIdempotencyKey, s.IdempotencyKey)
	}
	if timestamp != "" {
		v.Set(FieldTimestamp, timestamp)
	}
	return v
}

// FromValues builds a submission from decoded request fields. The caller's
// timestamp is dropped and only email is trimmed; other values are kept as
// sent.
func FromValues(kind Kind, get func(key string) string) FormSubmission {
	s := FormSubmission{Kind: kind}
	for _, f := range SchemaFor(kind).Fields {
		s.Set(f.Key, get(f.Key))
	}
	s.Email = strings.TrimSpace(s.Email)
	s.IdempotencyKey = get(FieldIdempotencyKey)
	return s
}
