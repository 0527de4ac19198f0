package intake

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Encoding tells which request shape a payload was read from.
type Encoding int

const (
	FormEncoded Encoding = iota + 1
	JSONEncoded
)

func (e Encoding) String() string {
	switch e {
	case FormEncoded:
		return "form"
	case JSONEncoded:
		return "json"
	}
	return "unknown"
}

// Payload is the decoded request: the flat field map and the shape it came in.
type Payload struct {
	Encoding Encoding
	Fields   map[string]string
	// ParseError is set when a JSON body could not be parsed; Fields is then
	// empty and the submission fails required-field validation.
	ParseError error
}

// Get returns the value sent under key, "" when absent.
func (p Payload) Get(key string) string { return p.Fields[key] }

// DecodeFailure is the no-match outcome: neither form fields nor a body.
type DecodeFailure struct {
	Message string
	Debug   map[string]any
}

const (
	msgNoData   = "リクエストデータが取得できませんでした。"
	msgTooLarge = "リクエストが大きすぎます。"
)

// Decode reads form body parameters first and falls back to a JSON body. Query
// parameters never count as form data. A
// request carrying neither yields a DecodeFailure with diagnostics about what
// the request did carry.
func Decode(r *http.Request) (Payload, *DecodeFailure) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if err := r.ParseMultipartForm(32 << 10); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return Payload{}, &DecodeFailure{Message: msgTooLarge, Debug: debugInfo(r, mediaType, true)}
		}
	}
	if len(r.PostForm) > 0 {
		fields := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
		return Payload{Encoding: FormEncoded, Fields: fields}, nil
	}

	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return Payload{}, &DecodeFailure{Message: msgTooLarge, Debug: debugInfo(r, mediaType, true)}
			}
		}
		body = b
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return Payload{}, &DecodeFailure{Message: msgNoData, Debug: debugInfo(r, mediaType, false)}
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Payload{Encoding: JSONEncoded, Fields: map[string]string{}, ParseError: err}, nil
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
		case string:
			fields[k] = v
		case json.Number:
			fields[k] = v.String()
		default:
			fields[k] = fmt.Sprint(v)
		}
	}
	return Payload{Encoding: JSONEncoded, Fields: fields}, nil
}

func debugInfo(r *http.Request, mediaType string, hasBody bool) map[string]any {
	return map[string]any{
		"method":         r.Method,
		"content_type":   mediaType,
		"content_length": r.ContentLength,
		"has_post_data":  hasBody,
		"has_parameter":  len(r.Form) > 0,
	}
}
