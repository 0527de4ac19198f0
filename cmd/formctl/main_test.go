package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun(t *testing.T) {
	t.Setenv("FORM_ENDPOINT", "")
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		got = map[string]string{}
		for k := range r.PostForm {
			got[k] = r.PostForm.Get(k)
		}
		if got["name"] == "reject" {
			_, _ = w.Write([]byte(`{"success":false,"error":"nope"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"送信が完了しました。"}`))
	}))
	defer srv.Close()

	assert.Equal(t, 2, run(nil))
	assert.Equal(t, 2, run([]string{"newsletter"}))
	assert.Equal(t, 2, run([]string{"contact", "--name", "田中"}), "endpoint is required")

	code := run([]string{"participation", "--endpoint", srv.URL, "--name", "佐藤", "--period", "45期", "--email", "s@example.jp"})
	assert.Equal(t, 0, code)
	assert.Equal(t, "出席", got["attendance"])
	assert.NotEmpty(t, got["idempotency_key"])

	assert.Equal(t, 1, run([]string{"contact", "--endpoint", srv.URL, "--name", "田中", "--email", "bad"}), "invalid input")
	assert.Equal(t, 1, run([]string{"contact", "--endpoint", srv.URL, "--name", "reject", "--email", "a@b.co", "--message", "hi"}))
}
