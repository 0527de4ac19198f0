package formclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"alumni-forms/common"
	"alumni-forms/idempotency"
	"alumni-forms/intake"
	"alumni-forms/notify"
	"alumni-forms/sheets"
	"alumni-forms/validation"
)

// stubIntake answers every POST with status and body, recording the form.
type stubIntake struct {
	status int
	body   string
	delay  time.Duration

	mu    sync.Mutex
	forms []url.Values
	calls atomic.Int32
}

func (s *stubIntake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	_ = r.ParseForm()
	s.mu.Lock()
	s.forms = append(s.forms, r.PostForm)
	status, body := s.status, s.body
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			return
		}
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (s *stubIntake) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

func (s *stubIntake) lastForm() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.forms) == 0 {
		return nil
	}
	return s.forms[len(s.forms)-1]
}

func newController(t *testing.T, h http.Handler, timeout time.Duration) *Controller {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	n := 0
	return New(common.KindContact, Config{
		Endpoint:   srv.URL + "/contact",
		Timeout:    timeout,
		HTTPClient: srv.Client(),
		Now:        func() time.Time { return time.Date(2026, 10, 17, 1, 2, 3, 4e6, time.UTC) },
		NewToken: func() string {
			n++
			return "tok-" + string(rune('0'+n))
		},
	})
}

func fill(c *Controller, name, email, message string) {
	c.Set("name", name)
	c.Set("email", email)
	c.Set("message", message)
}

func TestSubmit_SuccessResetsForm(t *testing.T) {
	stub := &stubIntake{status: http.StatusOK, body: `{"success":true,"message":"送信が完了しました。"}`}
	c := newController(t, stub, time.Second)
	fill(c, "田中", "tanaka@example.com", "hello")

	require.NoError(t, c.Validate())
	require.NoError(t, c.Submit(context.Background()))

	assert.Equal(t, StateSubmitted, c.State())
	assert.False(t, c.Submitting())
	assert.NoError(t, c.Err())
	assert.Equal(t, common.NewSubmission(common.KindContact), c.Form())

	form := stub.lastForm()
	assert.Equal(t, "田中", form.Get("name"))
	assert.Equal(t, "hello", form.Get("message"))
	assert.Equal(t, "2026-10-17T01:02:03.004Z", form.Get("timestamp"))
	assert.Equal(t, "tok-1", form.Get("idempotency_key"))
}

func TestSubmit_MissingNameSendsNothing(t *testing.T) {
	stub := &stubIntake{status: http.StatusOK, body: `{"success":true}`}
	c := newController(t, stub, time.Second)
	fill(c, "", "x@y.com", "hi")

	err := c.Submit(context.Background())
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"name"}, ve.Fields.Fields(validation.CodeRequired))
	assert.Zero(t, stub.calls.Load())
	assert.False(t, c.Submitting())
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, MsgCheckInput, UserMessage(err))
}

func TestValidate_BadEmail(t *testing.T) {
	c := newController(t, &stubIntake{status: http.StatusOK}, time.Second)
	fill(c, "田中", "not-an-email", "hi")

	err := c.Validate()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.Fields.Has(validation.CodeEmail))
	assert.Equal(t, StateIdle, c.State(), "Validate has no side effects")
}

func TestSubmit_Timeout(t *testing.T) {
	stub := &stubIntake{status: http.StatusOK, body: `{"success":true}`, delay: 5 * time.Second}
	c := newController(t, stub, 50*time.Millisecond)
	fill(c, "田中", "tanaka@example.com", "hello")

	err := c.Submit(context.Background())
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 50*time.Millisecond, te.After)
	assert.False(t, c.Submitting())
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, MsgRetryLater, UserMessage(err))
	assert.Equal(t, "田中", c.Form().Name, "fields survive a failure")
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name   string
		stub   *stubIntake
		assert func(t *testing.T, err error)
	}{
		{
			name: "http error",
			stub: &stubIntake{status: http.StatusBadGateway, body: "bad gateway"},
			assert: func(t *testing.T, err error) {
				var he *HTTPError
				require.ErrorAs(t, err, &he)
				assert.Equal(t, http.StatusBadGateway, he.Status)
			},
		},
		{
			name: "unparseable body",
			stub: &stubIntake{status: http.StatusOK, body: "<html>moved</html>"},
			assert: func(t *testing.T, err error) {
				var pe *ResponseParseError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, "<html>moved</html>", pe.Body)
			},
		},
		{
			name: "application error",
			stub: &stubIntake{status: http.StatusOK, body: `{"success":false,"error":"必須項目が不足しています"}`},
			assert: func(t *testing.T, err error) {
				var ae *ApplicationError
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, "必須項目が不足しています", ae.Message)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(t, tt.stub, time.Second)
			fill(c, "田中", "tanaka@example.com", "hello")

			err := c.Submit(context.Background())
			tt.assert(t, err)
			assert.Equal(t, err, c.Err())
			assert.False(t, c.Submitting())
			assert.Equal(t, StateError, c.State())
			assert.Equal(t, MsgRetryLater, UserMessage(err))
		})
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c := New(common.KindContact, Config{Endpoint: endpoint, Timeout: time.Second})
	fill(c, "田中", "tanaka@example.com", "hello")
	err := c.Submit(context.Background())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.False(t, c.Submitting())
}

func TestTokenReusedUntilSuccess(t *testing.T) {
	stub := &stubIntake{status: http.StatusServiceUnavailable}
	c := newController(t, stub, time.Second)
	fill(c, "田中", "tanaka@example.com", "hello")

	require.Error(t, c.Submit(context.Background()))
	first := stub.lastForm().Get("idempotency_key")

	stub.respond(http.StatusOK, `{"success":true}`)
	require.NoError(t, c.Submit(context.Background()))
	assert.Equal(t, first, stub.lastForm().Get("idempotency_key"))

	fill(c, "田中", "tanaka@example.com", "again")
	require.NoError(t, c.Submit(context.Background()))
	assert.NotEqual(t, first, stub.lastForm().Get("idempotency_key"))
}

func TestSubmitRejectsReentry(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	c := newController(t, h, 5*time.Second)
	fill(c, "田中", "tanaka@example.com", "hello")

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background()) }()
	<-entered

	assert.True(t, c.Submitting())
	assert.Equal(t, StateSubmitting, c.State())
	assert.ErrorIs(t, c.Submit(context.Background()), ErrInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, c.Submitting())
}

func TestResetKeepsFields(t *testing.T) {
	c := newController(t, &stubIntake{status: http.StatusInternalServerError}, time.Second)
	fill(c, "田中", "tanaka@example.com", "hello")
	require.Error(t, c.Submit(context.Background()))

	c.Reset()
	assert.Equal(t, StateIdle, c.State())
	assert.NoError(t, c.Err())
	assert.Equal(t, "hello", c.Form().Message)
}

func TestSetRejectsForeignFields(t *testing.T) {
	c := New(common.KindContact, Config{Endpoint: "http://example.invalid"})
	assert.False(t, c.Set("period", "45期"))
	assert.False(t, c.Set("idempotency_key", "x"))
	assert.True(t, c.Set("phone", "090"))

	p := New(common.KindParticipation, Config{Endpoint: "http://example.invalid"})
	assert.Equal(t, common.AttendancePresent, p.Form().Attendance)
}

// slowOnce delays its first append, long enough for the client to give up.
type slowOnce struct {
	intake.Store
	delay time.Duration
	once  sync.Once
}

func (s *slowOnce) Append(ctx context.Context, row []interface{}) error {
	s.once.Do(func() { time.Sleep(s.delay) })
	return s.Store.Append(ctx, row)
}

// startIntake serves the real intake router for one form kind over a memory
// backend. wrap, when set, decorates the store.
func startIntake(t *testing.T, kind common.Kind, wrap func(intake.Store) intake.Store) (string, *sheets.MemoryBackend) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	backend := sheets.NewMemoryBackend()
	guard := idempotency.NewMemoryGuard(time.Hour, time.Minute)
	t.Cleanup(guard.Stop)

	schema := common.SchemaFor(kind)
	var store intake.Store = sheets.NewProvisioner(backend, sheets.NewMemoryIDStore(), sheets.ProvisionerConfig{
		IDKey: string(kind), Title: schema.Title, Header: schema.Header(),
	}, zap.NewNop())
	if wrap != nil {
		store = wrap(store)
	}
	queue := notify.NewMemoryQueue(10, notify.NewLogNotifier(zap.NewNop()), zap.NewNop())
	h := intake.NewHandler(intake.Config{
		Stores:     map[common.Kind]intake.Store{kind: store},
		Guard:      guard,
		Dispatcher: queue,
		Recipient:  "inbox@example.com",
	}, zap.NewNop())
	router, err := intake.NewRouter(h, intake.RouterConfig{MaxBodyBytes: 64 << 10}, zap.NewNop())
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL + "/" + string(kind), backend
}

func dataRows(backend *sheets.MemoryBackend) [][]interface{} {
	tables := backend.Tables()
	if len(tables) == 0 {
		return nil
	}
	rows := tables[0].Rows()
	if len(rows) < 2 {
		return nil
	}
	return rows[1:]
}

// Submitting through the real intake router covers the wire format end to end.
func TestSubmitAgainstIntake(t *testing.T) {
	endpoint, backend := startIntake(t, common.KindParticipation, nil)

	c := New(common.KindParticipation, Config{Endpoint: endpoint})
	c.Set("name", "佐藤")
	c.Set("period", "45期")
	c.Set("email", " s@example.jp")
	c.Set("attendance", common.AttendanceAbsent)
	require.NoError(t, c.Submit(context.Background()))

	rows := dataRows(backend)
	require.Len(t, rows, 1)
	assert.Equal(t, []interface{}{"佐藤", "45期", "s@example.jp", "", "欠席", ""}, rows[0][:6])

	c.Set("name", "")
	err := c.Submit(context.Background())
	assert.True(t, errors.As(err, new(*ValidationError)))
}

func TestSetRotatesTokenOnChange(t *testing.T) {
	stub := &stubIntake{status: http.StatusServiceUnavailable}
	c := newController(t, stub, time.Second)
	fill(c, "田中", "tanaka@example.com", "hello")

	require.Error(t, c.Submit(context.Background()))
	first := stub.lastForm().Get("idempotency_key")

	c.Set("message", "hello")
	require.Error(t, c.Submit(context.Background()))
	assert.Equal(t, first, stub.lastForm().Get("idempotency_key"), "same value keeps the token")

	c.Set("message", "hello again")
	require.Error(t, c.Submit(context.Background()))
	assert.NotEqual(t, first, stub.lastForm().Get("idempotency_key"), "edited content gets a new token")
}

// A request that times out on the client may still be persisted by the
// intake. Editing the form afterwards must send the corrected content as a
// new submission rather than replaying the first one.
func TestSubmit_EditAfterTimeoutIsPersisted(t *testing.T) {
	endpoint, backend := startIntake(t, common.KindContact, func(s intake.Store) intake.Store {
		return &slowOnce{Store: s, delay: 300 * time.Millisecond}
	})
	var tokens []string
	c := New(common.KindContact, Config{
		Endpoint: endpoint,
		Timeout:  100 * time.Millisecond,
		NewToken: func() string {
			tok := "tok-" + string(rune('a'+len(tokens)))
			tokens = append(tokens, tok)
			return tok
		},
	})
	fill(c, "田中", "tanaka@example.com", "first draft")

	err := c.Submit(context.Background())
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	require.Eventually(t, func() bool { return len(dataRows(backend)) == 1 }, 2*time.Second, 10*time.Millisecond)

	c.Set("message", "corrected message")
	require.NoError(t, c.Submit(context.Background()))

	assert.Equal(t, []string{"tok-a", "tok-b"}, tokens)
	rows := dataRows(backend)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0], "first draft")
	assert.Contains(t, rows[1], "corrected message")
}

func TestSubmit_TimeoutNamesCallerDeadline(t *testing.T) {
	stub := &stubIntake{status: http.StatusOK, body: `{"success":true}`, delay: 5 * time.Second}
	c := newController(t, stub, 10*time.Second)
	fill(c, "田中", "tanaka@example.com", "hello")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Submit(ctx)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.LessOrEqual(t, te.After, 50*time.Millisecond)
	assert.Greater(t, te.After, time.Duration(0))
}
