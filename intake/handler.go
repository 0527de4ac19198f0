// Package intake is the HTTP side of the form pipeline: it decodes a
// submission, re-validates it, appends it to the store for its form kind and
// queues the notification mail. Business outcomes are always answered with
// HTTP 200 and a common.Envelope.
package intake

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"alumni-forms/common"
	"alumni-forms/idempotency"
	"alumni-forms/metrics"
	"alumni-forms/notify"
	"alumni-forms/validation"
)

// TimestampLayout is how the server timestamp is written to rows and mails.
const TimestampLayout = "2006/01/02 15:04:05"

const (
	MsgAccepted        = "送信が完了しました。"
	MsgMissingFields   = "必須項目が不足しています"
	MsgInvalidEmail    = "メールアドレスの形式が正しくありません"
	MsgInvalidAttend   = "出欠の値が正しくありません"
	MsgInProgress      = "同じ内容を処理中です。しばらくしてから再度お試しください。"
	MsgInternalFailure = "送信処理中にエラーが発生しました。時間をおいて再度お試しください。"
)

// Store appends rows for one form kind.
type Store interface {
	Append(ctx context.Context, row []interface{}) error
}

// Journal records every decoded submission.
type Journal interface {
	Log(kind string, data interface{}) error
}

type Config struct {
	Stores     map[common.Kind]Store
	Guard      idempotency.Guard
	Dispatcher notify.Dispatcher
	// Journal is optional.
	Journal   Journal
	Recipient string
	Location  *time.Location
	// PersistTimeout bounds one append; zero means no extra bound.
	PersistTimeout time.Duration
	Now            func() time.Time
}

type Handler struct {
	cfg Config
	log *zap.Logger
}

func NewHandler(cfg Config, log *zap.Logger) *Handler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{cfg: cfg, log: log}
}

// Liveness answers GET on a form path.
func (h *Handler) Liveness(kind common.Kind) gin.HandlerFunc {
	text := common.SchemaFor(kind).FormName + " - intake is running!"
	return func(c *gin.Context) {
		c.String(http.StatusOK, text)
	}
}

// Submit handles POST on a form path.
func (h *Handler) Submit(kind common.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, h.process(c.Request.Context(), kind, c.Request))
	}
}

func (h *Handler) process(ctx context.Context, kind common.Kind, r *http.Request) common.Envelope {
	log := h.log.With(zap.String("kind", string(kind)))

	payload, failure := Decode(r)
	if failure != nil {
		log.Warn("no submission data in request", zap.Any("debug", failure.Debug))
		metrics.RecordSubmission(string(kind), metrics.OutcomeNoData)
		return common.Envelope{Success: false, Error: failure.Message, Debug: failure.Debug}
	}
	if payload.ParseError != nil {
		log.Warn("unable to parse JSON body", zap.Error(payload.ParseError))
	}

	sub := common.FromValues(kind, payload.Get)
	sub.ID = uuid.NewString()
	sub.Status = common.StatusReceived
	common.Normalize(&sub)
	log = log.With(zap.String("submission_id", sub.ID), zap.String("encoding", payload.Encoding.String()))

	if h.cfg.Journal != nil {
		if err := h.cfg.Journal.Log(string(kind), sub); err != nil {
			log.Error("failed to journal submission", zap.Error(err))
		}
	}

	if err := validation.Validate(sub); err != nil {
		log.Info("submission rejected", zap.Error(err))
		metrics.RecordSubmission(string(kind), metrics.OutcomeInvalid)
		return rejection(err)
	}

	if sub.IdempotencyKey != "" {
		status, err := h.cfg.Guard.Claim(ctx, sub.IdempotencyKey)
		if err != nil {
			log.Error("idempotency claim failed", zap.Error(err))
			metrics.RecordSubmission(string(kind), metrics.OutcomeFailed)
			return common.Envelope{Success: false, Error: MsgInternalFailure}
		}
		switch status {
		case idempotency.StatusCompleted:
			log.Info("duplicate submission", zap.String("idempotency_key", sub.IdempotencyKey))
			metrics.RecordSubmission(string(kind), metrics.OutcomeDuplicate)
			return common.Envelope{Success: true, Message: MsgAccepted}
		case idempotency.StatusPending:
			metrics.RecordSubmission(string(kind), metrics.OutcomeInProgress)
			return common.Envelope{Success: false, Error: MsgInProgress}
		}
	}

	now := h.cfg.Now()
	sub.CreationDate = now
	stamp := now.In(h.cfg.Location).Format(TimestampLayout)
	schema := common.SchemaFor(kind)

	if err := h.persist(ctx, schema, sub, stamp); err != nil {
		log.Error("failed to persist submission", zap.Error(err))
		if sub.IdempotencyKey != "" {
			if rerr := h.cfg.Guard.Release(context.WithoutCancel(ctx), sub.IdempotencyKey); rerr != nil {
				log.Error("failed to release idempotency key", zap.Error(rerr))
			}
		}
		metrics.RecordSubmission(string(kind), metrics.OutcomeFailed)
		return common.Envelope{Success: false, Error: MsgInternalFailure}
	}
	sub.Status = common.StatusPersisted
	if sub.IdempotencyKey != "" {
		if err := h.cfg.Guard.Complete(context.WithoutCancel(ctx), sub.IdempotencyKey); err != nil {
			log.Error("failed to complete idempotency key", zap.Error(err))
		}
	}
	metrics.RecordSubmission(string(kind), metrics.OutcomeAccepted)
	log.Info("submission accepted")

	h.notify(ctx, log, schema, sub, stamp)
	return common.Envelope{Success: true, Message: MsgAccepted}
}

func (h *Handler) persist(ctx context.Context, schema common.Schema, sub common.FormSubmission, stamp string) error {
	store, ok := h.cfg.Stores[schema.Kind]
	if !ok {
		return errors.New("no store configured for " + string(schema.Kind))
	}
	ctx = context.WithoutCancel(ctx)
	if h.cfg.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.PersistTimeout)
		defer cancel()
	}
	start := time.Now()
	err := store.Append(ctx, schema.Row(sub, stamp))
	metrics.ObservePersist(string(schema.Kind), time.Since(start))
	return err
}

// notify never fails the request: the row is already persisted.
func (h *Handler) notify(ctx context.Context, log *zap.Logger, schema common.Schema, sub common.FormSubmission, stamp string) {
	n, err := notify.Compose(schema, sub, stamp, h.cfg.Recipient)
	if err != nil {
		log.Error("failed to compose notification", zap.Error(err))
		metrics.RecordNotification(metrics.NotificationDropped)
		return
	}
	if err := h.cfg.Dispatcher.Dispatch(context.WithoutCancel(ctx), n); err != nil {
		log.Error("failed to dispatch notification", zap.Error(err))
		metrics.RecordNotification(metrics.NotificationDropped)
	}
}

// rejection maps validation failures to the messages shown to the submitter.
// Missing fields take precedence over format errors.
func rejection(err error) common.Envelope {
	var fe validation.FieldErrors
	if !errors.As(err, &fe) {
		return common.Envelope{Success: false, Error: MsgMissingFields}
	}
	switch {
	case fe.Has(validation.CodeRequired):
		return common.Envelope{Success: false, Error: MsgMissingFields, Fields: fe.Fields(validation.CodeRequired)}
	case fe.Has(validation.CodeEmail):
		return common.Envelope{Success: false, Error: MsgInvalidEmail, Fields: fe.Fields(validation.CodeEmail)}
	default:
		return common.Envelope{Success: false, Error: MsgInvalidAttend, Fields: fe.Fields(validation.CodeOneOf)}
	}
}
