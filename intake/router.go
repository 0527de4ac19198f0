package intake

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"alumni-forms/common"
	"alumni-forms/metrics"
)

type RouterConfig struct {
	AllowedOrigin   string
	AllowedNetworks []string
	TrustedProxies  []string
	MaxBodyBytes    int64
	// RateLimiter may be nil to disable rate limiting.
	RateLimiter *RateLimiter
	// MetricsHandler serves /metrics; nil uses the default registry.
	MetricsHandler http.Handler
}

// NewRouter wires the form endpoints and operational routes.
func NewRouter(h *Handler, cfg RouterConfig, log *zap.Logger) (*gin.Engine, error) {
	nets, err := ParseNetworks(cfg.AllowedNetworks)
	if err != nil {
		return nil, err
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = metrics.Handler(nil)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(RequestLogger(log), Recovery(log), SecurityHeaders(), CORS(cfg.AllowedOrigin))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))

	forms := r.Group("/", NetworkAllowList(nets))
	if cfg.RateLimiter != nil {
		forms.Use(cfg.RateLimiter.Middleware())
	}
	forms.Use(BodyLimit(cfg.MaxBodyBytes))
	for _, kind := range []common.Kind{common.KindContact, common.KindParticipation} {
		path := "/" + string(kind)
		forms.GET(path, h.Liveness(kind))
		forms.POST(path, h.Submit(kind))
	}
	return r, nil
}
