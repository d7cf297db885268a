package authcore

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couponali/authcore/internal/audit"
	"github.com/couponali/authcore/internal/rate"
	"github.com/couponali/authcore/internal/stores"
	"github.com/couponali/authcore/jwt"
	"github.com/couponali/authcore/refresh"
	"github.com/couponali/authcore/session"
)

// Engine runs the token, OTP and rate limit lifecycle. It is built once by
// Builder and is safe for concurrent use.
type Engine struct {
	config Config
	redis  redis.UniversalClient

	tokens      refresh.Store
	limiter     *rate.Limiter
	otpStore    *stores.OTPStore
	resetStore  *stores.PasswordResetStore
	verifyStore *stores.EmailVerificationStore
	sessions    *session.Cache
	jwtManager  *jwt.Manager

	hasher   Hasher
	users    UserProvider
	notifier Notifier

	audit   *audit.Dispatcher
	metrics *Metrics
	logger  *slog.Logger
	clock   func() time.Time
	newOTP  func(digits int) (string, error)
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics returns the live metrics set for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// TokenStore returns the durable refresh record store in use.
func (e *Engine) TokenStore() refresh.Store {
	if e == nil {
		return nil
	}
	return e.tokens
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func (e *Engine) warn(msg string, args ...any) {
	if e == nil || e.logger == nil {
		return
	}
	e.logger.Warn(msg, args...)
}

// opContext bounds a single store round trip.
func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.config.OperationTimeout)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
