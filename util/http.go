package util

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Adapts slog to retryablehttp's leveled logger. Request failures which are
// going to be retried are only warnings, and retry attempts are worth seeing
// at info.
type retryLogger struct {
	logger *slog.Logger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.logger.Warn(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{}) { l.logger.Warn(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{}) { l.logger.Info(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.logger.Info(msg, kv...) }

type HTTPClientOptions struct {
	Logger       *slog.Logger
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// overall timeout per request, including retries
	Timeout time.Duration
}

// Plain *http.Client which retries connection errors, 5xx responses (except
// 501) and 429s, honoring Retry-After.
func NewHTTPClient(opts HTTPClientOptions) *http.Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.Logger = retryablehttp.LeveledLogger(retryLogger{logger: logger.With("system", "http")})
	client := rc.StandardClient()
	client.Timeout = opts.Timeout
	return client
}

// Defaults used for the chat API and webhooks.
func RobustHTTPClient() *http.Client {
	return NewHTTPClient(HTTPClientOptions{
		RetryMax:     3,
		RetryWaitMin: 1 * time.Second,
		RetryWaitMax: 10 * time.Second,
		Timeout:      20 * time.Second,
	})
}
