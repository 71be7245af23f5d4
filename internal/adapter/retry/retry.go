// Package retry runs backend calls with bounded exponential backoff and maps
// their failures onto domain error kinds.
package retry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"nexqa/config"
	"nexqa/internal/domain"
)

// Policy bounds the number of attempts and the backoff between them.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// PolicyFrom reads the policy from the generation settings.
func PolicyFrom(cfg config.GenerationConfig) Policy {
	return Policy{
		Attempts: cfg.MaxAttempts,
		Base:     cfg.BackoffBase.Std(),
		Max:      cfg.BackoffMax.Std(),
	}
}

// Once is a policy with a single attempt.
var Once = Policy{Attempts: 1}

// StatusError is an unexpected HTTP status returned by a backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.Code, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// CheckStatus returns a *StatusError for any non-2xx response.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}

// IsTransient reports whether err is a failure a later attempt may not hit:
// refused or reset connections, timeouts, truncated responses and 429/5xx
// statuses. Configuration errors such as a malformed URL, an unknown host or
// a rejected certificate are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	if isCertificateError(err) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return !dnsErr.IsNotFound && (dnsErr.IsTimeout || dnsErr.IsTemporary)
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isCertificateError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalid          x509.CertificateInvalidError
		hostname         x509.HostnameError
		verification     *tls.CertificateVerificationError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &invalid) ||
		errors.As(err, &hostname) ||
		errors.As(err, &verification)
}

// Do calls fn until it succeeds, fails with a non-transient error, the
// attempts run out, or ctx ends.
func Do(ctx context.Context, p Policy, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	maxDelay := p.Max
	if maxDelay < base {
		maxDelay = base
	}

	return retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(base),
		retry.MaxDelay(maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			if logger != nil {
				logger.Warn("retrying backend call",
					zap.String("op", op),
					zap.Uint("attempt", n+1),
					zap.Error(err))
			}
		}),
	)
}

// Classify converts a backend failure into a domain error. Deadline expiry
// becomes timeoutKind; everything else is ProviderUnavailable.
func Classify(ctx context.Context, op string, timeoutKind domain.Kind, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.Error{Kind: timeoutKind, Op: op, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &domain.Error{Kind: timeoutKind, Op: op, Err: err}
	}
	return &domain.Error{Kind: domain.KindProviderUnavailable, Op: op, Err: err}
}
