package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	domainErrors "github.com/cassiomorais/booking-payments/internal/domain/errors"
	"github.com/cassiomorais/booking-payments/internal/domain/payment"
	"github.com/cassiomorais/booking-payments/pkg/retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 1 << 20

// NewHTTPClient builds the client shared by the HTTP adapters. Requests are
// traced, bounded by timeout, and stop after maxRedirects hops.
func NewHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// send performs req and returns status and body. A call that never produced
// an HTTP response is translated to a ProviderError here.
func send(client *http.Client, req *http.Request, provider payment.Provider, op string) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, transportError(provider, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, transportError(provider, op, err)
	}
	return resp.StatusCode, body, nil
}

func transportError(provider payment.Provider, op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domainErrors.NewProviderError(string(provider), op, 0, err.Error(),
			fmt.Errorf("%w: %w", domainErrors.ErrProviderTimeout, err))
	}
	return domainErrors.NewProviderError(string(provider), op, 0, err.Error(),
		fmt.Errorf("%w: %w", domainErrors.ErrProviderUnavailable, err))
}

// statusError translates a non-2xx answer. 4xx means the provider refused
// the request; anything else means it could not serve it.
func statusError(provider payment.Provider, op string, status int, message string) error {
	sentinel := domainErrors.ErrProviderUnavailable
	if status >= 400 && status < 500 {
		sentinel = domainErrors.ErrProviderRejected
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return domainErrors.NewProviderError(string(provider), op, status, message, sentinel)
}

func malformed(provider payment.Provider, op, message string) error {
	return domainErrors.NewProviderError(string(provider), op, 0, message, domainErrors.ErrProviderResponse)
}

// retryableRead reports whether a failed idempotent read may be repeated.
func retryableRead(err error) bool {
	var pe *domainErrors.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return errors.Is(err, domainErrors.ErrProviderUnavailable) || errors.Is(err, domainErrors.ErrProviderTimeout)
}

func readRetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.RetryIf = retryableRead
	return cfg
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}
