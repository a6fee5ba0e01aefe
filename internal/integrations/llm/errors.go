package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"reviewclassifier/internal/retry"
)

// classifyError marks rate limits, server errors and network failures as
// transient. Everything else, including context cancellation, is terminal.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if retryableStatus(statusCode(err)) {
		return retry.MarkTransient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.MarkTransient(err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return retry.MarkTransient(err)
	}
	return err
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	return 0
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
