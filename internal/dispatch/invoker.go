package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dharsanguruparan/vidconvert/internal/executor"
	"github.com/dharsanguruparan/vidconvert/internal/signing"
)

// InvocationError is returned when an executor answers with anything but 200.
type InvocationError struct {
	StatusCode int
	Body       string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("failed to invoke processor: %d", e.StatusCode)
}

// HTTPInvoker posts signed dispatch requests.
type HTTPInvoker struct {
	client *http.Client
	signer *signing.Signer
}

// NewHTTPInvoker builds an invoker with the given request timeout.
func NewHTTPInvoker(signer *signing.Signer, timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPInvoker{client: &http.Client{Timeout: timeout}, signer: signer}
}

// Invoke sends req to endpoint and expects HTTP 200.
func (h *HTTPInvoker) Invoke(ctx context.Context, endpoint string, req executor.Request) error {
	if endpoint == "" {
		return fmt.Errorf("failed to invoke processor: no endpoint configured")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal dispatch request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to invoke processor: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	h.signer.SignRequest(httpReq, req.JobID, body)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to invoke processor: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &InvocationError{StatusCode: resp.StatusCode, Body: string(msg)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
