// Package transport performs a single request/response exchange with the
// backend under a hard deadline.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Kind int

const (
	Success Kind = iota
	TransportError
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case TransportError:
		return "transport_error"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is exactly one of Success (with Payload), TransportError (with Err)
// or Timeout.
type Result struct {
	Kind    Kind
	Status  int
	Payload []byte
	Err     error
}

// Invoker issues one POST of a JSON body and waits at most timeout for it.
type Invoker interface {
	Invoke(ctx context.Context, endpoint string, body []byte, timeout time.Duration) Result
}

type HTTPInvoker struct {
	Client *http.Client
}

func NewHTTPInvoker() *HTTPInvoker {
	return &HTTPInvoker{Client: &http.Client{}}
}

// Invoke never returns more than one outcome: once the deadline fires the
// request is aborted and whatever the exchange produces later is dropped.
func (i *HTTPInvoker) Invoke(ctx context.Context, endpoint string, body []byte, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() { done <- i.do(ctx, endpoint, body) }()

	select {
	case r := <-done:
		if r.Kind == TransportError && ctx.Err() != nil {
			return Result{Kind: Timeout, Err: ctx.Err()}
		}
		return r
	case <-ctx.Done():
		return Result{Kind: Timeout, Err: ctx.Err()}
	}
}

func (i *HTTPInvoker) do(ctx context.Context, endpoint string, body []byte) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Kind: TransportError, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("content-type", "application/json")

	client := i.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Kind: TransportError, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Result{Kind: Timeout, Err: err}
		}
		return Result{Kind: TransportError, Err: fmt.Errorf("read body: %w", err)}
	}
	return Result{Kind: Success, Status: resp.StatusCode, Payload: payload}
}
