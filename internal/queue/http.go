package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/iago/gasometria-back/internal/domain"
	"go.uber.org/zap"
)

// InternalTokenHeader authenticates calls to the internal background endpoint.
const InternalTokenHeader = "X-Internal-Token"

type HTTPDispatcherConfig struct {
	URL           string
	InternalToken string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// HTTPDispatcher triggers the background endpoint with {"jobId": ...} and
// does not wait for the outcome. A lost trigger leaves the job processing
// until the reconciliation sweep fails it.
type HTTPDispatcher struct {
	url        string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	inflight sync.WaitGroup
}

func NewHTTPDispatcher(cfg HTTPDispatcherConfig) (*HTTPDispatcher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("background url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &HTTPDispatcher{
		url:        strings.TrimSpace(cfg.URL),
		token:      strings.TrimSpace(cfg.InternalToken),
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

func (d *HTTPDispatcher) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	payload, err := json.Marshal(map[string]string{"jobId": message.JobID})
	if err != nil {
		return fmt.Errorf("encode dispatch payload: %w", err)
	}

	detached := context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		if err := d.post(detached, payload); err != nil {
			d.logger.Warn("background dispatch failed",
				zap.String("job_id", message.JobID),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// Wait blocks until in-flight dispatches finish.
func (d *HTTPDispatcher) Wait() {
	d.inflight.Wait()
}

func (d *HTTPDispatcher) post(ctx context.Context, payload []byte) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create dispatch request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		request.Header.Set(InternalTokenHeader, d.token)
	}

	response, err := d.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("dispatch transport error: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("dispatch rejected with status %d", response.StatusCode)
	}
	return nil
}
