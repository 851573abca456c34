package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/pdftools/backend/internal/logging"
	"github.com/pdftools/backend/internal/models"
)

// ErrCollectorRejected is returned for 4xx responses, which are not retried.
var ErrCollectorRejected = errors.New("collector rejected batch")

// ErrQueueFull is returned by Write when the delivery queue is saturated.
var ErrQueueFull = errors.New("analytics queue full")

// CollectorConfig configures delivery to a remote measurement endpoint.
type CollectorConfig struct {
	Endpoint                string
	MeasurementID           string
	APISecret               string
	QueueSize               int
	BatchSize               int
	FlushInterval           time.Duration
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultCollectorConfig returns defaults for endpoint delivery.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		QueueSize:               512,
		BatchSize:               20,
		FlushInterval:           5 * time.Second,
		Timeout:                 10 * time.Second,
		MaxRetries:              3,
		RetryDelay:              500 * time.Millisecond,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

type collectorPayload struct {
	ClientID string           `json:"client_id"`
	Events   []collectorEvent `json:"events"`
}

type collectorEvent struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

// Collector forwards events to an HTTP endpoint from a background worker.
// Write only enqueues.
type Collector struct {
	cfg     CollectorConfig
	client  *http.Client
	breaker circuitbreaker.CircuitBreaker[struct{}]
	retrier retry.Retry[struct{}]
	logger  *bolt.Logger

	queue   chan models.Event
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	sent    atomic.Int64
	dropped atomic.Int64
}

// NewCollector starts a collector worker.
func NewCollector(cfg CollectorConfig, logger *bolt.Logger) (*Collector, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("collector endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid collector endpoint: %w", err)
	}

	def := DefaultCollectorConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = def.CircuitBreakerThreshold
	}
	if cfg.CircuitBreakerTimeout <= 0 {
		cfg.CircuitBreakerTimeout = def.CircuitBreakerTimeout
	}
	threshold := cfg.CircuitBreakerThreshold

	c := &Collector{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.New[struct{}](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    cfg.CircuitBreakerTimeout,
			Timeout:     cfg.CircuitBreakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- positive, checked above
			},
		}),
		retrier: retry.New[struct{}](retry.Config{
			MaxAttempts:        cfg.MaxRetries,
			InitialDelay:       cfg.RetryDelay,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         2.0,
			NonRetryableErrors: []error{ErrCollectorRejected},
		}),
		logger: logging.OrDefault(logger),
		queue:  make(chan models.Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}

	c.wg.Add(1)
	go c.run()
	return c, nil
}

// Write implements Sink. It never blocks.
func (c *Collector) Write(_ context.Context, ev models.Event) error {
	select {
	case <-c.done:
		return nil
	default:
	}

	select {
	case c.queue <- ev:
		return nil
	default:
		c.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close drains the queue with a final delivery attempt and stops the worker.
func (c *Collector) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
	return nil
}

// BreakerState reports the circuit breaker state for health output.
func (c *Collector) BreakerState() string {
	return c.breaker.State().String()
}

// Sent returns the number of delivered events.
func (c *Collector) Sent() int64 { return c.sent.Load() }

// Dropped returns the number of events discarded because of a full queue or failed delivery.
func (c *Collector) Dropped() int64 { return c.dropped.Load() }

func (c *Collector) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]models.Event, 0, c.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.deliver(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-c.queue:
			batch = append(batch, ev)
			if len(batch) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.done:
			for {
				select {
				case ev := <-c.queue:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliver groups the batch by client and posts each group.
func (c *Collector) deliver(batch []models.Event) {
	groups := make(map[string][]collectorEvent)
	var order []string
	for _, ev := range batch {
		if _, ok := groups[ev.ClientID]; !ok {
			order = append(order, ev.ClientID)
		}
		groups[ev.ClientID] = append(groups[ev.ClientID], collectorEvent{Name: ev.Name, Params: ev.Params})
	}

	for _, clientID := range order {
		events := groups[clientID]
		if clientID == "" {
			clientID = "anonymous"
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout*time.Duration(c.cfg.MaxRetries))
		err := c.post(ctx, collectorPayload{ClientID: clientID, Events: events})
		cancel()
		if err != nil {
			c.dropped.Add(int64(len(events)))
			logging.With(c.logger.Warn(), logging.Component("analytics"), logging.ErrorField(err)).
				Int("events", len(events)).
				Str("breaker", c.BreakerState()).
				Msg("analytics delivery failed")
			continue
		}
		c.sent.Add(int64(len(events)))
	}
}

func (c *Collector) post(ctx context.Context, payload collectorPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize events: %w", err)
	}

	target, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return err
	}
	q := target.Query()
	if c.cfg.MeasurementID != "" {
		q.Set("measurement_id", c.cfg.MeasurementID)
	}
	if c.cfg.APISecret != "" {
		q.Set("api_secret", c.cfg.APISecret)
	}
	target.RawQuery = q.Encode()

	_, err = c.breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return c.retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
			if err != nil {
				return struct{}{}, fmt.Errorf("%w: %v", ErrCollectorRejected, err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.client.Do(req)
			if err != nil {
				return struct{}{}, err
			}
			defer resp.Body.Close()
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return struct{}{}, nil
			case resp.StatusCode >= 500:
				return struct{}{}, fmt.Errorf("collector error %d: %s", resp.StatusCode, string(msg))
			default:
				return struct{}{}, fmt.Errorf("%w: status %d: %s", ErrCollectorRejected, resp.StatusCode, string(msg))
			}
		})
	})
	return err
}
