package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"power-agent/internal/domain"
)

var (
	ErrCircuitOpen = errors.New("notify circuit open")
	ErrStatus      = errors.New("notify non-2xx")
)

type Config struct {
	URL           string
	Timeout       time.Duration
	FailThreshold int32
	OpenDuration  time.Duration
}

type Alert struct {
	Device  string      `json:"device"`
	Mode    domain.Mode `json:"mode"`
	Battery int         `json:"battery"`
	Text    string      `json:"text"`
	TS      int64       `json:"ts"`
}

// Client posts alerts to a webhook. After FailThreshold consecutive failures
// it stops calling out for OpenDuration.
type Client struct {
	url  string
	http *http.Client
	l    *slog.Logger

	failThreshold int32
	openDuration  time.Duration
	failCnt       int32
	openUntilUnix int64
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 5
	}
	return &Client{
		url:           cfg.URL,
		http:          &http.Client{Timeout: cfg.Timeout},
		l:             logger,
		failThreshold: cfg.FailThreshold,
		openDuration:  cfg.OpenDuration,
	}
}

func (c *Client) isOpen() bool {
	return atomic.LoadInt64(&c.openUntilUnix) > time.Now().Unix()
}

func (c *Client) onOK() {
	atomic.StoreInt32(&c.failCnt, 0)
	atomic.StoreInt64(&c.openUntilUnix, 0)
}

func (c *Client) onFail() {
	n := atomic.AddInt32(&c.failCnt, 1)
	if n >= c.failThreshold {
		atomic.StoreInt64(&c.openUntilUnix, time.Now().Add(c.openDuration).Unix())
		c.l.Warn("notify circuit opened", "failures", n, "for", c.openDuration)
	}
}

func (c *Client) Notify(ctx context.Context, a Alert) error {
	if c.isOpen() {
		return ErrCircuitOpen
	}

	b, err := json.Marshal(a)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		c.onFail()
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.onFail()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		c.onFail()
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	c.onOK()
	return nil
}
