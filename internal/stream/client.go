// Package stream subscribes to transactions touching a set of accounts over
// a websocket transactionSubscribe feed.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"solana-copy-trader/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrSubscriptionRejected = errors.New("stream: subscription rejected")

const writeTimeout = 10 * time.Second

// Handler receives every decoded event. It runs on the read goroutine and
// must not block for long.
type Handler func(TransactionEvent)

// Client dials the feed. Each call to Run is one connection.
type Client struct {
	endpoint     string
	commitment   string
	pingInterval time.Duration
	pongWait     time.Duration
	logger       *zap.Logger
	dialer       websocket.Dialer
	requestID    atomic.Uint64
	now          func() time.Time
}

// NewClient creates a client for endpoint.
func NewClient(endpoint string, cfg models.StreamConfig, logger *zap.Logger) *Client {
	pongWait := models.Sec(cfg.PongTimeoutSec)
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	ping := models.Sec(cfg.PingIntervalSec)
	if ping <= 0 || ping >= pongWait {
		ping = pongWait * 9 / 10
	}
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = "processed"
	}
	return &Client{
		endpoint:     endpoint,
		commitment:   commitment,
		pingInterval: ping,
		pongWait:     pongWait,
		logger:       logger,
		dialer:       websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:          time.Now,
	}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type envelope struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Params *struct {
		Subscription uint64          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

func (c *Client) subscribeRequest(accounts []string) request {
	return request{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "transactionSubscribe",
		Params: []any{
			map[string]any{
				"failed":         false,
				"accountInclude": accounts,
			},
			map[string]any{
				"commitment":                     c.commitment,
				"encoding":                       "jsonParsed",
				"transactionDetails":             "full",
				"showRewards":                    false,
				"maxSupportedTransactionVersion": 0,
			},
		},
	}
}

// Run connects, subscribes for accounts and delivers events to handle until
// the connection fails or ctx ends. onReady fires once the subscription is
// confirmed. A nil error means ctx ended and the socket closed cleanly.
func (c *Client) Run(ctx context.Context, accounts []string, onReady func(), handle Handler) error {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(fn func() error) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(c.now().Add(writeTimeout))
		return fn()
	}

	sub := c.subscribeRequest(accounts)
	if err := write(func() error { return conn.WriteJSON(sub) }); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	_ = conn.SetReadDeadline(c.now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(c.now().Add(c.pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := write(func() error { return conn.WriteMessage(websocket.PingMessage, nil) }); err != nil {
					c.logger.Sugar().Warnf("Stream: ping failed: %v", err)
					return
				}
			case <-ctx.Done():
				_ = write(func() error {
					return conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				})
				_ = conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	subscribed := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		_ = conn.SetReadDeadline(c.now().Add(c.pongWait))

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Sugar().Debugf("Stream: undecodable frame: %v", err)
			continue
		}

		switch {
		case env.ID != nil && *env.ID == sub.ID:
			if env.Error != nil {
				return fmt.Errorf("%w: %d %s", ErrSubscriptionRejected, env.Error.Code, env.Error.Message)
			}
			if !subscribed {
				subscribed = true
				c.logger.Sugar().Infof("Stream: subscribed to %d account(s)", len(accounts))
				if onReady != nil {
					onReady()
				}
			}
		case env.Method == "transactionNotification" && env.Params != nil:
			var ev TransactionEvent
			if err := json.Unmarshal(env.Params.Result, &ev); err != nil {
				c.logger.Sugar().Debugf("Stream: bad notification: %v", err)
				continue
			}
			ev.ReceivedAt = c.now()
			if ev.Signature == "" && len(ev.Transaction.Transaction.Signatures) > 0 {
				ev.Signature = ev.Transaction.Transaction.Signatures[0]
			}
			handle(ev)
		}
	}
}
