package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is prepended to the alert kind to form a subject.
const DefaultSubjectPrefix = "copytrader.alerts"

// LogSink writes alerts to the process logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, a Alert) error {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, a.Fields[k]))
	}

	msg := fmt.Sprintf("ALERT [%s] %s %s", a.Kind, a.Title, strings.Join(parts, " "))
	switch a.Kind {
	case KindError, KindInsufficientFunds, KindDataIntegrity:
		s.logger.Sugar().Warn(msg)
	default:
		s.logger.Sugar().Info(msg)
	}
	return nil
}

// NATSSink publishes alerts as JSON to <prefix>.<kind>.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSSink connects to url. The connection retries in the background so a
// missing broker does not stop the trader from starting.
func NewNATSSink(url, prefix string, logger *zap.Logger) (*NATSSink, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	opts := []nats.Option{
		nats.Name("solana-copy-trader"),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Sugar().Infof("Alert: NATS sink connected, url=%s prefix=%s", url, prefix)

	return &NATSSink{nc: nc, prefix: prefix, logger: logger}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject an alert of kind is published on.
func (s *NATSSink) Subject(kind Kind) string {
	return s.prefix + "." + string(kind)
}

func (s *NATSSink) Deliver(_ context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.nc.Publish(s.Subject(a.Kind), data); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Ready reports whether the connection is up.
func (s *NATSSink) Ready() bool {
	if s.nc == nil {
		return false
	}
	return s.nc.Status() == nats.CONNECTED
}

// Close drains and closes the connection. Safe to call more than once.
func (s *NATSSink) Close() error {
	if s.nc == nil || s.nc.Status() == nats.CLOSED {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return fmt.Errorf("failed to drain connection to NATS: %w", err)
	}
	s.nc.Close()
	s.logger.Sugar().Info("Alert: NATS connection closed")
	return nil
}
