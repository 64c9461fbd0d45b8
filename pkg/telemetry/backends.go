package telemetry

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// LogSink writes every record as a structured log line.
type LogSink struct {
	logger *logrus.Entry
}

func NewLogSink(logger *logrus.Entry) *LogSink {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogSink{logger: logger.WithField("component", "telemetry")}
}

func (s *LogSink) Record(event map[string]string) {
	fields := make(logrus.Fields, len(event))
	for k, v := range event {
		fields[k] = v
	}
	s.logger.WithFields(fields).Info("telemetry event")
}

const (
	DefaultStream       = "vpn_recommendation:telemetry"
	defaultStreamMaxLen = 10000
	streamWriteTimeout  = 2 * time.Second
)

// StreamSink appends records to a capped Redis stream.
type StreamSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewStreamSink(client redis.UniversalClient, stream string) *StreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamSink{
		client: client,
		stream: stream,
		maxLen: defaultStreamMaxLen,
	}
}

func (s *StreamSink) Record(event map[string]string) {
	values := make(map[string]interface{}, len(event))
	for k, v := range event {
		values[k] = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamWriteTimeout)
	defer cancel()

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		logrus.Warnf("failed to append telemetry to stream %s: %v", s.stream, err)
	}
}

// CounterSink counts records by event name.
type CounterSink struct {
	counter *prometheus.CounterVec
}

// NewCounterSink wraps a counter vector with "event" and "message_type"
// labels.
func NewCounterSink(counter *prometheus.CounterVec) *CounterSink {
	return &CounterSink{counter: counter}
}

func (s *CounterSink) Record(event map[string]string) {
	s.counter.WithLabelValues(event[FieldEvent], event[FieldMessageType]).Inc()
}
