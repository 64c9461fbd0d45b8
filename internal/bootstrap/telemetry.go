package bootstrap

import (
	"github.com/AccelByte/extend-vpn-recommendation/pkg/metrics"
	"github.com/AccelByte/extend-vpn-recommendation/pkg/telemetry"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// InitTelemetrySink builds the default sink: a JSON log line, a Redis stream
// entry and a Prometheus count per record.
func InitTelemetrySink(client redis.UniversalClient, m *metrics.Metrics) telemetry.Sink {
	sinks := telemetry.Tee{
		telemetry.NewLogSink(logrus.NewEntry(logrus.StandardLogger())),
		telemetry.NewCounterSink(m.TelemetryEvents),
	}
	if client != nil {
		sinks = append(sinks, telemetry.NewStreamSink(client, telemetry.DefaultStream))
	}

	logrus.Infof("configured %d telemetry sinks", len(sinks))
	return sinks
}
