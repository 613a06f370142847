package registry

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricOpCount          = []string{"arena", "registry", "op", "count"}
	MetricOpDurationMs     = []string{"arena", "registry", "op", "duration", "ms"}
	MetricOpRestoredCount  = []string{"arena", "registry", "op", "restored", "count"}
	MetricConnEstCount     = []string{"arena", "registry", "connection", "established", "count"}
	MetricConnErrorCount   = []string{"arena", "registry", "connection", "error", "count"}
	MetricWatchEventsCount = []string{"arena", "registry", "watch", "events", "count"}
	MetricSpacesGauge      = []string{"arena", "registry", "spaces"}
)

// TelemetryLabel names an attribute shared by logs and metrics.
type TelemetryLabel string

var (
	LabelSpace    TelemetryLabel = "space"
	LabelOp       TelemetryLabel = "op"
	LabelStatus   TelemetryLabel = "status"
	LabelError    TelemetryLabel = "error"
	LabelConnID   TelemetryLabel = "conn_id"
	LabelPeerAddr TelemetryLabel = "peer_addr"
	LabelGate     TelemetryLabel = "gate"
)

// M builds a metric label.
func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// L builds a log attribute.
func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
