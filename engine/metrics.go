package engine

// Metric names emitted through the configured go-metrics sink.
var (
	MetricDispatched   = []string{"rcall", "engine", "dispatched"}
	MetricDelivered    = []string{"rcall", "engine", "delivered"}
	MetricUnknownDest  = []string{"rcall", "engine", "unknown", "dest"}
	MetricAckDropped   = []string{"rcall", "engine", "ack", "dropped"}
	MetricMarshalDrops = []string{"rcall", "engine", "marshal", "drops"}
)
