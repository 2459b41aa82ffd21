package transport

// Metric names emitted through the configured go-metrics sink.
var (
	MetricFramesOut       = []string{"rcall", "transport", "frames", "out"}
	MetricFramesIn        = []string{"rcall", "transport", "frames", "in"}
	MetricBytesOut        = []string{"rcall", "transport", "bytes", "out"}
	MetricBytesIn         = []string{"rcall", "transport", "bytes", "in"}
	MetricFramingDrops    = []string{"rcall", "transport", "framing", "drops"}
	MetricAcksOut         = []string{"rcall", "transport", "acks", "out"}
	MetricAcksIn          = []string{"rcall", "transport", "acks", "in"}
	MetricRetries         = []string{"rcall", "transport", "retries"}
	MetricRetryExhausted  = []string{"rcall", "transport", "retry", "exhausted"}
	MetricPendingRecords  = []string{"rcall", "transport", "pending", "records"}
	MetricMonitorTimeouts = []string{"rcall", "transport", "monitor", "timeouts"}
)
