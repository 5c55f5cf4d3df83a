package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	MetricTicketEmailDelivery = "TicketEmailDelivery"
	MetricTicketEmailLatency  = "TicketEmailLatency"
	MetricQueueLag            = "TicketEmailQueueLag"

	DimResult   = "Result"
	DimProvider = "Provider"

	MetricNamespace = "Ticketing"
)
