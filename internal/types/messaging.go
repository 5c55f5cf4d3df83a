package types

// SendInput defines the contract for email transmission. Content is rendered
// before it reaches a provider.
type SendInput struct {
	To          string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
}

// SenderIdentity defines the sender for outgoing emails.
type SenderIdentity struct {
	Name    string
	Address string
}

// TicketEmailMessage is the SQS payload consumed by the email worker. The
// API publishes one message per approved ticket after rendering.
type TicketEmailMessage struct {
	TicketID   int64  `json:"ticket_id"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	BodyHTML   string `json:"body_html"`
	BodyText   string `json:"body_text"`
	RequestID  string `json:"request_id,omitempty"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// EmailContent is a rendered email body in both formats.
type EmailContent struct {
	HTML string
	Text string
}
