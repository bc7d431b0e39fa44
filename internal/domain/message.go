package domain

// MessageKind discriminates inbound WhatsApp messages.
type MessageKind string

const (
	MessageText        MessageKind = "text"
	MessageAudio       MessageKind = "audio"
	MessageUnsupported MessageKind = "unsupported"
)

// InboundMessage is the first message of a webhook event, reduced to what
// the relay acts on.
type InboundMessage struct {
	WaID    string
	Name    string
	Kind    MessageKind
	Type    string // raw provider type, kept for logs
	Body    string
	MediaID string
}

// DeliveryStatus classifies the outcome of an outbound send.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryTimeout DeliveryStatus = "timeout"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryResult is returned by the outbound adapter instead of an error.
type DeliveryResult struct {
	Status     DeliveryStatus
	HTTPStatus int
	MessageID  string
	Err        error
}

// OK reports whether the provider accepted the message.
func (d DeliveryResult) OK() bool {
	return d.Status == DeliverySent
}
