package model

// MessageEnvelope is the queue payload for asynchronous chat persistence.
// Citations carry chunk id and score only; the persist worker assigns the
// message id once the message row exists.
type MessageEnvelope struct {
	Message   Message    `json:"message"`
	Citations []Citation `json:"citations,omitempty"`
}
