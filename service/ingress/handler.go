package ingress

import "context"

// Message is one delivery from any source.
type Message struct {
	Source  string // "nats" or "kafka"
	Subject string // NATS subject or Kafka topic
	Key     []byte
	Data    []byte
	Header  map[string]string
}

type Handler func(ctx context.Context, msg Message) error

// Middleware wraps a Handler for logging, dedup and the like.
type Middleware func(Handler) Handler

// Chain applies mws so the first one runs outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
