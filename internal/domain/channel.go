package domain

import "context"

// Publisher is the write side of the gateway's inbound queue. Adapters only
// ever publish; consuming is the router's job.
type Publisher interface {
	Publish(msg Message) error
}

// Channel is a transport adapter. One adapter instance serves one transport
// (Telegram bot, Discord bot). WebSocket clients are served directly by the
// gateway server and have no adapter.
type Channel interface {
	// Kind returns the transport this adapter serves.
	Kind() ChannelKind

	// Listen connects to the transport and publishes every normalized
	// inbound message to sink. It blocks until ctx is cancelled or the
	// connection fails fatally.
	Listen(ctx context.Context, sink Publisher) error

	// Send delivers a reply to the conversation named by msg.ChannelID.
	Send(ctx context.Context, msg Message) error

	// Healthy reports whether the adapter currently holds a live connection.
	Healthy() bool
}
