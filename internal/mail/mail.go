// Package mail wraps the outbound email transports. The dispatcher depends
// only on the Transport interface; concrete implementations cover the Mailgun
// HTTP API, plain SMTP, and a development dummy.
package mail

import "context"

// Email is one outbound message.
type Email struct {
	ToEmail string
	ToName  string
	Subject string
	Body    string
	Tags    []string
}

// Transport attempts delivery of one email and reports the provider message
// id. Any error means the attempt failed; the caller decides about retries.
type Transport interface {
	Send(ctx context.Context, e Email) (messageID string, err error)
}
