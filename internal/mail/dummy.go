package mail

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Dummy simulates a transport for development and tests: a little latency and
// an occasional temporary failure.
type Dummy struct{}

func NewDummy() *Dummy { return &Dummy{} }

func (d *Dummy) Send(ctx context.Context, e Email) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	if rand.Intn(100) < 3 { // ~3% failure
		return "", errors.New("transport_temporary_error")
	}
	return "dummy-" + randomID(), nil
}

func randomID() string {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = letters[r.Intn(len(letters))]
	}
	return string(b)
}
