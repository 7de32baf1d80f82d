package mail_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/realtygenie/nurture-scheduler/internal/mail"
)

func TestMailgunSend(t *testing.T) {
	var gotForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/mg.example.com/messages", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "api", user)
		require.Equal(t, "key-123", pass)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"<msg-1@mg.example.com>","message":"Queued"}`))
	}))
	defer srv.Close()

	mg := mail.NewMailgun("key-123", "mg.example.com", "Genie <noreply@mg.example.com>")
	mg.BaseURL = srv.URL

	id, err := mg.Send(context.Background(), mail.Email{
		ToEmail: "dana@example.com",
		ToName:  "Dana",
		Subject: "Hi",
		Body:    "<p>hello</p>",
		Tags:    []string{"day_0", "campaign"},
	})
	require.NoError(t, err)
	require.Equal(t, "<msg-1@mg.example.com>", id)
	require.Equal(t, []string{"Dana <dana@example.com>"}, gotForm["to"])
	require.Equal(t, []string{"day_0", "campaign"}, gotForm["o:tag"])
}

func TestMailgunSendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Forbidden"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	mg := mail.NewMailgun("bad", "mg.example.com", "noreply@mg.example.com")
	mg.BaseURL = srv.URL

	_, err := mg.Send(context.Background(), mail.Email{ToEmail: "dana@example.com"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

type flakyTransport struct{ err error }

func (f *flakyTransport) Send(ctx context.Context, e mail.Email) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "ok", nil
}

func TestBreakerOpensAfterSustainedFailures(t *testing.T) {
	inner := &flakyTransport{err: errors.New("down")}
	b := mail.NewBreaker(inner, "test")

	for i := 0; i < 12; i++ {
		_, _ = b.Send(context.Background(), mail.Email{})
	}

	// Once open, the breaker fails fast without consulting the transport.
	inner.err = nil
	_, err := b.Send(context.Background(), mail.Email{})
	require.Error(t, err)
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	b := mail.NewBreaker(&flakyTransport{}, "test")
	id, err := b.Send(context.Background(), mail.Email{})
	require.NoError(t, err)
	require.Equal(t, "ok", id)
}
