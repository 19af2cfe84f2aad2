package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjects(t *testing.T) {
	r := Report{Stack: "Python", Versions: []string{"3.6", "3.7"}, Log: "done"}
	assert.Equal(t, "appsvcbuild has built new Python images", SuccessSubject(r))
	assert.Equal(t, "new Python images build 3.6, 3.7\ndone", SuccessBody(r))

	r.Versions = nil
	assert.Equal(t, "no new Python images", SuccessSubject(r))
	assert.Equal(t, "no new Python images\ndone", SuccessBody(r))

	f := Report{Stack: "Php", Version: "7.3", Failure: "build failed", Log: "log"}
	assert.Equal(t, "Php 7.3 appsvcbuild has failed", FailureSubject(f))
	assert.Equal(t, "build failed\nlog", FailureBody(f))
}

func TestMailer(t *testing.T) {
	var got mail.SGMailV3
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewMailer(srv.URL, "sg-key", "appsvcbuild@vyvo.dev", []string{"ops@vyvo.dev"}, nil)
	err := m.SendSuccess(context.Background(), Report{Stack: "Node", Versions: []string{"12.1"}})
	require.NoError(t, err)
	assert.Equal(t, "appsvcbuild has built new Node images", got.Subject)
	require.NotNil(t, got.From)
	assert.Equal(t, "appsvcbuild@vyvo.dev", got.From.Address)
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, []string{"ops@vyvo.dev"}, toAddresses(got.Personalizations[0]))
	require.Len(t, got.Content, 2)
	assert.Equal(t, "text/plain", got.Content[0].Type)
	assert.Contains(t, got.Content[0].Value, "12.1")

	got = mail.SGMailV3{}
	err = m.SendFailure(context.Background(), Report{Stack: "Node", Version: "12.1", Recipients: []string{"dev@vyvo.dev"}})
	require.NoError(t, err)
	assert.Equal(t, "Node 12.1 appsvcbuild has failed", got.Subject)
	assert.Equal(t, []string{"dev@vyvo.dev"}, toAddresses(got.Personalizations[0]))
}

func toAddresses(p *mail.Personalization) []string {
	var out []string
	for _, e := range p.To {
		out = append(out, e.Address)
	}
	return out
}

func TestMailerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewMailer(srv.URL, "bad", "a@b", []string{"c@d"}, nil)
	err := m.SendSuccess(context.Background(), Report{Stack: "Ruby"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestMailerKeyFunc(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewMailer(srv.URL, "", "a@b", []string{"c@d"}, nil)
	m.KeyFunc = func(context.Context) (string, error) { return "from-vault", nil }
	require.NoError(t, m.SendSuccess(context.Background(), Report{Stack: "Kudu"}))
	assert.Equal(t, "Bearer from-vault", auth)

	m.KeyFunc = func(context.Context) (string, error) { return "", errors.New("vault down") }
	err := m.SendSuccess(context.Background(), Report{Stack: "Kudu"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault down")
}

type recordingNotifier struct {
	success, failure int
	err              error
}

func (r *recordingNotifier) SendSuccess(context.Context, Report) error {
	r.success++
	return r.err
}

func (r *recordingNotifier) SendFailure(context.Context, Report) error {
	r.failure++
	return r.err
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recordingNotifier{}, &recordingNotifier{err: boom}
	m := Multi{a, nil, b}

	err := m.SendSuccess(context.Background(), Report{})
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, a.success)
	assert.Equal(t, 1, b.success)

	b.err = nil
	assert.NoError(t, m.SendFailure(context.Background(), Report{}))
	assert.Equal(t, 1, a.failure)
	assert.Equal(t, 1, b.failure)
}
