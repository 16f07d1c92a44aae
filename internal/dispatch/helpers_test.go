package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ingeniumai/outreach/internal/events"
	"github.com/ingeniumai/outreach/internal/gmail"
	"github.com/ingeniumai/outreach/internal/google"
	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/store"
	"github.com/ingeniumai/outreach/internal/store/sqlite"
)

// fakeTokens hands out a cached token and counts refreshes.
type fakeTokens struct {
	mu         sync.Mutex
	cached     string
	fresh      string
	accessErr  error
	refreshErr error
	refreshes  int
	// scopes holds the scope set of every AccessToken and Refresh call.
	scopes [][]string
}

func (f *fakeTokens) AccessToken(_ context.Context, user *models.User, anyOf ...string) (*oauth2.Token, error) {
	f.mu.Lock()
	f.scopes = append(f.scopes, anyOf)
	f.mu.Unlock()
	if f.accessErr != nil {
		return nil, f.accessErr
	}
	if user.RefreshToken == "" {
		return nil, google.ErrNoRefreshToken
	}
	return &oauth2.Token{AccessToken: f.cached}, nil
}

func (f *fakeTokens) Refresh(_ context.Context, user *models.User, anyOf ...string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	f.scopes = append(f.scopes, anyOf)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	user.AccessToken = f.fresh
	return &oauth2.Token{AccessToken: f.fresh}, nil
}

func (f *fakeTokens) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

// fakeTransport accepts only the tokens in valid. Any other token is
// rejected as unauthorized unless failWith is set.
type fakeTransport struct {
	mu        sync.Mutex
	valid     map[string]bool
	failWith  error
	tokens    []string
	envelopes []*gmail.Envelope
	result    gmail.Result
}

func newFakeTransport(valid ...string) *fakeTransport {
	t := &fakeTransport{valid: map[string]bool{}, result: gmail.Result{ExternalID: "gm-1", ThreadID: "thr-1"}}
	for _, v := range valid {
		t.valid[v] = true
	}
	return t
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Send(_ context.Context, tok *oauth2.Token, env *gmail.Envelope) (gmail.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens = append(t.tokens, tok.AccessToken)
	t.envelopes = append(t.envelopes, env)
	if t.failWith != nil {
		return gmail.Result{}, t.failWith
	}
	if !t.valid[tok.AccessToken] {
		return gmail.Result{}, fmt.Errorf("fake send: %w", gmail.ErrUnauthorized)
	}
	res := t.result
	res.RFCMessageID = env.MessageID
	return res, nil
}

// stallingTransport blocks every send until the context ends.
type stallingTransport struct{}

func (stallingTransport) Name() string { return "stalling" }

func (stallingTransport) Send(ctx context.Context, _ *oauth2.Token, _ *gmail.Envelope) (gmail.Result, error) {
	<-ctx.Done()
	return gmail.Result{}, fmt.Errorf("stalled send: %w", ctx.Err())
}

func (t *fakeTransport) calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.tokens...)
}

type fakeInbox struct {
	messages []*gmail.InboundMessage
	err      error
	tokens   []string
}

func (f *fakeInbox) FetchInbox(_ context.Context, tok *oauth2.Token, _ int64) ([]*gmail.InboundMessage, error) {
	f.tokens = append(f.tokens, tok.AccessToken)
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.MailEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.MailEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

// failingStore fails selected message writes.
type failingStore struct {
	*sqlite.Store
	failCreate   bool
	failMarkRead bool
}

var errStoreDown = errors.New("database unavailable")

func (f *failingStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if f.failCreate {
		return errStoreDown
	}
	return f.Store.CreateMessage(ctx, msg)
}

func (f *failingStore) MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	if f.failMarkRead {
		return false, errStoreDown
	}
	return f.Store.MarkRead(ctx, userID, id, at)
}

type fixture struct {
	store     *sqlite.Store
	tokens    *fakeTokens
	transport *fakeTransport
	events    *recordingPublisher
	user      *models.User
}

func newSQLite(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func seedUser(t *testing.T, s store.UserStore, refreshToken string) *models.User {
	t.Helper()
	u, err := s.UpsertGoogleUser(context.Background(), store.GoogleProfile{
		GoogleID: "g-1",
		Email:    "ada@startup.io",
		Name:     "Ada",
	}, models.Tokens{
		AccessToken:  "stale",
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(time.Hour),
		Scopes:       google.ScopeGmailSend,
	}, time.Now())
	require.NoError(t, err)
	return u
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := newSQLite(t)
	return &fixture{
		store:     s,
		tokens:    &fakeTokens{cached: "stale", fresh: "fresh"},
		transport: newFakeTransport("fresh"),
		events:    &recordingPublisher{},
		user:      seedUser(t, s, "refresh-1"),
	}
}

func (f *fixture) service(opts ...Option) *Service {
	base := []Option{WithEvents(f.events)}
	return New(f.store, f.store, f.tokens, f.transport, append(base, opts...)...)
}

func (f *fixture) sendRequest() SendRequest {
	return SendRequest{
		UserID:  f.user.ID,
		To:      "a@b.com",
		Subject: "Hi",
		Body:    "Hello there",
	}
}

func (f *fixture) messages(t *testing.T) []*models.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), models.MessageFilter{UserID: f.user.GoogleID})
	require.NoError(t, err)
	return msgs
}

// seedReceived stores a message the user received.
func (f *fixture) seedReceived(t *testing.T, id, conversation string) *models.Message {
	t.Helper()
	now := time.Now()
	msg := &models.Message{
		ID:             id,
		UserID:         f.user.GoogleID,
		Sender:         "Lead",
		SenderEmail:    "lead@acme.io",
		Recipient:      "Ada",
		RecipientEmail: "ada@startup.io",
		Subject:        "Quarterly Update",
		Content:        "How are the numbers?",
		Preview:        "How are the numbers?",
		ConversationID: conversation,
		MessageType:    models.TypeReceived,
		Status:         models.StatusDelivered,
		ThreadID:       "thr-parent",
		RFCMessageID:   "<parent@acme.io>",
		SentAt:         now,
		CreatedAt:      now,
	}
	require.NoError(t, f.store.CreateMessage(context.Background(), msg))
	return msg
}
