package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ingeniumai/outreach/internal/instrumentation"
)

// DefaultInboxLimit bounds FetchInbox when no limit is given.
const DefaultInboxLimit = 25

// APITransport delivers through the Gmail REST API (users.messages.send)
// and reads the inbox through users.messages.list/get.
type APITransport struct {
	httpClient *http.Client
	apiOptions []option.ClientOption
	metrics    *instrumentation.Metrics
	now        func() time.Time
}

// APIOption configures an APITransport.
type APIOption func(*APITransport)

// WithAPIHTTPClient sets the base HTTP client under the bearer transport.
func WithAPIHTTPClient(hc *http.Client) APIOption {
	return func(t *APITransport) { t.httpClient = hc }
}

// WithServiceOptions appends options for the gmail/v1 service.
func WithServiceOptions(opts ...option.ClientOption) APIOption {
	return func(t *APITransport) { t.apiOptions = append(t.apiOptions, opts...) }
}

// WithAPIMetrics records Gmail API operations.
func WithAPIMetrics(m *instrumentation.Metrics) APIOption {
	return func(t *APITransport) { t.metrics = m }
}

// NewAPITransport creates a Gmail API transport.
func NewAPITransport(opts ...APIOption) *APITransport {
	t := &APITransport{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements Transport.
func (t *APITransport) Name() string {
	return instrumentation.TransportAPI
}

// Send implements Transport.
func (t *APITransport) Send(ctx context.Context, tok *oauth2.Token, env *Envelope) (Result, error) {
	raw, messageID, err := Compose(env, t.now())
	if err != nil {
		return Result{}, err
	}

	svc, err := t.service(ctx, tok)
	if err != nil {
		return Result{}, err
	}

	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: env.ThreadID,
	}

	start := time.Now()
	sent, err := svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	t.record(ctx, instrumentation.OperationSend, err, start)
	if err != nil {
		return Result{}, classifyAPIError("gmail send", err)
	}

	return Result{
		ExternalID:   sent.Id,
		ThreadID:     sent.ThreadId,
		RFCMessageID: messageID,
	}, nil
}

// FetchInbox returns up to limit of the newest INBOX messages, parsed from
// their raw form. Messages that fail to parse are skipped.
func (t *APITransport) FetchInbox(ctx context.Context, tok *oauth2.Token, limit int64) ([]*InboundMessage, error) {
	if limit <= 0 {
		limit = DefaultInboxLimit
	}

	svc, err := t.service(ctx, tok)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	list, err := svc.Users.Messages.List("me").LabelIds("INBOX").MaxResults(limit).Context(ctx).Do()
	t.record(ctx, instrumentation.OperationList, err, start)
	if err != nil {
		return nil, classifyAPIError("gmail list", err)
	}

	messages := make([]*InboundMessage, 0, len(list.Messages))
	for _, ref := range list.Messages {
		start := time.Now()
		full, err := svc.Users.Messages.Get("me", ref.Id).Format("raw").Context(ctx).Do()
		t.record(ctx, instrumentation.OperationGet, err, start)
		if err != nil {
			return nil, classifyAPIError("gmail get", err)
		}

		raw, err := decodeRaw(full.Raw)
		if err != nil {
			continue
		}
		parsed, err := ParseMessage(raw)
		if err != nil {
			continue
		}
		parsed.ExternalID = full.Id
		parsed.ThreadID = full.ThreadId
		parsed.Unread = hasLabel(full.LabelIds, "UNREAD")
		messages = append(messages, parsed)
	}
	return messages, nil
}

// service builds a gmail/v1 client that presents tok as a static bearer
// token. Expiry is dropped so a stale token is still sent as is.
func (t *APITransport) service(ctx context.Context, tok *oauth2.Token) (*gmail.Service, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, fmt.Errorf("gmail: %w: empty access token", ErrUnauthorized)
	}

	base := ctx
	if t.httpClient != nil {
		base = context.WithValue(ctx, oauth2.HTTPClient, t.httpClient)
	}
	bearer := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok.AccessToken, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(base, bearer))}, t.apiOptions...)

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

func (t *APITransport) record(ctx context.Context, operation string, err error, start time.Time) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	t.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, operation, status, time.Since(start))
}

// decodeRaw decodes Gmail's base64url raw field, padded or not.
func decodeRaw(raw string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode raw message: %w", err)
		}
	}
	return data, nil
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}
