package gmail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"golang.org/x/oauth2"

	"github.com/ingeniumai/outreach/internal/instrumentation"
)

// DefaultSMTPAddr is Gmail's submission endpoint.
const DefaultSMTPAddr = "smtp.gmail.com:587"

// SMTP connection security modes.
const (
	SecurityStartTLS = "starttls"
	SecurityTLS      = "tls"
	SecurityNone     = "none"
)

// SMTPTransport submits mail to Gmail's SMTP relay, authenticating with the
// user's access token through SASL OAUTHBEARER.
type SMTPTransport struct {
	addr        string
	security    string
	tlsConfig   *tls.Config
	dialTimeout time.Duration
	sendTimeout time.Duration
	metrics     *instrumentation.Metrics
	now         func() time.Time
}

// SMTPOption configures an SMTPTransport.
type SMTPOption func(*SMTPTransport)

// WithSMTPAddr sets the host:port to submit to.
func WithSMTPAddr(addr string) SMTPOption {
	return func(t *SMTPTransport) { t.addr = addr }
}

// WithSecurity selects SecurityStartTLS, SecurityTLS or SecurityNone.
func WithSecurity(mode string) SMTPOption {
	return func(t *SMTPTransport) { t.security = mode }
}

// WithTLSConfig sets the TLS client configuration.
func WithTLSConfig(cfg *tls.Config) SMTPOption {
	return func(t *SMTPTransport) { t.tlsConfig = cfg }
}

// WithDialTimeout bounds connection setup.
func WithDialTimeout(d time.Duration) SMTPOption {
	return func(t *SMTPTransport) { t.dialTimeout = d }
}

// WithSendTimeout bounds a whole submission, from dial to QUIT, when the
// caller's context has no earlier deadline.
func WithSendTimeout(d time.Duration) SMTPOption {
	return func(t *SMTPTransport) { t.sendTimeout = d }
}

// WithSMTPMetrics records submissions on m.
func WithSMTPMetrics(m *instrumentation.Metrics) SMTPOption {
	return func(t *SMTPTransport) { t.metrics = m }
}

// NewSMTPTransport creates an SMTP transport.
func NewSMTPTransport(opts ...SMTPOption) *SMTPTransport {
	t := &SMTPTransport{
		addr:        DefaultSMTPAddr,
		security:    SecurityStartTLS,
		dialTimeout: 10 * time.Second,
		sendTimeout: time.Minute,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements Transport.
func (t *SMTPTransport) Name() string {
	return instrumentation.TransportSMTP
}

// Send implements Transport. Only the RFC Message-ID of the result is set;
// Gmail ids are not returned over SMTP.
func (t *SMTPTransport) Send(ctx context.Context, tok *oauth2.Token, env *Envelope) (Result, error) {
	if tok == nil || tok.AccessToken == "" {
		return Result{}, fmt.Errorf("smtp: %w: empty access token", ErrUnauthorized)
	}

	raw, messageID, err := Compose(env, t.now())
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	err = t.submit(ctx, tok.AccessToken, env, raw)
	t.record(ctx, err, start)
	if err != nil {
		return Result{}, classifySMTPError("smtp send", err)
	}
	return Result{RFCMessageID: messageID}, nil
}

func (t *SMTPTransport) submit(ctx context.Context, accessToken string, env *Envelope, raw []byte) error {
	if t.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.sendTimeout)
		defer cancel()
	}

	c, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	// go-smtp has no context support; closing the client unblocks any
	// pending read or write on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	host, portStr, _ := net.SplitHostPort(t.addr)
	port, _ := strconv.Atoi(portStr)
	auth := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: env.From.Email,
		Token:    accessToken,
		Host:     host,
		Port:     port,
	})
	if err := c.Auth(auth); err != nil {
		return err
	}

	if err := c.SendMail(env.From.Email, []string{env.To.Email}, bytes.NewReader(raw)); err != nil {
		return err
	}
	return c.Quit()
}

func (t *SMTPTransport) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set deadline %s: %w", t.addr, err)
		}
	}

	switch t.security {
	case SecurityNone:
		return smtp.NewClient(conn), nil
	case SecurityTLS:
		return smtp.NewClient(tls.Client(conn, t.clientTLSConfig())), nil
	default:
		c, err := smtp.NewClientStartTLS(conn, t.clientTLSConfig())
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("starttls %s: %w", t.addr, err)
		}
		return c, nil
	}
}

func (t *SMTPTransport) clientTLSConfig() *tls.Config {
	if t.tlsConfig != nil {
		return t.tlsConfig
	}
	host, _, _ := net.SplitHostPort(t.addr)
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

func (t *SMTPTransport) record(ctx context.Context, err error, start time.Time) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	t.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, "smtp_"+instrumentation.OperationSend, status, time.Since(start))
}
