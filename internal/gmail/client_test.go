package gmail

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type fakeGmail struct {
	srv      *httptest.Server
	validTok string
	sends    atomic.Int32
	lastRaw  atomic.Value
	lastThr  atomic.Value
}

func newFakeGmail(t *testing.T, validToken string) *fakeGmail {
	t.Helper()
	f := &fakeGmail{validTok: validToken}

	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		f.sends.Add(1)
		var body struct {
			Raw      string `json:"raw"`
			ThreadID string `json:"threadId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastRaw.Store(body.Raw)
		f.lastThr.Store(body.ThreadID)
		thread := body.ThreadID
		if thread == "" {
			thread = "thread-new"
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "gm-1", "threadId": thread})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": []map[string]any{{"id": "in-1"}, {"id": "in-2"}},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/in-1", func(w http.ResponseWriter, r *http.Request) {
		raw := base64.URLEncoding.EncodeToString([]byte(multipartMessage))
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "in-1", "threadId": "thr-9", "labelIds": []string{"INBOX", "UNREAD"}, "raw": raw,
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/in-2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "in-2", "threadId": "thr-10", "labelIds": []string{"INBOX"}, "raw": "!!not base64!!",
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGmail) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+f.validTok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{"code": 401, "message": "Invalid Credentials"},
		})
		return false
	}
	return true
}

func (f *fakeGmail) transport() *APITransport {
	return NewAPITransport(
		WithAPIHTTPClient(f.srv.Client()),
		WithServiceOptions(option.WithEndpoint(f.srv.URL+"/")),
	)
}

func testEnvelope() *Envelope {
	return &Envelope{
		From:     Address{Name: "Ada", Email: "ada@startup.io"},
		To:       Address{Name: "Lead", Email: "lead@acme.io"},
		Subject:  "Hello",
		HTMLBody: "<p>Hi</p>",
	}
}

func TestAPITransport_Send(t *testing.T) {
	f := newFakeGmail(t, "fresh")
	tr := f.transport()
	assert.Equal(t, "api", tr.Name())

	res, err := tr.Send(t.Context(), &oauth2.Token{AccessToken: "fresh"}, testEnvelope())
	require.NoError(t, err)
	assert.Equal(t, "gm-1", res.ExternalID)
	assert.Equal(t, "thread-new", res.ThreadID)
	assert.NotEmpty(t, res.RFCMessageID)

	raw, err := base64.URLEncoding.DecodeString(f.lastRaw.Load().(string))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "Subject: Hello"))
}

func TestAPITransport_SendKeepsThread(t *testing.T) {
	f := newFakeGmail(t, "fresh")
	env := testEnvelope()
	env.ThreadID = "thr-7"

	res, err := f.transport().Send(t.Context(), &oauth2.Token{AccessToken: "fresh"}, env)
	require.NoError(t, err)
	assert.Equal(t, "thr-7", res.ThreadID)
	assert.Equal(t, "thr-7", f.lastThr.Load())
}

func TestAPITransport_SendStaleToken(t *testing.T) {
	f := newFakeGmail(t, "fresh")

	_, err := f.transport().Send(t.Context(), &oauth2.Token{AccessToken: "stale"}, testEnvelope())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, int32(0), f.sends.Load())
}

func TestAPITransport_SendEmptyToken(t *testing.T) {
	f := newFakeGmail(t, "fresh")
	_, err := f.transport().Send(t.Context(), &oauth2.Token{}, testEnvelope())
	assert.True(t, IsAuthError(err))
}

func TestAPITransport_FetchInbox(t *testing.T) {
	f := newFakeGmail(t, "fresh")

	msgs, err := f.transport().FetchInbox(t.Context(), &oauth2.Token{AccessToken: "fresh"}, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "undecodable messages are skipped")

	m := msgs[0]
	assert.Equal(t, "in-1", m.ExternalID)
	assert.Equal(t, "thr-9", m.ThreadID)
	assert.True(t, m.Unread)
	assert.Equal(t, "Re: Hello", m.Subject)
	assert.Equal(t, "lead@acme.io", m.From.Email)
}

func TestAPITransport_FetchInboxUnauthorized(t *testing.T) {
	f := newFakeGmail(t, "fresh")
	_, err := f.transport().FetchInbox(t.Context(), &oauth2.Token{AccessToken: "stale"}, 10)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDecodeRaw(t *testing.T) {
	data := []byte("hello?>")
	padded, err := decodeRaw(base64.URLEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Equal(t, data, padded)

	unpadded, err := decodeRaw(base64.RawURLEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Equal(t, data, unpadded)

	_, err = decodeRaw("!!")
	assert.Error(t, err)
}
