package receiver

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/pkg/aaa"
)

// maxWebhookBody bounds webhook payloads.
const maxWebhookBody = 1 << 20

// SignBody computes the hex HMAC-SHA256 of body under secret; the generic
// platform webhook signature.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares a presented hex signature against the expected
// HMAC in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := SignBody(secret, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// WebhookGuard verifies signed webhook requests and records the AAA outcome.
type WebhookGuard struct {
	secret string
	header string // signature header name, platform-specific
	audit  *aaa.Logger
	log    *zap.Logger
}

// NewWebhookGuard creates a guard reading the signature from header.
func NewWebhookGuard(secret, header string, audit *aaa.Logger, log *zap.Logger) *WebhookGuard {
	return &WebhookGuard{secret: secret, header: header, audit: audit, log: log}
}

// ReadVerified reads the request body and checks its signature. On failure
// it writes 401, emits an AUTH FAILURE audit record, and returns ok=false;
// the caller must produce no side-effects.
func (g *WebhookGuard) ReadVerified(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return nil, false
	}
	signature := r.Header.Get(g.header)
	if signature == "" || !VerifySignature(g.secret, body, signature) {
		g.audit.Emit(aaa.Record{
			EventType: aaa.EventAuth,
			Actor:     r.RemoteAddr,
			Subject:   r.URL.Path,
			Action:    "webhook:verify",
			Result:    aaa.ResultFailure,
			Detail:    "invalid signature",
		})
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

// HandleWebSub answers WebSub/PubSubHubbub verification requests by echoing
// the challenge. Returns true when the request was a verification call.
func HandleWebSub(w http.ResponseWriter, r *http.Request, topicValid func(topic string) bool) bool {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	if mode != "subscribe" && mode != "unsubscribe" {
		return false
	}
	topic := q.Get("hub.topic")
	challenge := q.Get("hub.challenge")
	if challenge == "" || (topicValid != nil && !topicValid(topic)) {
		http.Error(w, "invalid subscription", http.StatusNotFound)
		return true
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
	return true
}
