// Webhook signature verification: HMAC-SHA256 over the raw body,
// compared against the X-Hub-Signature-256 header. The legacy sha1
// header is not supported.
package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// VerifyWebhook reads and authenticates an inbound webhook body against
// the App's configured secret, returning the raw bytes for parsing.
func (a *App) VerifyWebhook(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()

	sig := strings.TrimSpace(r.Header.Get("X-Hub-Signature-256"))
	if sig == "" {
		return nil, fmt.Errorf("hostadapter/github: missing X-Hub-Signature-256 header")
	}
	if err := verifySignature(sig, body, []byte(a.Secret)); err != nil {
		return nil, err
	}
	return body, nil
}

func verifySignature(header string, body, secret []byte) error {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("hostadapter/github: invalid signature header prefix")
	}
	wantHex := strings.TrimPrefix(header, prefix)
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	gotHex := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(wantHex), []byte(gotHex)) {
		return fmt.Errorf("hostadapter/github: invalid webhook signature")
	}
	return nil
}
