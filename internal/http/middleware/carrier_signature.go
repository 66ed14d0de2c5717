package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// Carrier webhook signature headers.
const (
	CarrierTimestampHeader = "Telnyx-Timestamp"
	CarrierSignatureHeader = "Telnyx-Signature"
)

const maxCarrierBody = 1 << 20

// VerifyCarrierSignature checks an HMAC-SHA256 signature over
// "<timestamp>.<body>" and rejects timestamps outside maxSkew.
func VerifyCarrierSignature(secret, timestamp, signature string, body []byte, now time.Time, maxSkew time.Duration) error {
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("middleware: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("middleware: invalid signature timestamp: %w", err)
	}
	if diff := now.Sub(time.Unix(sec, 0)); diff > maxSkew || diff < -maxSkew {
		return fmt.Errorf("middleware: signature timestamp skew %s exceeds limit", diff)
	}
	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" {
		return errors.New("middleware: missing signature header")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(body)))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(actual)) {
		return errors.New("middleware: signature mismatch")
	}
	return nil
}

// CarrierSignature verifies carrier webhooks before they reach the voice
// handlers. An empty secret disables verification.
func CarrierSignature(secret string, maxSkew time.Duration, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	return func(next http.Handler) http.Handler {
		if strings.TrimSpace(secret) == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxCarrierBody))
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			err = VerifyCarrierSignature(secret, r.Header.Get(CarrierTimestampHeader), r.Header.Get(CarrierSignatureHeader), body, time.Now(), maxSkew)
			if err != nil {
				logger.Warn("invalid carrier webhook signature", "path", r.URL.Path, "error", err)
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
