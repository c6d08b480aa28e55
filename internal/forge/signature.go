package forge

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v68/github"
)

// ErrBadSignature is returned when a delivery's HMAC does not verify.
var ErrBadSignature = errors.New("forge: bad webhook signature")

// Delivery header names. GitHub's are read through go-github.
const (
	HeaderGiteaEvent     = "X-Gitea-Event"
	HeaderGiteaDelivery  = "X-Gitea-Delivery"
	HeaderGiteaSignature = "X-Gitea-Signature"
)

// VerifySignature checks an HMAC-SHA256 signature over body. The signature
// may be GitHub style ("sha256=<hex>") or Gitea style (bare hex).
func VerifySignature(secret, signature string, body []byte) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("%w: missing signature", ErrBadSignature)
	}
	if !strings.Contains(signature, "=") {
		signature = "sha256=" + signature
	}
	if err := github.ValidateSignature(signature, body, []byte(secret)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// EventType returns the delivery's event type, Gitea header first.
func EventType(r *http.Request) string {
	if t := r.Header.Get(HeaderGiteaEvent); t != "" {
		return t
	}
	return github.WebHookType(r)
}

// DeliveryID returns the delivery's unique id, or "" when the forge sent none.
func DeliveryID(r *http.Request) string {
	if id := r.Header.Get(HeaderGiteaDelivery); id != "" {
		return id
	}
	return github.DeliveryID(r)
}

// Signature returns the delivery's signature header value.
func Signature(r *http.Request) string {
	if sig := r.Header.Get(HeaderGiteaSignature); sig != "" {
		return sig
	}
	return r.Header.Get(github.SHA256SignatureHeader)
}
