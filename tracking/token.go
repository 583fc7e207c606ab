package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
)

// Tokenizer mints and verifies the HMAC tokens that prove a tracking or
// redirect request is legitimate for a given (campaign, contact) pair.
// Tokens carry no expiry: they stay valid for the life of the pair.
type Tokenizer struct {
	key []byte
}

func NewTokenizer(key string) *Tokenizer {
	return &Tokenizer{key: []byte(key)}
}

// Mint returns HMAC-SHA256(key, "campaign:{id},contact:{id}") hex-encoded
func (t *Tokenizer) Mint(campaignID, contactID uint) string {
	mac := hmac.New(sha256.New, t.key)
	fmt.Fprintf(mac, "campaign:%d,contact:%d", campaignID, contactID)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares the presented token against a fresh mint in constant time
func (t *Tokenizer) Verify(campaignID, contactID uint, token string) bool {
	presented, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, t.key)
	fmt.Fprintf(mac, "campaign:%d,contact:%d", campaignID, contactID)
	return hmac.Equal(presented, mac.Sum(nil))
}

// PixelURL builds the open-tracking pixel URL for a recipient
func (t *Tokenizer) PixelURL(baseURL string, campaignID, contactID uint) string {
	return fmt.Sprintf("%s/t/open/%d/%d/%s", baseURL, campaignID, contactID, t.Mint(campaignID, contactID))
}

// ClickURL builds the click-redirect URL wrapping the original destination
func (t *Tokenizer) ClickURL(baseURL string, campaignID, contactID uint, destination string) string {
	encoded := base64.URLEncoding.EncodeToString([]byte(destination))
	return fmt.Sprintf("%s/t/click/%d/%d/%s?u=%s",
		baseURL, campaignID, contactID, t.Mint(campaignID, contactID), url.QueryEscape(encoded))
}

// DecodeDestination reverses ClickURL's destination encoding
func DecodeDestination(encoded string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
