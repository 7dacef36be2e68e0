// Package token builds and parses the opaque invitation token: a URL-safe
// envelope pairing a non-secret lookup id with an encrypted payload.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"debtgate/internal/platform/crypto"
)

// Payload is the fixed, versioned shape sealed inside a token. The debtor's
// identifiers appear only as a one-way hash; the payload never carries them.
type Payload struct {
	Version        int    `json:"v"`
	TokenID        string `json:"token_id"`
	CaseID         string `json:"case_id"`
	LetterID       string `json:"letter_id"`
	OrganizationID string `json:"org_id"`
	DebtorHash     string `json:"debtor_hash"`
	CreatedAt      int64  `json:"iat"`
	ExpiresAt      int64  `json:"exp"`
	UsageLimit     int    `json:"usage_limit"`
}

// PayloadVersion is the current payload schema version. Decoded payloads with
// a different version fail closed like any other parse error.
const PayloadVersion = 1

// envelope is the outer, unencrypted wrapper. The id duplicates the payload's
// token_id so storage lookup never requires decryption.
type envelope struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// tokenIDBytes gives 256 bits of entropy, independent of the payload.
const tokenIDBytes = 32

// Codec issues and opens invitation tokens. All methods are pure transforms;
// failures are never distinguished to the caller beyond the ok flag, so a
// forger learns nothing about why a token was rejected.
type Codec struct {
	enc crypto.Encryptor
}

func NewCodec(enc crypto.Encryptor) *Codec {
	return &Codec{enc: enc}
}

// Issue generates a fresh token id, seals the payload, and returns the opaque
// URL-safe token along with the id and the raw ciphertext for persistence.
func (c *Codec) Issue(p Payload) (token, tokenID string, ciphertext []byte, err error) {
	buf := make([]byte, tokenIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", nil, err
	}
	tokenID = base64.RawURLEncoding.EncodeToString(buf)

	p.Version = PayloadVersion
	p.TokenID = tokenID

	plaintext, err := json.Marshal(p)
	if err != nil {
		return "", "", nil, err
	}
	ciphertext, err = c.enc.Encrypt(plaintext)
	if err != nil {
		return "", "", nil, err
	}

	env, err := json.Marshal(envelope{
		ID:   tokenID,
		Data: base64.RawURLEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return "", "", nil, err
	}
	return base64.RawURLEncoding.EncodeToString(env), tokenID, ciphertext, nil
}

// ParseID decodes only the outer envelope to expose the lookup id. No
// decryption happens here; this is the fast path for indexed lookup.
func (c *Codec) ParseID(token string) (string, bool) {
	env, ok := decodeEnvelope(token)
	if !ok {
		return "", false
	}
	return env.ID, true
}

// Open fully decodes and decrypts the token, then cross-checks that the id
// inside the decrypted payload matches the envelope's id. The cross-check
// defeats token splicing: pairing one invitation's envelope with another's
// ciphertext.
func (c *Codec) Open(token string) (*Payload, bool) {
	env, ok := decodeEnvelope(token)
	if !ok {
		return nil, false
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, false
	}
	return c.OpenCiphertext(env.ID, ciphertext)
}

// OpenCiphertext decrypts a stored payload blob and verifies it belongs to
// tokenID. The validation path uses this against the persisted ciphertext to
// detect storage tampering.
func (c *Codec) OpenCiphertext(tokenID string, ciphertext []byte) (*Payload, bool) {
	plaintext, err := c.enc.Decrypt(ciphertext)
	if err != nil {
		return nil, false
	}
	var p Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, false
	}
	if p.Version != PayloadVersion {
		return nil, false
	}
	if p.TokenID == "" || p.TokenID != tokenID {
		return nil, false
	}
	return &p, true
}

func decodeEnvelope(token string) (envelope, bool) {
	var env envelope
	if token == "" {
		return env, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return env, false
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, false
	}
	if env.ID == "" || env.Data == "" {
		return env, false
	}
	return env, true
}
