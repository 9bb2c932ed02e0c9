package identity

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// GuestPrefix marks identities that were minted by the server (or the client)
// instead of decrypted from a token.
const GuestPrefix = "i"

const guestSpace = 1_000_000

var (
	ErrInvalidToken   = errors.New("invalid identity token")
	ErrGuestsDisabled = errors.New("guest access disabled")
)

// Resolver turns client supplied tokens into identities.
type Resolver struct {
	block       cipher.Block
	iv          []byte
	allowGuests bool
	intn        func(n int) int
}

// NewResolver builds a Resolver from a base64 AES-256 key and a base64 IV.
func NewResolver(keyB64, ivB64 string, allowGuests bool) (*Resolver, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("decode identity key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("identity key must be 32 bytes, got %d", len(key))
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("decode identity iv: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("identity iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Resolver{block: block, iv: iv, allowGuests: allowGuests, intn: rand.IntN}, nil
}

// Resolve maps a join token to an identity. An empty token mints a guest
// identity when guests are allowed.
func (r *Resolver) Resolve(token string) (string, error) {
	if token == "" {
		if !r.allowGuests {
			return "", ErrGuestsDisabled
		}
		return r.MintGuest(), nil
	}
	return r.ResolveExisting(token)
}

// ResolveExisting is Resolve without the guest fallback.
func (r *Resolver) ResolveExisting(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	if strings.HasPrefix(token, GuestPrefix) {
		if !r.allowGuests {
			return "", ErrGuestsDisabled
		}
		return token, nil
	}
	id, err := r.Decrypt(token)
	if err != nil {
		return "", err
	}
	if !valid(id) {
		return "", ErrInvalidToken
	}
	return id, nil
}

func (r *Resolver) MintGuest() string {
	return GuestPrefix + strconv.Itoa(r.intn(guestSpace))
}

// Decrypt reverses Encrypt: base64url (padding optional), AES-256-CBC, PKCS#7.
func (r *Resolver) Decrypt(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return "", ErrInvalidToken
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", ErrInvalidToken
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(r.block, r.iv).CryptBlocks(out, raw)

	n := int(out[len(out)-1])
	if n == 0 || n > aes.BlockSize || n > len(out) {
		return "", ErrInvalidToken
	}
	if !bytes.Equal(out[len(out)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return "", ErrInvalidToken
	}
	return string(out[:len(out)-n]), nil
}

// Encrypt produces a token that Decrypt accepts.
func (r *Resolver) Encrypt(identity string) string {
	n := aes.BlockSize - len(identity)%aes.BlockSize
	buf := append([]byte(identity), bytes.Repeat([]byte{byte(n)}, n)...)
	cipher.NewCBCEncrypter(r.block, r.iv).CryptBlocks(buf, buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// valid accepts numeric account ids and guest ids.
func valid(id string) bool {
	if id == "" {
		return false
	}
	if strings.HasPrefix(id, GuestPrefix) {
		return true
	}
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}
