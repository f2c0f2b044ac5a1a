package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes. Each purpose gets an independent 32-byte key so a leak of
// one (e.g. the CSRF key) does not let an attacker forge session cookies.
const (
	PurposeSession    = "handoff session cookie v1"
	PurposeState      = "handoff oauth state v1"
	PurposeCSRF       = "handoff csrf v1"
	PurposeViewState  = "handoff view state v1"
	PurposeEncryption = "handoff storage encryption v1"
)

// Keys holds the per-purpose keys derived from the configured master key
type Keys struct {
	Session    []byte
	State      []byte
	CSRF       []byte
	ViewState  []byte
	Encryption []byte
}

// DeriveKeys expands master into one key per purpose with HKDF-SHA256
func DeriveKeys(master []byte) (Keys, error) {
	if len(master) < 32 {
		return Keys{}, fmt.Errorf("master key must be at least 32 bytes, got %d", len(master))
	}

	derive := func(purpose string) ([]byte, error) {
		key := make([]byte, 32)
		r := hkdf.New(sha256.New, master, nil, []byte(purpose))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("deriving %q key: %w", purpose, err)
		}
		return key, nil
	}

	var keys Keys
	var err error
	for _, k := range []struct {
		dst     *[]byte
		purpose string
	}{
		{&keys.Session, PurposeSession},
		{&keys.State, PurposeState},
		{&keys.CSRF, PurposeCSRF},
		{&keys.ViewState, PurposeViewState},
		{&keys.Encryption, PurposeEncryption},
	} {
		if *k.dst, err = derive(k.purpose); err != nil {
			return Keys{}, err
		}
	}
	return keys, nil
}
