// Package secrets encrypts values stored in the swarm .env file with age so
// API keys never sit on disk in clear text.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"github.com/dohr-michael/swarm/internal/config"
)

const (
	sealPrefix = "ENC[age:"
	sealSuffix = "]"
)

// ErrNotSealed is returned by Open for values without the ENC[age:...] wrapper.
var ErrNotSealed = errors.New("value is not sealed")

// KeyPath is the default identity file, $SWARM_PATH/.age-key.
func KeyPath() string {
	return filepath.Join(config.SwarmPath(), ".age-key")
}

// Keyring seals and opens values with a single X25519 identity.
type Keyring struct {
	identity *age.X25519Identity
}

// InitKeyring loads the identity at path, creating it (0600) when absent.
func InitKeyring(path string) (*Keyring, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadKeyring(path)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	content := fmt.Sprintf("# swarm secrets key\n# public key: %s\n%s\n", identity.Recipient(), identity)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	return &Keyring{identity: identity}, nil
}

// LoadKeyring reads the first X25519 identity from path.
func LoadKeyring(path string) (*Keyring, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", path, err)
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return &Keyring{identity: x}, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity in %s", path)
}

// Recipient is the public half of the identity.
func (k *Keyring) Recipient() string {
	return k.identity.Recipient().String()
}

// Seal encrypts plaintext into an ENC[age:<base64>] value.
func (k *Keyring) Seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, k.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return sealPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + sealSuffix, nil
}

// Open decrypts a value produced by Seal.
func (k *Keyring) Open(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrNotSealed
	}
	raw, err := base64.StdEncoding.DecodeString(sealed[len(sealPrefix) : len(sealed)-len(sealSuffix)])
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), k.identity)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// IsSealed reports whether s has the ENC[age:...] wrapper.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, sealPrefix) && strings.HasSuffix(s, sealSuffix)
}

// OpenEnv replaces every sealed environment variable with its plaintext and
// returns the names it opened. Variables that fail to open are left sealed
// and reported in the joined error.
func (k *Keyring) OpenEnv() ([]string, error) {
	var opened []string
	var errs []error
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if !IsSealed(value) {
			continue
		}
		plain, err := k.Open(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		os.Setenv(key, plain)
		opened = append(opened, key)
	}
	return opened, errors.Join(errs...)
}
