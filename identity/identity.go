// Package identity owns the kernel's master signing key, derives
// deterministic per-plugin sub-keys, and signs/verifies on their behalf.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"
)

const (
	envKeyVar        = "KERNEL_IDENTITY_PRIVATE_KEY"
	keyringService   = "kernel"
	keyringUser      = "master-key"
	subKeyDomainInfo = "kernel-plugin-subkey-v1"
	subKeyCacheSize  = 4096
)

// Config configures master-key resolution order and limits.
type Config struct {
	// AllowEnv permits resolving the master key from envKeyVar.
	AllowEnv bool
	// PrivateKeyFile, if non-empty, is consulted as a hex-encoded seed file.
	PrivateKeyFile string
	// UseCredentialStore permits resolving/persisting the master key via
	// the OS credential store.
	UseCredentialStore bool
	// StoreTimeout bounds credential-store access.
	StoreTimeout time.Duration
}

// Manager owns the master key and a cache of derived per-plugin sub-keys.
// The sub-key cache (*lru.Cache) is internally synchronized, so concurrent
// DerivePluginKey calls from multiple host-ABI worker goroutines are safe
// without an additional lock here.
type Manager struct {
	master ed25519.PrivateKey
	cache  *lru.Cache[string, ed25519.PrivateKey]
}

// LoadOrCreate resolves the master key using the configured strategies in
// order, falling through to the next strategy only on ErrNotFound. Any
// other failure (malformed key, permission denied, store timeout) is
// fatal and returned immediately.
func LoadOrCreate(cfg Config) (*Manager, error) {
	seed, err := resolveSeed(cfg)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[string, ed25519.PrivateKey](subKeyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("identity: building sub-key cache: %w", err)
	}

	return &Manager{master: ed25519.NewKeyFromSeed(seed), cache: cache}, nil
}

func resolveSeed(cfg Config) ([]byte, error) {
	if cfg.AllowEnv {
		seed, err := seedFromEnv()
		switch {
		case err == nil:
			return seed, nil
		case err != ErrNotFound:
			return nil, err
		}
	}

	if cfg.PrivateKeyFile != "" {
		seed, err := seedFromFile(cfg.PrivateKeyFile)
		switch {
		case err == nil:
			return seed, nil
		case err != ErrNotFound:
			return nil, err
		}
	}

	if cfg.UseCredentialStore {
		seed, err := seedFromKeyring(cfg.StoreTimeout)
		switch {
		case err == nil:
			return seed, nil
		case err != ErrNotFound:
			return nil, err
		}
	}

	// Nothing configured located an existing key: generate one and persist
	// it via whichever durable strategy is enabled, in the same order.
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("identity: generating master key: %w", err)
	}

	switch {
	case cfg.PrivateKeyFile != "":
		if err := persistSeedToFile(cfg.PrivateKeyFile, seed); err != nil {
			return nil, err
		}
	case cfg.UseCredentialStore:
		if err := persistSeedToKeyring(seed, cfg.StoreTimeout); err != nil {
			return nil, err
		}
	case cfg.AllowEnv:
		// Nothing to persist to; the caller is expected to export
		// envKeyVar themselves for future runs. Not an error.
	default:
		return nil, ErrNoKeySource
	}

	return seed, nil
}

func seedFromEnv() ([]byte, error) {
	raw, ok := os.LookupEnv(envKeyVar)
	if !ok || raw == "" {
		return nil, ErrNotFound
	}
	seed, err := hex.DecodeString(raw)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: %s must be a %d-byte hex seed", ErrMalformedKey, envKeyVar, ed25519.SeedSize)
	}
	return seed, nil
}

func seedFromFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: reading key file %s: %w", path, err)
	}
	seed, err := hex.DecodeString(string(trimNewline(raw)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: %s must contain a %d-byte hex seed", ErrMalformedKey, path, ed25519.SeedSize)
	}
	return seed, nil
}

func persistSeedToFile(path string, seed []byte) error {
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
		return fmt.Errorf("identity: writing key file %s: %w", path, err)
	}
	return nil
}

func seedFromKeyring(timeout time.Duration) ([]byte, error) {
	type result struct {
		seed []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := keyring.Get(keyringService, keyringUser)
		if err == keyring.ErrNotFound {
			ch <- result{nil, ErrNotFound}
			return
		}
		if err != nil {
			ch <- result{nil, fmt.Errorf("identity: credential store: %w", err)}
			return
		}
		seed, err := hex.DecodeString(raw)
		if err != nil || len(seed) != ed25519.SeedSize {
			ch <- result{nil, fmt.Errorf("%w: credential store entry is not a valid seed", ErrMalformedKey)}
			return
		}
		ch <- result{seed, nil}
	}()

	select {
	case r := <-ch:
		return r.seed, r.err
	case <-time.After(boundedTimeout(timeout)):
		return nil, ErrStoreTimeout
	}
}

func persistSeedToKeyring(seed []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), boundedTimeout(timeout))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- keyring.Set(keyringService, keyringUser, hex.EncodeToString(seed))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("identity: credential store: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ErrStoreTimeout
	}
}

func boundedTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return b
}

// MasterAddress is a pure projection of the master key, stable for the
// manager's lifetime.
func (m *Manager) MasterAddress() string {
	return addressOf(m.master.Public().(ed25519.PublicKey))
}

// DerivePluginKey deterministically derives (and caches) the sub-key for
// the given plugin id.
func (m *Manager) DerivePluginKey(pluginID string) ed25519.PrivateKey {
	if key, ok := m.cache.Get(pluginID); ok {
		return key
	}

	key := deriveSubKey(m.master.Seed(), pluginID)
	m.cache.Add(pluginID, key)
	return key
}

// PluginAddress returns the stable address for a plugin's derived sub-key.
func (m *Manager) PluginAddress(pluginID string) string {
	key := m.DerivePluginKey(pluginID)
	return addressOf(key.Public().(ed25519.PublicKey))
}

// SignFor signs bytes on behalf of the named plugin.
func (m *Manager) SignFor(pluginID string, data []byte) []byte {
	key := m.DerivePluginKey(pluginID)
	return ed25519.Sign(key, data)
}

// Verify recovers the signer's derived address implicitly by checking the
// signature against the plugin's derived public key.
func (m *Manager) Verify(pluginID string, data, signature []byte) bool {
	key := m.DerivePluginKey(pluginID)
	pub := key.Public().(ed25519.PublicKey)
	return ed25519.Verify(pub, data, signature)
}

func deriveSubKey(masterSeed []byte, pluginID string) ed25519.PrivateKey {
	reader := hkdf.New(sha256.New, masterSeed, []byte(pluginID), []byte(subKeyDomainInfo))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		// hkdf.New over SHA-256 can produce up to 255*32 bytes; a single
		// 32-byte seed read can only fail if the master seed itself is
		// malformed, which LoadOrCreate already guarantees against.
		panic(fmt.Sprintf("identity: hkdf expand failed: %v", err))
	}
	return ed25519.NewKeyFromSeed(seed)
}

func addressOf(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:20])
}
