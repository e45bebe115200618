package identity

import (
	"encoding/hex"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		PrivateKeyFile: filepath.Join(dir, "master.key"),
	}
	mgr, err := LoadOrCreate(cfg)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	return mgr
}

func TestLoadOrCreatePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "master.key")

	first, err := LoadOrCreate(Config{PrivateKeyFile: keyFile})
	if err != nil {
		t.Fatalf("first LoadOrCreate: %v", err)
	}

	second, err := LoadOrCreate(Config{PrivateKeyFile: keyFile})
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}

	if first.MasterAddress() != second.MasterAddress() {
		t.Fatalf("expected persisted key to reload identically: %s != %s", first.MasterAddress(), second.MasterAddress())
	}
}

func TestLoadOrCreateEnv(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	t.Setenv(envKeyVar, hex.EncodeToString(seed))

	m1, err := LoadOrCreate(Config{AllowEnv: true})
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	m2, err := LoadOrCreate(Config{AllowEnv: true})
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if m1.MasterAddress() != m2.MasterAddress() {
		t.Fatal("same env seed must produce the same master address")
	}
}

func TestIdentityDeterministicAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "master.key")

	first, err := LoadOrCreate(Config{PrivateKeyFile: keyFile})
	if err != nil {
		t.Fatalf("first LoadOrCreate: %v", err)
	}
	second, err := LoadOrCreate(Config{PrivateKeyFile: keyFile})
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}

	if first.MasterAddress() != second.MasterAddress() {
		t.Fatalf("master_address() must match across instances from the same key: %s != %s", first.MasterAddress(), second.MasterAddress())
	}
	if first.PluginAddress("foo") != second.PluginAddress("foo") {
		t.Fatalf("get_plugin_address(%q) must match across instances from the same key: %s != %s", "foo", first.PluginAddress("foo"), second.PluginAddress("foo"))
	}
}

func TestDerivePluginKeyDeterministic(t *testing.T) {
	mgr := newTestManager(t)

	a1 := mgr.PluginAddress("alice")
	a2 := mgr.PluginAddress("alice")
	if a1 != a2 {
		t.Fatalf("derive(M,p) must be deterministic: %s != %s", a1, a2)
	}

	b := mgr.PluginAddress("bob")
	if a1 == b {
		t.Fatalf("derive(M,p1) must differ from derive(M,p2): both %s", a1)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	mgr := newTestManager(t)

	msg := []byte("hello plugin bus")
	sig := mgr.SignFor("alice", msg)

	if !mgr.Verify("alice", msg, sig) {
		t.Fatal("expected verify(p, m, sign(p, m)) == true")
	}

	if mgr.Verify("alice", []byte("tampered"), sig) {
		t.Fatal("expected verify to fail for a different message")
	}

	if mgr.Verify("bob", msg, sig) {
		t.Fatal("expected verify to fail for a different plugin's key")
	}
}

func TestDeriveSubKeyIsPureAndPluginScoped(t *testing.T) {
	seed := make([]byte, 32)
	key1 := deriveSubKey(seed, "plugin-a")
	key2 := deriveSubKey(seed, "plugin-a")
	key3 := deriveSubKey(seed, "plugin-b")

	if hex.EncodeToString(key1) != hex.EncodeToString(key2) {
		t.Fatal("deriveSubKey must be a pure function of (seed, pluginID)")
	}
	if hex.EncodeToString(key1) == hex.EncodeToString(key3) {
		t.Fatal("different plugin ids must yield different sub-keys")
	}
}
