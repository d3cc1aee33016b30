package p2p

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateKey(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "data", "identity.key")

	k1, isNew, err := loadOrCreateKey(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if !isNew {
		t.Fatal("first call should create a key")
	}

	k2, isNew, err := loadOrCreateKey(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if isNew {
		t.Fatal("second call should load the key")
	}
	if !k1.Equals(k2) {
		t.Fatal("loaded key differs from created key")
	}
}

func TestLoadOrCreateKeyReplacesCorrupt(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "identity.key")
	if err := os.WriteFile(keyFile, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	_, isNew, err := loadOrCreateKey(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if !isNew {
		t.Fatal("corrupt key should be regenerated")
	}
}

func TestLoadIdentityIsStable(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "identity.key")
	a, err := LoadIdentity(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	b, err := LoadIdentity(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if a == "" || a != b {
		t.Fatalf("identity changed: %q vs %q", a, b)
	}
}
