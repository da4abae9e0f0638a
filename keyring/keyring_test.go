package keyring

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// useTempLocalStore forces the encrypted-file backend with a fresh
// store under t.TempDir, keeping tests off the system keyring.
func useTempLocalStore(t *testing.T) {
	t.Helper()

	initOnce.Do(func() {})
	useLocalStore = true
	localStoreFile = filepath.Join(t.TempDir(), ".psk-store")
	sum := sha256.Sum256([]byte("test-cipher-key"))
	cipherKey = sum[:]
	localStore = make(map[string]string)
}

func TestStoreGetRoundTrip(t *testing.T) {
	useTempLocalStore(t)

	psk := []byte{0x68, 0x00, 0x75, 0xff, 0x6e}
	if err := Store("vpn.example.com", "alice", psk); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := Get("vpn.example.com", "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, psk) {
		t.Errorf("Get() = %x, want %x", got, psk)
	}
}

func TestGetFallsBackToServerWideKey(t *testing.T) {
	useTempLocalStore(t)

	if err := Store("vpn.example.com", "", []byte("shared-secret")); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := Get("vpn.example.com", "bob")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "shared-secret" {
		t.Errorf("Get() = %q, want server-wide key", got)
	}
}

func TestGetMissing(t *testing.T) {
	useTempLocalStore(t)

	if _, err := Get("vpn.example.com", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	useTempLocalStore(t)

	if err := Store("vpn.example.com", "alice", []byte("secret")); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := Delete("vpn.example.com", "alice"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := Get("vpn.example.com", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}

	// Deleting again is a no-op.
	if err := Delete("vpn.example.com", "alice"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestStoreValidation(t *testing.T) {
	useTempLocalStore(t)

	if err := Store("", "alice", []byte("secret")); err == nil {
		t.Error("Store() with empty server succeeded")
	}
	if err := Store("vpn.example.com", "alice", nil); err == nil {
		t.Error("Store() with empty PSK succeeded")
	}
	if _, err := Get("", "alice"); err == nil {
		t.Error("Get() with empty server succeeded")
	}
}

func TestLocalStoreSurvivesReload(t *testing.T) {
	useTempLocalStore(t)

	if err := Store("vpn.example.com", "alice", []byte("persisted")); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	info, err := os.Stat(localStoreFile)
	if err != nil {
		t.Fatalf("Stat(store file) error = %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("store file mode = %o, want 0600", mode)
	}

	// Simulate a fresh process reading the same file.
	localStore = make(map[string]string)
	loadLocalStore()

	got, err := Get("vpn.example.com", "alice")
	if err != nil {
		t.Fatalf("Get() after reload error = %v", err)
	}
	if string(got) != "persisted" {
		t.Errorf("Get() after reload = %q, want %q", got, "persisted")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	useTempLocalStore(t)

	encrypted, err := encrypt([]byte(`{"entry":"value"}`))
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}

	if _, err := decrypt(encrypted); err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}

	tampered := append([]byte{}, encrypted...)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := decrypt(tampered); err == nil {
		t.Error("decrypt() accepted tampered ciphertext")
	}
}

func TestEntryName(t *testing.T) {
	if got := entryName("vpn.example.com", ""); got != "vpn.example.com" {
		t.Errorf("entryName(server, \"\") = %q", got)
	}
	if got := entryName("vpn.example.com", "alice"); got != "vpn.example.com/alice" {
		t.Errorf("entryName(server, id) = %q", got)
	}
}
