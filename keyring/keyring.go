// Package keyring stores pre-shared keys for tunnel gateways.
// It uses the system keyring when available, falling back to an
// encrypted local file when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/scrypt"

	"github.com/ikesession/ikesessiond/common"
)

// serviceName is the identifier used in the system keyring.
const serviceName = "ikesession"

// ErrNotFound is returned when no key is stored for a gateway.
var ErrNotFound = errors.New("no stored key for gateway")

// Backend state, initialized lazily on first use.
var (
	initOnce       sync.Once
	useLocalStore  bool
	localMu        sync.RWMutex
	localStore     map[string]string
	localStoreFile string
	cipherKey      []byte
)

// ensureBackend probes the system keyring once per process and falls
// back to the local file store when it is not usable.
func ensureBackend() {
	initOnce.Do(func() {
		probe := serviceName + "-probe"
		if err := keyring.Set(serviceName, probe, "probe"); err == nil {
			keyring.Delete(serviceName, probe)
			return
		}
		useLocalStore = true
		initLocalStore()
	})
}

func initLocalStore() {
	homeDir, _ := os.UserHomeDir()
	dir := filepath.Join(homeDir, ".config", common.ConfigDirName)
	os.MkdirAll(dir, 0700)
	localStoreFile = filepath.Join(dir, ".psk-store")
	localStore = make(map[string]string)

	// The file key is derived from machine-specific data, so the store
	// is unreadable when copied to another host.
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%d", serviceName, hostname, os.Getuid())
	key, err := scrypt.Key([]byte(secret), []byte(machineID()), 1<<15, 8, 1, 32)
	if err != nil {
		common.LogError("Failed to derive local store key: %v", err)
		return
	}
	cipherKey = key
	loadLocalStore()
}

func machineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

// entryName maps a gateway to its keyring entry. An empty identifier
// yields a server-wide entry.
func entryName(server, identifier string) string {
	if identifier == "" {
		return server
	}
	return server + "/" + identifier
}

// Store saves the pre-shared key for a gateway. An empty identifier
// makes the key apply to every identity on that server.
func Store(server, identifier string, psk []byte) error {
	if server == "" {
		return errors.New("server cannot be empty")
	}
	if len(psk) == 0 {
		return errors.New("PSK cannot be empty")
	}
	ensureBackend()

	entry := entryName(server, identifier)
	encoded := base64.StdEncoding.EncodeToString(psk)

	if useLocalStore {
		return storeLocal(entry, encoded)
	}
	if err := keyring.Set(serviceName, entry, encoded); err != nil {
		// The keyring stopped working after the probe; switch to the
		// local store for the rest of the process.
		useLocalStore = true
		initLocalStore()
		return storeLocal(entry, encoded)
	}
	return nil
}

// Get retrieves the stored pre-shared key for a gateway. It prefers an
// exact server and identifier entry, then a server-wide one.
func Get(server, identifier string) ([]byte, error) {
	if server == "" {
		return nil, errors.New("server cannot be empty")
	}
	ensureBackend()

	entries := []string{entryName(server, identifier)}
	if identifier != "" {
		entries = append(entries, entryName(server, ""))
	}

	for _, entry := range entries {
		encoded, err := lookup(entry)
		if err != nil {
			continue
		}
		psk, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("stored key for %s is corrupt: %w", entry, err)
		}
		return psk, nil
	}
	return nil, ErrNotFound
}

// Delete removes the stored key for a gateway. Deleting a key that was
// never stored is not an error.
func Delete(server, identifier string) error {
	if server == "" {
		return errors.New("server cannot be empty")
	}
	ensureBackend()

	entry := entryName(server, identifier)
	if useLocalStore {
		localMu.Lock()
		delete(localStore, entry)
		localMu.Unlock()
		return saveLocalStore()
	}

	keyring.Delete(serviceName, entry)
	return nil
}

func lookup(entry string) (string, error) {
	if useLocalStore {
		localMu.RLock()
		encoded, ok := localStore[entry]
		localMu.RUnlock()
		if !ok {
			return "", ErrNotFound
		}
		return encoded, nil
	}

	encoded, err := keyring.Get(serviceName, entry)
	if err != nil {
		return "", ErrNotFound
	}
	return encoded, nil
}

func storeLocal(entry, encoded string) error {
	localMu.Lock()
	localStore[entry] = encoded
	localMu.Unlock()
	return saveLocalStore()
}

func loadLocalStore() {
	data, err := os.ReadFile(localStoreFile)
	if err != nil {
		return
	}

	decrypted, err := decrypt(data)
	if err != nil {
		return
	}

	json.Unmarshal(decrypted, &localStore)
}

func saveLocalStore() error {
	localMu.RLock()
	data, err := json.Marshal(localStore)
	localMu.RUnlock()
	if err != nil {
		return err
	}

	encrypted, err := encrypt(data)
	if err != nil {
		return err
	}

	return os.WriteFile(localStoreFile, encrypted, 0600)
}

func encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
