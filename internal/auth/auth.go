// Package auth persists session credentials between runs.
//
// Values are namespaced by API origin so that two deployments never share a
// token. Secrets (the bearer token) go to the OS keyring when one is
// available (macOS Keychain, Windows Credential Manager, Linux Secret
// Service) and fall back to a 0600 file under the state directory. Everything
// else is stored in that same per-origin file.
package auth

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/mindgarden-dev/garden/internal/paths"
)

// Persisted keys.
const (
	KeyToken     = "token"
	KeyUser      = "user"
	KeyGuestMode = "guestMode"
)

// keyringService is the service name used in OS keyring storage.
const keyringService = "garden"

// Storage is a durable string key-value store.
type Storage interface {
	// Get returns the value and whether it was present.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Source indicates where a stored value was found.
type Source string

// Source constants identify where a value was loaded from.
const (
	SourceKeyring Source = "keyring"
	SourceFile    Source = "state file"
	SourceNone    Source = ""
)

// secretKeyring is the subset of go-keyring used by OriginStorage.
type secretKeyring interface {
	Get(service, user string) (string, error)
	Set(service, user, password string) error
	Delete(service, user string) error
}

type osKeyring struct{}

func (osKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }

func (osKeyring) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}

func (osKeyring) Delete(service, user string) error { return keyring.Delete(service, user) }

// OriginStorage stores values for a single API origin.
type OriginStorage struct {
	origin  string
	file    *FileStorage
	keyring secretKeyring
	secrets map[string]bool
}

// ForOrigin opens the storage namespace for apiURL under the state directory.
func ForOrigin(apiURL string) (*OriginStorage, error) {
	dir, err := paths.SessionsDir()
	if err != nil {
		return nil, fmt.Errorf("resolve sessions directory: %w", err)
	}

	return NewOriginStorage(apiURL, dir)
}

// NewOriginStorage opens the storage namespace for apiURL inside dir.
func NewOriginStorage(apiURL, dir string) (*OriginStorage, error) {
	origin, err := Origin(apiURL)
	if err != nil {
		return nil, err
	}

	return &OriginStorage{
		origin:  origin,
		file:    NewFileStorage(filepath.Join(dir, fileName(origin))),
		keyring: osKeyring{},
		secrets: map[string]bool{KeyToken: true},
	}, nil
}

// Origin returns the scheme://host[:port] part of rawURL.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}

	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("api url %q has no scheme or host", rawURL)
	}

	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

// OriginName returns the origin this storage is bound to.
func (s *OriginStorage) OriginName() string {
	return s.origin
}

// Path returns the state file backing non-secret values.
func (s *OriginStorage) Path() string {
	return s.file.Path()
}

// Get implements Storage.
func (s *OriginStorage) Get(key string) (string, bool, error) {
	value, _, ok, err := s.lookup(key)
	return value, ok, err
}

// Source reports where key is currently stored.
func (s *OriginStorage) Source(key string) Source {
	_, source, ok, err := s.lookup(key)
	if err != nil || !ok {
		return SourceNone
	}

	return source
}

func (s *OriginStorage) lookup(key string) (string, Source, bool, error) {
	if s.secrets[key] {
		value, err := s.keyring.Get(keyringService, s.account(key))
		if err == nil {
			return value, SourceKeyring, true, nil
		}
		// Any keyring failure falls through to the file.
	}

	value, ok, err := s.file.Get(key)
	if err != nil {
		return "", SourceNone, false, err
	}

	if !ok {
		return "", SourceNone, false, nil
	}

	return value, SourceFile, true, nil
}

// Set implements Storage. Secrets fall back to the file when the keyring
// rejects them.
func (s *OriginStorage) Set(key, value string) error {
	if s.secrets[key] {
		if err := s.keyring.Set(keyringService, s.account(key), value); err == nil {
			// A stale file copy would shadow nothing but should not linger.
			return s.file.Delete(key)
		}
	}

	return s.file.Set(key, value)
}

// Delete implements Storage. Deleting a missing key is not an error.
func (s *OriginStorage) Delete(key string) error {
	if s.secrets[key] {
		// Keyring may be unavailable; the file copy is removed regardless.
		_ = s.keyring.Delete(keyringService, s.account(key))
	}

	return s.file.Delete(key)
}

func (s *OriginStorage) account(key string) string {
	return s.origin + "#" + key
}

func fileName(origin string) string {
	replacer := strings.NewReplacer("://", "_", ":", "_", "/", "_", "[", "", "]", "")
	return replacer.Replace(origin) + ".json"
}
