// Package fs keeps client sessions in a JSON file readable only by its owner.
package fs

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sofigonzalez2012/secrets-project/client"
)

// FSCredentialStore holds one session per server, keyed by scheme and host
type FSCredentialStore struct {
	mu      sync.RWMutex
	path    string
	servers map[string]*client.ServerCredential
	dirty   bool
}

type credentialFile struct {
	Servers map[string]*client.ServerCredential `json:"servers"`
}

// DefaultPath returns <user config dir>/<appName>/credentials.json
func DefaultPath(appName string) (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "secrets"
	}
	return filepath.Join(configDir, appName, "credentials.json"), nil
}

// NewFSCredentialStore opens the store at path, or at DefaultPath(appName)
// when path is empty. A missing file is an empty store.
func NewFSCredentialStore(path string, appName string) (*FSCredentialStore, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(appName); err != nil {
			return nil, err
		}
	}
	store := &FSCredentialStore{path: path, servers: map[string]*client.ServerCredential{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	} else if err != nil {
		return nil, err
	}
	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if file.Servers != nil {
		store.servers = file.Servers
	}
	return store, nil
}

func serverKey(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host, nil
}

func (s *FSCredentialStore) GetCredential(serverURL string) (*client.ServerCredential, error) {
	key, err := serverKey(serverURL)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servers[key], nil
}

func (s *FSCredentialStore) SetCredential(serverURL string, cred *client.ServerCredential) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[key] = cred
	s.dirty = true
	return nil
}

func (s *FSCredentialStore) RemoveCredential(serverURL string) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[key]; ok {
		delete(s.servers, key)
		s.dirty = true
	}
	return nil
}

// ListServers returns the stored server keys in sorted order
func (s *FSCredentialStore) ListServers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	servers := make([]string, 0, len(s.servers))
	for k := range s.servers {
		servers = append(servers, k)
	}
	sort.Strings(servers)
	return servers, nil
}

// Save writes pending changes with mode 0600, replacing the file atomically
func (s *FSCredentialStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(credentialFile{Servers: s.servers}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	defer os.Remove(tmp.Name())
	// CreateTemp already uses 0600
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	s.dirty = false
	return nil
}

// Path returns the path to the credentials file
func (s *FSCredentialStore) Path() string {
	return s.path
}
