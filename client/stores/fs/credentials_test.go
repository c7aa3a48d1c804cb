package fs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sofigonzalez2012/secrets-project/client"
)

func newStore(t *testing.T) (*FSCredentialStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	return store, path
}

func TestFSCredentialStore_GetSetRemove(t *testing.T) {
	store, _ := newStore(t)

	cred, err := store.GetCredential("http://localhost:3000")
	if err != nil || cred != nil {
		t.Fatalf("expected empty store, got %+v, %v", cred, err)
	}

	store.SetCredential("http://localhost:3000/secrets", &client.ServerCredential{Token: "tok-a", Username: "alice"})
	store.SetCredential("http://localhost:4000", &client.ServerCredential{Token: "tok-b"})

	cred, _ = store.GetCredential("http://localhost:3000")
	if cred == nil || cred.Token != "tok-a" {
		t.Fatalf("expected tok-a under the normalized key, got %+v", cred)
	}

	if err := store.RemoveCredential("http://localhost:3000"); err != nil {
		t.Fatalf("RemoveCredential() error = %v", err)
	}
	if cred, _ := store.GetCredential("http://localhost:3000"); cred != nil {
		t.Error("credential should be removed")
	}
	if cred, _ := store.GetCredential("http://localhost:4000"); cred == nil {
		t.Error("other credential should still exist")
	}

	servers, _ := store.ListServers()
	if len(servers) != 1 || servers[0] != "http://localhost:4000" {
		t.Errorf("ListServers() = %v", servers)
	}
}

func TestFSCredentialStore_SaveAndReload(t *testing.T) {
	store, path := newStore(t)
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	store.SetCredential("https://secrets.example.com", &client.ServerCredential{
		Token:     "persisted",
		AccountID: "acct-1",
		ExpiresAt: expires,
	})
	if err := store.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("file permissions = %o, want 600", mode)
	}

	reloaded, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	cred, _ := reloaded.GetCredential("https://secrets.example.com")
	if cred == nil {
		t.Fatal("expected credential to be persisted")
	}
	if cred.Token != "persisted" || cred.AccountID != "acct-1" || !cred.ExpiresAt.Equal(expires) {
		t.Errorf("reloaded credential = %+v", cred)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the credentials file, found %d entries", len(entries))
	}
}

func TestFSCredentialStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	os.WriteFile(path, []byte("{not json"), 0o600)

	if _, err := NewFSCredentialStore(path, ""); err == nil {
		t.Error("expected an error for a corrupt credentials file")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath("testapp")
	if err != nil {
		t.Skipf("no config directory on this machine: %v", err)
	}
	if filepath.Base(path) != "credentials.json" || filepath.Base(filepath.Dir(path)) != "testapp" {
		t.Errorf("DefaultPath() = %s", path)
	}
}
