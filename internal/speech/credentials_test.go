package speech

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const credentialsYAML = `credentials:
  - id: first@example.org
    keys: [sk_first]
    enabled: true
  - id: second@example.org
    keys: [sk_second]
    enabled: true
`

func TestFileCredentialsDisablePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	if err := os.WriteFile(path, []byte(credentialsYAML), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	store := NewFileCredentials(path)
	ctx := context.Background()

	if err := store.SetEnabled(ctx, "first@example.org", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	creds, err := NewFileCredentials(path).List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("expected 2 credentials, got %d", len(creds))
	}
	if creds[0].Enabled || !creds[1].Enabled {
		t.Fatalf("unexpected enabled flags: %+v", creds)
	}
	if creds[1].Key() != "sk_second" {
		t.Fatalf("unexpected key %q", creds[1].Key())
	}

	if err := store.SetEnabled(ctx, "missing", true); !errors.Is(err, ErrUnknownCredential) {
		t.Fatalf("expected unknown credential error, got %v", err)
	}
}

func TestFileCredentialsMissingFileIsEmpty(t *testing.T) {
	store := NewFileCredentials(filepath.Join(t.TempDir(), "absent.yaml"))
	creds, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(creds) != 0 {
		t.Fatalf("expected no credentials, got %d", len(creds))
	}
}

func TestKeyringRotatePersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	if err := os.WriteFile(path, []byte(credentialsYAML), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	keyring := NewKeyring(NewFileCredentials(path), time.Hour, newLogger())
	ctx := context.Background()
	first, err := keyring.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	next, err := keyring.Rotate(ctx, first)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if next.ID != "second@example.org" {
		t.Fatalf("expected second credential, got %s", next.ID)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	creds, err := NewFileCredentials(path).List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if creds[0].Enabled {
		t.Fatalf("expected first credential disabled on disk:\n%s", data)
	}
}

func TestFileCredentialsWatchSignalsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	if err := os.WriteFile(path, []byte(credentialsYAML), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}
	store := NewFileCredentials(path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := store.Watch(ctx, newLogger())
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := store.SetEnabled(ctx, "first@example.org", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a watch signal")
	}
}
