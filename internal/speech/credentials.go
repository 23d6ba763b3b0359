package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// Credential is a provider account. Rejected credentials are disabled, never
// removed.
type Credential struct {
	ID      string   `yaml:"id" json:"id"`
	Keys    []string `yaml:"keys" json:"keys"`
	Enabled bool     `yaml:"enabled" json:"enabled"`
}

// Key returns the first key of the credential.
func (c Credential) Key() string {
	if len(c.Keys) == 0 {
		return ""
	}
	return c.Keys[0]
}

// ErrUnknownCredential is returned when toggling an id that is not stored.
var ErrUnknownCredential = errors.New("unknown credential")

// CredentialStore persists credentials. SetEnabled must be durable when it
// returns.
type CredentialStore interface {
	List(ctx context.Context) ([]Credential, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

// StaticCredentials keeps credentials in memory.
type StaticCredentials struct {
	mu    sync.Mutex
	creds []Credential
}

func NewStaticCredentials(creds ...Credential) *StaticCredentials {
	return &StaticCredentials{creds: append([]Credential(nil), creds...)}
}

func (s *StaticCredentials) List(context.Context) ([]Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Credential(nil), s.creds...), nil
}

func (s *StaticCredentials) SetEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.creds {
		if s.creds[i].ID == id {
			s.creds[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownCredential, id)
}

type credentialFile struct {
	Credentials []Credential `yaml:"credentials"`
}

// FileCredentials stores credentials in a YAML file guarded by an advisory
// lock on a sibling .lock file.
type FileCredentials struct {
	path string
	lock *flock.Flock
}

func NewFileCredentials(path string) *FileCredentials {
	return &FileCredentials{path: path, lock: flock.New(path + ".lock")}
}

func (f *FileCredentials) Path() string { return f.path }

func (f *FileCredentials) List(ctx context.Context) ([]Credential, error) {
	ok, err := f.lock.TryRLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock credentials: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock credentials: not acquired")
	}
	defer f.lock.Unlock()
	file, err := f.read()
	if err != nil {
		return nil, err
	}
	return file.Credentials, nil
}

func (f *FileCredentials) SetEnabled(ctx context.Context, id string, enabled bool) error {
	ok, err := f.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock credentials: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock credentials: not acquired")
	}
	defer f.lock.Unlock()

	file, err := f.read()
	if err != nil {
		return err
	}
	found := false
	for i := range file.Credentials {
		if file.Credentials[i].ID == id {
			file.Credentials[i].Enabled = enabled
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownCredential, id)
	}
	return f.write(file)
}

func (f *FileCredentials) read() (credentialFile, error) {
	var file credentialFile
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return file, nil
		}
		return file, fmt.Errorf("read credentials: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse credentials: %w", err)
	}
	return file, nil
}

func (f *FileCredentials) write(file credentialFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Watch signals on the returned channel whenever the credentials file is
// written, created or renamed into place. It stops when ctx is done.
func (f *FileCredentials) Watch(ctx context.Context, log *slog.Logger) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch credentials: %w", err)
	}
	// Watch the directory: atomic writes replace the file inode.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch credentials: %w", err)
	}
	target := filepath.Clean(f.path)
	out := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("credentials watch error", slogError(err))
			}
		}
	}()
	return out, nil
}

// Keyring selects the active credential and rotates away from rejected ones.
type Keyring struct {
	store  CredentialStore
	poll   time.Duration
	wake   <-chan struct{}
	logger *slog.Logger
}

func NewKeyring(store CredentialStore, poll time.Duration, log *slog.Logger) *Keyring {
	if poll <= 0 {
		poll = 10 * time.Minute
	}
	return &Keyring{store: store, poll: poll, logger: log.With(slog.String("component", "keyring"))}
}

// SetWake installs a channel that cuts an exhausted wait short.
func (k *Keyring) SetWake(ch <-chan struct{}) { k.wake = ch }

// Active returns the first enabled credential, blocking until one exists.
func (k *Keyring) Active(ctx context.Context) (Credential, error) {
	return k.next(ctx, "")
}

// next skips the credential named skip on the first pass only. Later passes
// trust the stored Enabled flag, so an operator can re-enable it.
func (k *Keyring) next(ctx context.Context, skip string) (Credential, error) {
	for pass := 0; ; pass++ {
		if pass > 0 {
			skip = ""
		}
		creds, err := k.store.List(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Credential{}, ctx.Err()
			}
			k.logger.Error("list credentials failed", slogError(err))
		}
		for _, c := range creds {
			if c.Enabled && c.Key() != "" && c.ID != skip {
				return c, nil
			}
		}
		if err == nil {
			k.logger.Error("no enabled credentials, waiting", slog.Duration("poll", k.poll))
		}
		timer := time.NewTimer(k.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Credential{}, ctx.Err()
		case <-timer.C:
		case <-k.wake:
			timer.Stop()
		}
	}
}

// Rotate disables failed and returns the next enabled credential.
func (k *Keyring) Rotate(ctx context.Context, failed Credential) (Credential, error) {
	if failed.ID != "" {
		if err := k.store.SetEnabled(ctx, failed.ID, false); err != nil {
			if ctx.Err() != nil {
				return Credential{}, ctx.Err()
			}
			k.logger.Error("disable credential failed", slog.String("credential", failed.ID), slogError(err))
		} else {
			k.logger.Warn("credential disabled", slog.String("credential", failed.ID))
		}
	}
	return k.next(ctx, failed.ID)
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
