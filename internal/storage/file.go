package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/and161185/delta-auth/internal/crypto/clientcrypto"
	"github.com/and161185/delta-auth/internal/errs"
)

var (
	// ErrWrongPassphrase is returned when sealed values can't be opened.
	ErrWrongPassphrase = errors.New("storage: wrong passphrase or corrupt file")
	// ErrCorruptFile is returned by Get when the session document is not valid JSON.
	// Set and Delete replace such a document.
	ErrCorruptFile = errors.New("storage: corrupt session file")
)

// DefaultDir returns $XDG_CONFIG_HOME/delta-auth or ~/.config/delta-auth.
func DefaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "delta-auth")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "delta-auth")
}

type fileDoc struct {
	Sealed bool              `json:"sealed"`
	Salt   string            `json:"salt,omitempty"` // base64, present when sealed
	Values map[string]string `json:"values"`
}

// File persists values in a single JSON document (0600). With a non-empty
// passphrase each value is sealed with a key derived from it.
type File struct {
	path       string
	passphrase []byte

	mu      sync.Mutex
	key     []byte // derived lazily
	keySalt string // salt the cached key was derived from
}

// NewFile returns file storage at dir/session.json.
func NewFile(dir, passphrase string) *File {
	f := &File{path: filepath.Join(dir, "session.json")}
	if passphrase != "" {
		f.passphrase = []byte(passphrase)
	}
	return f
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

func (f *File) read() (*fileDoc, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &fileDoc{Values: map[string]string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCorruptFile, f.path, err)
	}
	if doc.Values == nil {
		doc.Values = map[string]string{}
	}
	return &doc, nil
}

// readOrReset is read for writers: a corrupt document is dropped and an
// empty one returned in its place.
func (f *File) readOrReset() (*fileDoc, bool, error) {
	doc, err := f.read()
	if errors.Is(err, ErrCorruptFile) {
		f.key, f.keySalt = nil, ""
		return &fileDoc{Values: map[string]string{}}, true, nil
	}
	return doc, false, err
}

func (f *File) write(doc *fileDoc) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// keyFor returns the sealing key for doc, creating a salt on first use.
func (f *File) keyFor(doc *fileDoc) ([]byte, error) {
	if doc.Salt == "" {
		salt, err := clientcrypto.Rand(clientcrypto.SaltLen)
		if err != nil {
			return nil, err
		}
		doc.Salt = base64.StdEncoding.EncodeToString(salt)
		doc.Sealed = true
		f.key, f.keySalt = clientcrypto.DeriveKey(f.passphrase, salt), doc.Salt
		return f.key, nil
	}
	if f.key == nil || f.keySalt != doc.Salt {
		salt, err := base64.StdEncoding.DecodeString(doc.Salt)
		if err != nil {
			return nil, ErrWrongPassphrase
		}
		f.key, f.keySalt = clientcrypto.DeriveKey(f.passphrase, salt), doc.Salt
	}
	return f.key, nil
}

func (f *File) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return "", err
	}
	v, ok := doc.Values[key]
	if !ok {
		return "", errs.ErrNotFound
	}
	if !doc.Sealed {
		return v, nil
	}
	if f.passphrase == nil {
		return "", ErrWrongPassphrase
	}
	k, err := f.keyFor(doc)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", ErrWrongPassphrase
	}
	pt, err := clientcrypto.Open(k, []byte(key), raw)
	if err != nil {
		return "", ErrWrongPassphrase
	}
	return string(pt), nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, _, err := f.readOrReset()
	if err != nil {
		return err
	}
	if f.passphrase == nil {
		if doc.Sealed && len(doc.Values) > 0 {
			return ErrWrongPassphrase
		}
		doc.Sealed, doc.Salt = false, ""
		doc.Values[key] = value
		return f.write(doc)
	}
	if !doc.Sealed && len(doc.Values) > 0 {
		// plaintext leftovers from an unsealed run are discarded
		doc.Values = map[string]string{}
	}
	k, err := f.keyFor(doc)
	if err != nil {
		return err
	}
	sealed, err := clientcrypto.Seal(k, []byte(key), []byte(value))
	if err != nil {
		return err
	}
	doc.Values[key] = base64.StdEncoding.EncodeToString(sealed)
	return f.write(doc)
}

func (f *File) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, reset, err := f.readOrReset()
	if err != nil {
		return err
	}
	changed := reset
	for _, k := range keys {
		if _, ok := doc.Values[k]; ok {
			delete(doc.Values, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if len(doc.Values) == 0 {
		err := os.Remove(f.path)
		f.key, f.keySalt = nil, ""
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return f.write(doc)
}
