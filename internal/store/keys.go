package store

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxKeyLength      = 200
	maxFileNameLength = 240
	recordExt         = ".json"
)

// NewKey returns a random 128-bit identifier (UUIDv4) for store-generated keys.
func NewKey() string {
	return uuid.NewString()
}

// CompositeKey derives a deterministic key from semantic identity, e.g.
// CompositeKey("Capitano", "default") == "Capitano_default".
func CompositeKey(parts ...string) string {
	return strings.Join(parts, "_")
}

func validateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case len(key) > maxKeyLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, maxKeyLength)
	case !utf8.ValidString(key):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidKey)
	case strings.ContainsRune(key, 0):
		return fmt.Errorf("%w: contains NUL", ErrInvalidKey)
	case len(fileName(key)) > maxFileNameLength:
		return fmt.Errorf("%w: too long once escaped", ErrInvalidKey)
	}
	return nil
}

func validateNamespace(namespace string) error {
	if namespace == "" || len(namespace) > 64 {
		return fmt.Errorf("store: invalid namespace %q", namespace)
	}
	for _, r := range namespace {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return fmt.Errorf("store: invalid namespace %q", namespace)
		}
	}
	return nil
}

// fileName maps a key onto a single path segment. Separators, '%', reserved
// punctuation and control bytes are percent-encoded; other UTF-8 is kept as is
// so names like "Цзин Юань" stay readable on disk.
func fileName(key string) string {
	var b strings.Builder
	b.Grow(len(key) + len(recordExt))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if needsEscape(c) || (i == 0 && c == '.') {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	b.WriteString(recordExt)
	return b.String()
}

func needsEscape(c byte) bool {
	if c < 0x20 || c == 0x7f {
		return true
	}
	switch c {
	case '/', '\\', '%', ':', '*', '?', '"', '<', '>', '|':
		return true
	}
	return false
}

func keyFromFileName(name string) (string, error) {
	if !strings.HasSuffix(name, recordExt) {
		return "", fmt.Errorf("%w: %q is not a record file", ErrInvalidKey, name)
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, recordExt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}
