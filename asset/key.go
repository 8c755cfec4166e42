package asset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Key addresses one cached asset. It doubles as the cache file name.
type Key string

// KeyFromURL derives the key for a remote asset: the hex SHA-256 of the URL
// followed by the URL path extension, when it has a short alphanumeric one.
func KeyFromURL(rawURL string) (Key, error) {
	u, err := url.Parse(rawURL)
	if nil != err {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	sum := sha256.Sum256([]byte(rawURL))
	name := hex.EncodeToString(sum[:])

	if ext := strings.ToLower(path.Ext(u.Path)); isPlainExt(ext) {
		name += ext
	}

	return Key(name), nil
}

func isPlainExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 {
		return false
	}

	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}

	return true
}

func (k Key) validate() error {
	s := string(k)
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}

	return nil
}
