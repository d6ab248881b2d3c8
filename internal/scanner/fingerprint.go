package scanner

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	derr "github.com/docdex/docdex/internal/errors"
)

// FastFingerprint computes the xxhash64 of a file's content. Cheap enough to
// run on every scan pass; used for quick change rejection only.
func FastFingerprint(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, vanishedOr(path, err)
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, vanishedOr(path, err)
	}
	return h.Sum64(), nil
}

// StrongFingerprint computes the hex sha256 of a file's content. The
// authority on whether bytes actually changed; computed lazily, only when the
// fast fingerprint already differs.
func StrongFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", vanishedOr(path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", vanishedOr(path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// StrongFingerprintBytes computes the hex sha256 of in-memory content.
func StrongFingerprintBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// vanishedOr classifies a fingerprint failure: a file disappearing mid-scan
// is a skippable condition, not a run failure.
func vanishedOr(path string, err error) error {
	if os.IsNotExist(err) {
		return derr.New(derr.ErrCodeFileVanished, "file vanished during scan", err).
			WithDetail("path", path)
	}
	return derr.New(derr.ErrCodeFileNotFound, "failed to read file", err).
		WithDetail("path", path)
}
