// Package fileid derives stable, readable document IDs for policy files on disk.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	prefix     = "policy:"
	maxSlugLen = 40
	hashLen    = 12
)

// FileDocID returns "policy:<slug>-<hash>" for the given absolute path. The slug
// comes from the file name so citations stay readable; the hash covers the
// cleaned full path, so the same path always yields the same ID.
func FileDocID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	id := hex.EncodeToString(hash[:])[:hashLen]
	if s := slug(filepath.Base(normalized)); s != "" {
		return prefix + s + "-" + id
	}
	return prefix + id
}

func slug(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if r := []rune(s); len(r) > maxSlugLen {
		s = strings.TrimRight(string(r[:maxSlugLen]), "-")
	}
	return s
}
