// Package pathguard canonicalizes Dropbox paths and enforces the tenant
// root boundary. Every path built from user-controlled strings (client or
// project names) must pass AssertInsideRoot before it reaches the API.
package pathguard

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Separator is the Dropbox path separator. Dropbox paths are always
// slash-separated regardless of the client platform.
const Separator = "/"

// maxNameRunes caps a sanitized folder name. Dropbox allows 255 bytes per
// component; 100 runes keeps multibyte names well under that.
const maxNameRunes = 100

var (
	// ErrPathOutsideRoot is returned when a derived path escapes the tenant root.
	ErrPathOutsideRoot = errors.New("pathguard: path outside root")

	// ErrEmptyName is returned when a name sanitizes to nothing.
	ErrEmptyName = errors.New("pathguard: name is empty after sanitization")
)

// illegalNameChars are rejected by Dropbox or by desktop clients syncing the
// folder (Windows in particular).
const illegalNameChars = `<>:"/\|?*`

// NormalizeRoot produces the canonical form of a tenant root: trimmed,
// backslashes converted, duplicate separators collapsed, a single leading
// separator and no trailing one. An empty input yields "/".
func NormalizeRoot(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, `\`, Separator)
	s = collapseSeparators(s)
	s = strings.TrimSuffix(s, Separator)

	if !strings.HasPrefix(s, Separator) {
		s = Separator + s
	}

	return s
}

// Join concatenates segments with a single separator between them and a
// leading separator. Dot segments are kept verbatim: resolving them here
// would hide traversal attempts from AssertInsideRoot.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))

	for _, seg := range segments {
		seg = strings.Trim(seg, Separator)
		if seg == "" {
			continue
		}

		parts = append(parts, seg)
	}

	return collapseSeparators(Separator + strings.Join(parts, Separator))
}

// AssertInsideRoot returns an error wrapping ErrPathOutsideRoot unless
// candidate equals root or lies beneath it. Both the raw candidate and its
// lexically resolved form must satisfy the check, so "/root/../other" is
// rejected even though its raw prefix matches.
func AssertInsideRoot(root, candidate string) error {
	root = NormalizeRoot(root)

	if !contained(root, candidate) || !contained(root, path.Clean(candidate)) {
		return fmt.Errorf("%w: %q is not inside %q", ErrPathOutsideRoot, candidate, root)
	}

	return nil
}

func contained(root, candidate string) bool {
	if root == Separator {
		return strings.HasPrefix(candidate, Separator)
	}

	return candidate == root || strings.HasPrefix(candidate, root+Separator)
}

// SanitizeName turns a free-text name into a single safe folder component:
// NFC-normalized, illegal and control characters removed, whitespace runs
// collapsed, length capped.
func SanitizeName(raw string) (string, error) {
	s := norm.NFC.String(raw)

	var b strings.Builder

	b.Grow(len(s))

	lastSpace := false

	for _, r := range s {
		switch {
		case strings.ContainsRune(illegalNameChars, r), unicode.IsControl(r) && !unicode.IsSpace(r):
			continue
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
			}

			lastSpace = true

			continue
		}

		b.WriteRune(r)
		lastSpace = false
	}

	name := strings.TrimSpace(b.String())

	if runes := []rune(name); len(runes) > maxNameRunes {
		name = strings.TrimSpace(string(runes[:maxNameRunes]))
	}

	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptyName, raw)
	}

	// "." and ".." name the current and parent folder, never a new one.
	if strings.Trim(name, ".") == "" {
		return "", fmt.Errorf("%w: name %q is a relative segment", ErrPathOutsideRoot, raw)
	}

	return name, nil
}

// HasDotSegment reports whether p contains a "." or ".." segment. Paths
// built from sanitized names never do.
func HasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, Separator) {
		if seg == "." || seg == ".." {
			return true
		}
	}

	return false
}

// ClientPath builds root/<client>. A blank client name yields the root itself.
func ClientPath(root, client string) (string, error) {
	root = NormalizeRoot(root)

	if strings.TrimSpace(client) == "" {
		return root, nil
	}

	name, err := SanitizeName(client)
	if err != nil {
		return "", fmt.Errorf("client name: %w", err)
	}

	return Join(root, name), nil
}

// ProjectPath builds root/<client>/<project>, omitting the client segment
// when the client name is blank.
func ProjectPath(root, client, project string) (string, error) {
	base, err := ClientPath(root, client)
	if err != nil {
		return "", err
	}

	name, err := SanitizeName(project)
	if err != nil {
		return "", fmt.Errorf("project name: %w", err)
	}

	return Join(base, name), nil
}

func collapseSeparators(s string) string {
	for strings.Contains(s, Separator+Separator) {
		s = strings.ReplaceAll(s, Separator+Separator, Separator)
	}

	return s
}
