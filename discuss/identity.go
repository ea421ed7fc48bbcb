package discuss

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// emailPart excludes "@" and whitespace, Unicode spaces and the BOM included.
const emailPart = `[^\s\v\p{Z}\x{FEFF}@]+`

var emailPattern = regexp.MustCompile(`^` + emailPart + `@` + emailPart + `\.` + emailPart + `$`)

const anonymousName = "Anonymous"

// NormalizeEmail trims the address and reports whether it is well formed:
// a local part, "@", and a domain containing a dot.
func NormalizeEmail(email string) (string, bool) {
	email = strings.TrimSpace(email)

	return email, emailPattern.MatchString(email)
}

// DisplayName derives a human readable name from the local part of an
// email address: "jane.doe@x.com" becomes "Jane Doe".
func DisplayName(email string) string {
	localPart, _, _ := strings.Cut(strings.TrimSpace(email), "@")

	segments := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})

	if len(segments) == 0 {
		return anonymousName
	}

	for i, segment := range segments {
		first, size := utf8.DecodeRuneInString(segment)
		segments[i] = string(unicode.ToUpper(first)) + segment[size:]
	}

	return strings.Join(segments, " ")
}

func sameIdentity(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// StaticIdentity keeps the identity in memory. It backs the CLI and tests.
type StaticIdentity struct {
	mu    sync.RWMutex
	email string
}

var _ IdentityRepository = (*StaticIdentity)(nil)

func NewStaticIdentity(email string) *StaticIdentity {
	return &StaticIdentity{email: email}
}

func (si *StaticIdentity) Identity(_ context.Context) (string, error) {
	si.mu.RLock()
	defer si.mu.RUnlock()

	return si.email, nil
}

func (si *StaticIdentity) SetIdentity(_ context.Context, email string) error {
	si.mu.Lock()
	defer si.mu.Unlock()

	si.email = email

	return nil
}
