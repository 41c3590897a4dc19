// Package credentials holds the read-only username/password list the chat
// server authenticates against.
package credentials

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aeolun/linechat/pkg/database"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMalformedLine = errors.New("malformed credential line")
	ErrDuplicateUser = errors.New("duplicate username")
	ErrNoCredentials = errors.New("credential source contains no users")
)

// bcryptPrefixes identify stored passwords that are bcrypt hashes
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// Store maps username to password. It is never mutated after construction,
// so it is safe for concurrent use without locking.
type Store struct {
	passwords map[string]string
}

// FromPairs builds a store from username/password pairs. Usernames must be
// unique and non-empty.
func FromPairs(pairs map[string]string) (*Store, error) {
	if len(pairs) == 0 {
		return nil, ErrNoCredentials
	}
	s := &Store{passwords: make(map[string]string, len(pairs))}
	for user, pass := range pairs {
		if user == "" || strings.ContainsAny(user, " \t") {
			return nil, fmt.Errorf("%w: invalid username %q", ErrMalformedLine, user)
		}
		s.passwords[user] = pass
	}
	return s, nil
}

// Parse reads "username password" lines. Blank lines and lines starting
// with '#' are skipped.
func Parse(r io.Reader) (*Store, error) {
	pairs, err := ParsePairs(r)
	if err != nil {
		return nil, err
	}
	return FromPairs(pairs)
}

// ParsePairs reads the same format as Parse and returns the raw pairs
func ParsePairs(r io.Reader) (map[string]string, error) {
	pairs := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w at line %d", ErrMalformedLine, lineNo)
		}
		if _, dup := pairs[fields[0]]; dup {
			return nil, fmt.Errorf("%w %q at line %d", ErrDuplicateUser, fields[0], lineNo)
		}
		pairs[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if len(pairs) == 0 {
		return nil, ErrNoCredentials
	}
	return pairs, nil
}

// LoadFile reads a credential file in the user_pass.txt format
func LoadFile(path string) (*Store, error) {
	pairs, err := ReadPairsFile(path)
	if err != nil {
		return nil, err
	}
	store, err := FromPairs(pairs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return store, nil
}

// ReadPairsFile reads the username/password pairs of a credential file
func ReadPairsFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential file: %w", err)
	}
	defer f.Close()

	pairs, err := ParsePairs(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pairs, nil
}

// FromDatabase loads every user row of db
func FromDatabase(db *database.DB) (*Store, error) {
	creds, err := db.ListCredentials()
	if err != nil {
		return nil, err
	}
	pairs := make(map[string]string, len(creds))
	for _, c := range creds {
		pairs[c.Username] = c.Password
	}
	return FromPairs(pairs)
}

// Verify reports whether password matches the stored entry for username.
// Unknown users and empty inputs verify as false.
func (s *Store) Verify(username, password string) bool {
	if username == "" || password == "" {
		return false
	}
	stored, ok := s.passwords[username]
	if !ok {
		return false
	}
	if IsHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return stored == password
}

// Exists reports whether username is a known user
func (s *Store) Exists(username string) bool {
	_, ok := s.passwords[username]
	return ok
}

// Usernames returns all known usernames in sorted order
func (s *Store) Usernames() []string {
	names := make([]string, 0, len(s.passwords))
	for name := range s.passwords {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of users
func (s *Store) Len() int {
	return len(s.passwords)
}

// IsHash reports whether stored looks like a bcrypt hash
func IsHash(stored string) bool {
	for _, prefix := range bcryptPrefixes {
		if strings.HasPrefix(stored, prefix) {
			return true
		}
	}
	return false
}

// HashPassword returns a bcrypt hash suitable for storing in a credential
// file or the users table.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}
