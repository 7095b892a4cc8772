package password

import "errors"

var (
	ErrEmptyPassword   = errors.New("password is empty")
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	ErrMalformedHash   = errors.New("malformed password hash")
	ErrUnsupportedHash = errors.New("unsupported password hash algorithm")
)

// Hasher is a slow, salted, adaptive password hash. Salts are embedded in the
// encoded hash.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password string, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Scheme is a Hasher that can tell its own encodings apart from others.
type Scheme interface {
	Hasher
	Recognizes(encodedHash string) bool
}

// Multi hashes with its primary scheme and verifies against whichever scheme
// recognizes the stored encoding. A hash from a secondary scheme always
// reports NeedsUpgrade so callers can rehash after a successful login.
type Multi struct {
	primary Scheme
	others  []Scheme
}

func NewMulti(primary Scheme, others ...Scheme) *Multi {
	return &Multi{primary: primary, others: others}
}

func (m *Multi) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

func (m *Multi) Verify(password string, encodedHash string) (bool, error) {
	s, err := m.schemeFor(encodedHash)
	if err != nil {
		return false, err
	}
	return s.Verify(password, encodedHash)
}

func (m *Multi) NeedsUpgrade(encodedHash string) (bool, error) {
	if m.primary.Recognizes(encodedHash) {
		return m.primary.NeedsUpgrade(encodedHash)
	}
	if _, err := m.schemeFor(encodedHash); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Multi) schemeFor(encodedHash string) (Scheme, error) {
	if m.primary.Recognizes(encodedHash) {
		return m.primary, nil
	}
	for _, s := range m.others {
		if s.Recognizes(encodedHash) {
			return s, nil
		}
	}
	return nil, ErrUnsupportedHash
}
