package quicvc

import "crypto/rand"

// RandomSource supplies cryptographically strong random bytes for
// Connection-ID generation. It is the codec's only shared resource: the
// embedding must ensure its implementation is safe for concurrent use, or
// serialize access itself. Injecting it (rather than calling crypto/rand
// directly) lets tests supply a deterministic source.
type RandomSource interface {
	// Fill writes len(buf) random bytes into buf.
	Fill(buf []byte) error
}

// cryptoRandSource is the default RandomSource, backed by crypto/rand.
// crypto/rand.Reader is already safe for concurrent use, so no locking is
// needed here.
type cryptoRandSource struct{}

func (cryptoRandSource) Fill(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

// DefaultRandomSource is a RandomSource backed by crypto/rand.
var DefaultRandomSource RandomSource = cryptoRandSource{}

// GenerateConnectionID returns a fresh connection ID of the given length
// drawn from rs. Length must be in [0,20] per the wire limit on connection
// IDs; a zero-length ID is legal, though not emitted for long headers by
// this package's own Start().
func GenerateConnectionID(rs RandomSource, length int) ([]byte, error) {
	if length < 0 || length > maxConnectionIDLen {
		return nil, newDecodeErr(KindConnectionIdTooLong, -1,
			"connection ID length must be 0-20")
	}
	if rs == nil {
		rs = DefaultRandomSource
	}
	id := make([]byte, length)
	if length == 0 {
		return id, nil
	}
	if err := rs.Fill(id); err != nil {
		return nil, wrapDecodeErr(KindConnectionIdTooLong, -1, "generate connection ID", err)
	}
	return id, nil
}
