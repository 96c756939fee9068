package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// HashToken hashes a static peer token for storage in the endpoint config.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPeer accepts either a JWT whose subject is peerID or a static token
// matching the peer's bcrypt hash. An empty hash disables static tokens.
func VerifyPeer(peerID, token, hash string) error {
	if token == "" {
		return ErrInvalid
	}
	if claims, err := Parse(token); err == nil {
		if claims.PeerID() == peerID {
			return nil
		}
		return ErrInvalid
	}
	if hash == "" {
		return ErrInvalid
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
		return ErrInvalid
	}
	return nil
}
