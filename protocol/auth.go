package protocol

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"

	siltdb "github.com/oarkflow/siltdb"
)

// Argon2id parameters, the OWASP-recommended baseline. Grounded on the
// teacher's crypto_fips.go DeriveKeyArgon2id/DefaultArgon2KeyDerivation.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// HashPassword returns an encoded "$argon2id$v=19$m=...,t=...,p=...$salt$hash"
// string, the same shape libraries in the ecosystem use so it can be
// stored directly in the credentials table.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
	return encoded, nil
}

// VerifyPassword checks password against an encoded hash produced by
// HashPassword, comparing in constant time.
func VerifyPassword(encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("siltdb/protocol: unrecognized password hash format")
	}
	var mem uint32
	var t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &t, &p); err != nil {
		return false, fmt.Errorf("siltdb/protocol: malformed hash params: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, t, mem, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// CredentialsTable is the Authenticator backing AwaitingAuth, backed by
// an in-memory map of username to Argon2id hash (spec §6). Grounded on
// the teacher's user_storage.go UserStorage interface, generalized from
// its single AuthenticateUser method into the fuller credentials-table
// shape spec §6 names.
type CredentialsTable struct {
	hashes map[string]string
}

func NewCredentialsTable() *CredentialsTable {
	return &CredentialsTable{hashes: make(map[string]string)}
}

// SetPassword hashes and stores password for username, replacing any
// prior credential.
func (t *CredentialsTable) SetPassword(username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	t.hashes[username] = hash
	return nil
}

// Authenticate implements Authenticator.
func (t *CredentialsTable) Authenticate(username, password string) (bool, error) {
	hash, ok := t.hashes[username]
	if !ok {
		return false, nil
	}
	return VerifyPassword(hash, password)
}

// sessionSigningKey is process-local: a session token verifies only
// against the server instance that issued it, and not after a restart.
var sessionSigningKey = randomSigningKey()

func randomSigningKey() []byte {
	key := make([]byte, 32)
	rand.Read(key)
	return key
}

// IssueSessionToken mints a short-lived JWT that is returned in AUTH_RESP
// and can be checked with VerifySessionToken (spec §4.2). The connection
// does not accept it in place of a password.
func IssueSessionToken(username string) string {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(sessionSigningKey)
	if err != nil {
		return ""
	}
	return signed
}

// VerifySessionToken validates a token minted by IssueSessionToken and
// returns the username it was issued for.
func VerifySessionToken(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return sessionSigningKey, nil
	})
	if err != nil || !token.Valid {
		return "", &siltdb.AuthError{Reason: "invalid or expired session token"}
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", &siltdb.AuthError{Reason: "malformed session claims"}
	}
	return claims.Subject, nil
}
