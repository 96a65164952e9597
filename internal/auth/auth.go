package auth

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"golang.org/x/crypto/hkdf"

	"github.com/dsr1111/auction-akatsuki/pkg/errors"
	"github.com/dsr1111/auction-akatsuki/pkg/types"
)

func GenerateEncryptionKey() ([]byte, error) {
	authSecret := os.Getenv("AUTH_SECRET")
	if authSecret == "" {
		return nil, errors.New(500, "AUTH_SECRET not set")
	}

	salt := "authjs.session-token"
	info := fmt.Sprintf("Auth.js Generated Encryption Key (%s)", salt)

	// HKDF with SHA-256
	hash := sha256.New
	kdf := hkdf.New(hash, []byte(authSecret), []byte(salt), []byte(info))

	// 32 bytes (256 bits) for A256GCM
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}

	return key, nil
}

func JweToJwt(encryptedToken string) (string, error) {
	key, err := GenerateEncryptionKey()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate encryption key")
	}

	// Decrypt JWE using DIRECT key encryption and A256GCM content encryption
	decrypted, err := jwe.Decrypt([]byte(encryptedToken),
		jwe.WithKey(jwa.DIRECT(), key))
	if err != nil {
		return "", errors.Wrap(err, "failed to decrypt JWE")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(decrypted, &payload); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal decrypted payload")
	}

	token := jwt.New()
	for k, v := range payload {
		token.Set(k, v)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), []byte(os.Getenv("AUTH_SECRET"))))
	if err != nil {
		return "", errors.Wrap(err, "failed to sign JWT")
	}

	return string(signed), nil
}

func ValidateTokenFromCookie(r *http.Request) (jwt.Token, error) {
	cookie, err := r.Cookie("authjs.session-token")
	if err != nil {
		return nil, errors.New(http.StatusUnauthorized, "missing session token cookie")
	}

	// Convert JWE to JWT
	jwtString, err := JweToJwt(cookie.Value)
	if err != nil {
		log.Error("Failed to convert JWE to JWT", "error", err)
		return nil, errors.Wrap(err, "failed to convert JWE to JWT")
	}

	// Verify JWT
	token, err := jwt.Parse([]byte(jwtString),
		jwt.WithKey(jwa.HS256(), []byte(os.Getenv("AUTH_SECRET"))),
		jwt.WithValidate(true))
	if err != nil {
		return nil, errors.Wrap(err, "failed to validate token")
	}

	// Check expiration
	if exp, ok := token.Expiration(); ok && exp.Before(time.Now()) {
		return nil, errors.New(http.StatusUnauthorized, "session token expired")
	}

	return token, nil
}

// UserFromToken extracts the capability carrier from a validated
// session token. Role resolution happened upstream when the token was
// issued; the auction core only ever consumes the booleans.
func UserFromToken(token jwt.Token) (types.User, error) {
	id, ok := token.Subject()
	if !ok {
		return types.User{}, errors.New(errors.ErrInvalidToken, "token has no subject")
	}

	user := types.User{ID: id}

	var nickname string
	if err := token.Get("displayName", &nickname); err == nil {
		user.Nickname = nickname
	} else if err := token.Get("name", &nickname); err == nil {
		user.Nickname = nickname
	}
	if user.Nickname == "" {
		return types.User{}, errors.New(errors.ErrInvalidToken, "token has no display name")
	}

	var discordID string
	if err := token.Get("discordId", &discordID); err == nil {
		user.DiscordID = discordID
	}
	var discordName string
	if err := token.Get("discordName", &discordName); err == nil {
		user.DiscordName = discordName
	}

	var isAdmin bool
	if err := token.Get("isAdmin", &isAdmin); err == nil {
		user.IsAdmin = isAdmin
	}
	var isMember bool
	if err := token.Get("isMember", &isMember); err == nil {
		user.IsMember = isMember
	}
	// Admins are always members of their own guild.
	if user.IsAdmin {
		user.IsMember = true
	}

	return user, nil
}

// UserFromRequest validates the session cookie and extracts the user.
func UserFromRequest(r *http.Request) (types.User, error) {
	token, err := ValidateTokenFromCookie(r)
	if err != nil {
		return types.User{}, err
	}
	return UserFromToken(token)
}
