// Package authsrv owns the server's user store and its API-key
// authentication middleware. Grounded on the teacher's auth package:
// bcrypt password hashing and crypto/rand token generation carry over
// from auth/utils.go unchanged; the package-level Sessions/Users maps
// are replaced by one owned Store guarded by a single mutex, keyed by
// API key instead of session cookie, per the spec's bearer-token model.
package authsrv

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"gamevault/pkg/apierrors"
)

// User is one registered account.
type User struct {
	Username     string `yaml:"-"`
	PasswordHash string `yaml:"password_hash"`
	APIKey       string `yaml:"api_key"`
}

type usersDoc struct {
	Users map[string]*userRecord `yaml:"users"`
}

type userRecord struct {
	PasswordHash string `yaml:"password_hash"`
	APIKey       string `yaml:"api_key"`
}

// Store is the owned user registry: one mutex guards both the
// username and API-key indexes so registration, auth, and rotation
// never race.
type Store struct {
	mu      sync.RWMutex
	path    string
	byName  map[string]*User
	byKey   map[string]string // api key -> username
}

func NewStore(path string) *Store {
	return &Store{path: path, byName: map[string]*User{}, byKey: map[string]string{}}
}

// Load reads users.yaml from disk, tolerating a missing file (fresh
// install).
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return apierrors.Storage("read users store", err)
	}

	var doc usersDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return apierrors.Config("parse users store", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, rec := range doc.Users {
		u := &User{Username: name, PasswordHash: rec.PasswordHash, APIKey: rec.APIKey}
		s.byName[name] = u
		s.byKey[rec.APIKey] = name
	}
	return nil
}

// save persists the store; caller must hold s.mu (read lock is enough
// since yaml.Marshal only reads).
func (s *Store) save() error {
	doc := usersDoc{Users: make(map[string]*userRecord, len(s.byName))}
	for name, u := range s.byName {
		doc.Users[name] = &userRecord{PasswordHash: u.PasswordHash, APIKey: u.APIKey}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return apierrors.Storage("marshal users store", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return apierrors.Storage("write users store tmp file", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return apierrors.Storage("rename users store into place", err)
	}
	return nil
}

// ErrUserExists is returned by Register for a username already taken.
var ErrUserExists = apierrors.Auth("user already exists")

// Register creates a new user with a freshly generated API key.
func (s *Store) Register(username, password string) (apiKey string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return "", ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apierrors.Config("hash password", err)
	}
	key, err := generateToken(32)
	if err != nil {
		return "", err
	}

	u := &User{Username: username, PasswordHash: string(hash), APIKey: key}
	s.byName[username] = u
	s.byKey[key] = username

	if err := s.save(); err != nil {
		return "", err
	}
	return key, nil
}

// Authenticate resolves an API key to its owning username.
func (s *Store) Authenticate(apiKey string) (username string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, found := s.byKey[apiKey]
	return name, found
}

// ChangePassword verifies currentPassword, sets newPassword, and
// rotates the account's API key (the old key is immediately invalid).
func (s *Store) ChangePassword(username, currentPassword, newPassword string) (newAPIKey string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byName[username]
	if !ok {
		return "", apierrors.Auth("unknown user")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(currentPassword)) != nil {
		return "", apierrors.Auth("incorrect password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", apierrors.Config("hash password", err)
	}
	key, err := generateToken(32)
	if err != nil {
		return "", err
	}

	delete(s.byKey, u.APIKey)
	u.PasswordHash = string(hash)
	u.APIKey = key
	s.byKey[key] = username

	if err := s.save(); err != nil {
		return "", err
	}
	return key, nil
}

// Delete removes an account after verifying its password.
func (s *Store) Delete(username, currentPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byName[username]
	if !ok {
		return apierrors.Auth("unknown user")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(currentPassword)) != nil {
		return apierrors.Auth("incorrect password")
	}

	delete(s.byKey, u.APIKey)
	delete(s.byName, username)
	return s.save()
}

func generateToken(length int) (string, error) {
	arr := make([]byte, length)
	if _, err := rand.Read(arr); err != nil {
		return "", apierrors.Config("generate api key", err)
	}
	return base64.URLEncoding.EncodeToString(arr), nil
}

// Authorize is gin middleware authenticating every request except
// /register by X-API-Key header or api-key query parameter, per the
// spec's HTTP surface. On success it stashes the username in the gin
// context under "username".
func Authorize(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api-key")
		}
		if key == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "missing api key"})
			return
		}
		username, ok := store.Authenticate(key)
		if !ok {
			c.AbortWithStatusJSON(401, gin.H{"error": "invalid api key"})
			return
		}
		c.Set("username", username)
		c.Next()
	}
}

// SignDownloadLink produces a short-lived HMAC-SHA256 signature over a
// resource path, an owning username, and an expiry, the same scheme as
// the teacher's auth/downloadLink.go (there keyed to a file path and
// session user; here to a game's downloadable resource path).
func SignDownloadLink(secret []byte, resourcePath, username string, exp time.Time) string {
	message := fmt.Sprintf("%s|%s|%d", resourcePath, username, exp.Unix())
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyDownloadLink checks a signature produced by SignDownloadLink,
// rejecting it once exp has passed.
func VerifyDownloadLink(secret []byte, resourcePath, username string, exp time.Time, sig string) bool {
	if time.Now().After(exp) {
		return false
	}
	want := SignDownloadLink(secret, resourcePath, username, exp)
	return hmac.Equal([]byte(want), []byte(sig))
}
