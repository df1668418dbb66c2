package types

import "golang.org/x/crypto/bcrypt"

// NicknameMaxLen is the maximum number of characters allowed in a nickname.
const NicknameMaxLen = 32

// User represents an account in the system.
// It contains identity, credential, and presence metadata.
//
// All timestamps are expressed as Unix epoch seconds so that
// representations compare and order identically across services.
type User struct {
	// ID is the unique identifier of the user.
	ID int64 `json:"id" db:"id"`

	// Nickname is the unique public name chosen by the user.
	Nickname string `json:"nickname" db:"nickname"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the epoch second at which the account was created.
	CreatedAt int64 `json:"created_at" db:"created_at"`

	// UpdatedAt is the epoch second of the most recent change to the
	// account, including presence transitions.
	UpdatedAt int64 `json:"updated_at" db:"updated_at"`

	// LastActiveAt is the epoch second of the last authenticated request
	// attributed to the user.
	LastActiveAt int64 `json:"last_active_at" db:"last_active_at"`

	// Online reports whether the user is currently considered present.
	// It is derived from LastActiveAt by the presence sweeper and is
	// never set directly by clients.
	Online bool `json:"online" db:"online"`
}

// HashPassword derives a storable hash from a plaintext password.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// SetPassword replaces the user's credential with a hash of plaintext.
// The plaintext itself is never retained.
func (u *User) SetPassword(plaintext string) error {
	hash, err := HashPassword(plaintext)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

// CheckPassword reports whether candidate matches the stored credential.
// There is no way to recover the original password from the hash.
func (u *User) CheckPassword(candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(candidate)) == nil
}

// UserPatch describes a partial update to a user. A nil field leaves the
// corresponding attribute unchanged.
type UserPatch struct {
	// Nickname, when set, replaces the user's nickname.
	Nickname *string `json:"nickname"`

	// Password, when set, replaces the user's credential. The value is
	// hashed before storage and never persisted in plaintext.
	Password *string `json:"password"`
}

// Empty reports whether the patch carries no changes.
func (p UserPatch) Empty() bool {
	return p.Nickname == nil && p.Password == nil
}
