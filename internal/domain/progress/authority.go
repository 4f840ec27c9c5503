package progress

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// AuthoritySize - размер идентичности в байтах (публичный ключ ed25519).
const AuthoritySize = ed25519.PublicKeySize

// addressSeed - префикс при выводе адреса записи из authority.
const addressSeed = "user_progress"

// ══════════════════════════════════════════════════════════════════════════════
// AUTHORITY
// ══════════════════════════════════════════════════════════════════════════════

// Authority - криптографическая идентичность, единолично управляющая записью.
// Текстовая форма - base58.
type Authority [AuthoritySize]byte

// ParseAuthority разбирает base58-представление authority.
func ParseAuthority(s string) (Authority, error) {
	var a Authority
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != AuthoritySize {
		return a, ErrInvalidAuthority
	}
	copy(a[:], raw)
	if a.IsZero() {
		return a, ErrInvalidAuthority
	}
	return a, nil
}

// AuthorityFromPublicKey строит Authority из публичного ключа ed25519.
func AuthorityFromPublicKey(pub ed25519.PublicKey) (Authority, error) {
	var a Authority
	if len(pub) != AuthoritySize {
		return a, ErrInvalidAuthority
	}
	copy(a[:], pub)
	return a, nil
}

// String возвращает base58-представление.
func (a Authority) String() string {
	return base58.Encode(a[:])
}

// IsZero возвращает true для нулевой идентичности.
func (a Authority) IsZero() bool {
	return a == Authority{}
}

// PublicKey возвращает authority как ключ ed25519 для проверки подписей.
func (a Authority) PublicKey() ed25519.PublicKey {
	pub := make(ed25519.PublicKey, AuthoritySize)
	copy(pub, a[:])
	return pub
}

// MarshalText реализует encoding.TextMarshaler.
func (a Authority) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (a *Authority) UnmarshalText(text []byte) error {
	parsed, err := ParseAuthority(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ADDRESS
// ══════════════════════════════════════════════════════════════════════════════

// Address - детерминированный адрес записи, выведенный из authority.
// Хранилища используют его как уникальный ключ: одна запись на authority.
type Address [32]byte

// AddressOf выводит адрес записи: blake2b-256("user_progress" || authority).
func AddressOf(a Authority) Address {
	buf := make([]byte, 0, len(addressSeed)+AuthoritySize)
	buf = append(buf, addressSeed...)
	buf = append(buf, a[:]...)
	return Address(blake2b.Sum256(buf))
}

// String возвращает base58-представление адреса.
func (a Address) String() string {
	return base58.Encode(a[:])
}
