package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	DefaultScryptN        = 1 << 15
	DefaultScryptR        = 8
	DefaultScryptP        = 1
	DefaultScryptKeyLen   = 32
	DefaultScryptSaltLen  = 16
	MaxScryptMemoryBytes  = 64 << 20
	minScryptSaltLen      = 16
	scryptBlockMultiplier = 128
)

var ErrInvalidScryptParams = errors.New("invalid scrypt parameters")

type ScryptParams struct {
	N         int
	R         int
	P         int
	KeyLen    int
	MaxMemory int64
}

func DefaultScryptParams() ScryptParams {
	return ScryptParams{
		N:         DefaultScryptN,
		R:         DefaultScryptR,
		P:         DefaultScryptP,
		KeyLen:    DefaultScryptKeyLen,
		MaxMemory: MaxScryptMemoryBytes,
	}
}

// MemoryBytes is the working set scrypt needs for these parameters.
func (p ScryptParams) MemoryBytes() int64 {
	return int64(scryptBlockMultiplier) * int64(p.N) * int64(p.R)
}

func (p ScryptParams) Validate() error {
	switch {
	case p.N <= 1 || p.N&(p.N-1) != 0:
		return fmt.Errorf("%w: N must be a power of two greater than 1", ErrInvalidScryptParams)
	case p.R <= 0:
		return fmt.Errorf("%w: r must be > 0", ErrInvalidScryptParams)
	case p.P <= 0:
		return fmt.Errorf("%w: p must be > 0", ErrInvalidScryptParams)
	case p.KeyLen != DefaultScryptKeyLen:
		return fmt.Errorf("%w: key length must be %d", ErrInvalidScryptParams, DefaultScryptKeyLen)
	case p.MaxMemory > 0 && p.MemoryBytes() > p.MaxMemory:
		return fmt.Errorf("%w: needs %d bytes, ceiling is %d", ErrInvalidScryptParams, p.MemoryBytes(), p.MaxMemory)
	default:
		return nil
	}
}

func DeriveKeyFromPassword(password []byte, salt []byte, params ScryptParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: password must not be empty", ErrInvalidScryptParams)
	}
	if len(salt) < minScryptSaltLen {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", ErrInvalidScryptParams, minScryptSaltLen)
	}

	key, err := scrypt.Key(password, salt, params.N, params.R, params.P, params.KeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive scrypt key: %w", err)
	}
	return key, nil
}
