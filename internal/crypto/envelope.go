package crypto

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// Envelope layout: magic(8) | version(1) | salt(16) | iv(12) | tag(16) | ciphertext.
const (
	EnvelopeMagic   = "PMDBSNAP"
	EnvelopeVersion = byte(1)

	magicLen   = len(EnvelopeMagic)
	versionLen = 1
	saltLen    = DefaultScryptSaltLen

	HeaderSize = magicLen + versionLen + saltLen + GCMNonceSize + GCMTagSize
)

var (
	ErrMalformedEnvelope  = errors.New("backup: malformed envelope")
	ErrUnknownMagic       = errors.New("backup: not a database backup")
	ErrUnsupportedVersion = errors.New("backup: unsupported version")
)

type Header struct {
	Version byte
	Salt    []byte
	IV      []byte
	Tag     []byte
}

// ParseHeader checks length, magic and version. No key material is touched.
func ParseHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte header", ErrMalformedEnvelope, len(data), HeaderSize)
	}
	if !bytes.Equal(data[:magicLen], []byte(EnvelopeMagic)) {
		return Header{}, nil, ErrUnknownMagic
	}

	offset := magicLen
	version := data[offset]
	if version != EnvelopeVersion {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	offset += versionLen

	header := Header{Version: version}
	header.Salt = append([]byte{}, data[offset:offset+saltLen]...)
	offset += saltLen
	header.IV = append([]byte{}, data[offset:offset+GCMNonceSize]...)
	offset += GCMNonceSize
	header.Tag = append([]byte{}, data[offset:offset+GCMTagSize]...)
	offset += GCMTagSize

	return header, data[offset:], nil
}

func (h Header) encode() []byte {
	out := make([]byte, 0, HeaderSize)
	out = append(out, EnvelopeMagic...)
	out = append(out, h.Version)
	out = append(out, h.Salt...)
	out = append(out, h.IV...)
	out = append(out, h.Tag...)
	return out
}

// SealEnvelope encrypts payload under a key derived from password with a
// fresh salt and IV.
func SealEnvelope(payload, password []byte, params ScryptParams) ([]byte, error) {
	salt, err := randomBytes(saltLen)
	if err != nil {
		return nil, err
	}
	iv, err := randomBytes(GCMNonceSize)
	if err != nil {
		return nil, err
	}

	key, err := DeriveKeyFromPassword(password, salt, params)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	ciphertext, tag, err := SealAESGCM(key, iv, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("seal envelope: %w", err)
	}

	header := Header{Version: EnvelopeVersion, Salt: salt, IV: iv, Tag: tag}
	out := header.encode()
	return append(out, ciphertext...), nil
}

func OpenEnvelope(data, password []byte, params ScryptParams) ([]byte, error) {
	header, ciphertext, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	key, err := DeriveKeyFromPassword(password, header.Salt, params)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	payload, err := OpenAESGCM(key, header.IV, ciphertext, header.Tag, nil)
	if err != nil {
		return nil, err
	}
	return payload, nil
}
