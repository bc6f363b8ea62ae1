// Package crypto holds the execution-unit signer, encrypted key storage and
// HMAC request signing for venue APIs.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	envelopeVersion  = 2
)

var (
	// ErrNoKeySource is returned when neither a raw key nor a key file is
	// configured and an ephemeral key is not allowed.
	ErrNoKeySource = errors.New("crypto: no signing key configured")
	// ErrWrongPassword is returned when a key file fails to authenticate.
	ErrWrongPassword = errors.New("crypto: key file did not decrypt (wrong password?)")
)

// keyEnvelope is the on-disk form of an encrypted unit-signing key. Address
// is stored in the clear so operators can tell key files apart, and is
// checked against the decrypted key.
type keyEnvelope struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig says where the unit-signing key comes from. RawPrivateKey wins
// over EncryptedKeyPath.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string

	// AllowEphemeral lets LoadSigner fall back to a generated key when
	// neither source is set.
	AllowEphemeral bool

	// ChainID scopes unit signatures.
	ChainID int
}

func (c KeyConfig) hasSource() bool {
	return c.RawPrivateKey != "" || c.EncryptedKeyPath != ""
}

// sealer derives the AES-256-GCM AEAD for password and salt.
func sealer(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptKey seals a hex secp256k1 key under password. The result is the
// JSON key file contents.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := sealer(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	b64 := base64.StdEncoding.EncodeToString
	return json.MarshalIndent(keyEnvelope{
		Version:    envelopeVersion,
		Address:    ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		Salt:       b64(salt),
		Nonce:      b64(nonce),
		Ciphertext: b64(aead.Seal(nil, nonce, ethcrypto.FromECDSA(pk), nil)),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the key as
// hex without a 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var env keyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if env.Version != envelopeVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", env.Version)
	}

	var salt, nonce, ct []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{{"salt", env.Salt, &salt}, {"nonce", env.Nonce, &nonce}, {"ciphertext", env.Ciphertext, &ct}} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", f.name, err)
		}
		*f.out = b
	}

	aead, err := sealer(password, salt)
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", ErrWrongPassword
	}
	pk, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return "", fmt.Errorf("crypto: key file holds an invalid key: %w", err)
	}
	if env.Address != "" && !strings.EqualFold(env.Address, ethcrypto.PubkeyToAddress(pk.PublicKey).Hex()) {
		return "", fmt.Errorf("crypto: key file address %s does not match its key", env.Address)
	}
	return hex.EncodeToString(plain), nil
}

// LoadKey resolves the configured key to hex.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: private key is not valid hex: %w", err)
		}
		return k, nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return "", ErrNoKeySource
	}
}

// LoadSigner resolves the configured key and builds a unit Signer.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	if !cfg.hasSource() && cfg.AllowEphemeral {
		return NewEphemeralSigner(cfg.ChainID)
	}
	key, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(key, cfg.ChainID)
}
