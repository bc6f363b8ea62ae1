package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// UnitDomain(string name,string version,uint256 chainId)
	unitDomainTypeHash = ethcrypto.Keccak256(
		[]byte("UnitDomain(string name,string version,uint256 chainId)"),
	)

	// Unit(bytes32 unitId,bytes32 opportunityId,string asset,string provider,string buyVenue,string sellVenue,uint256 principal,uint256 repayment,uint256 deadline)
	unitTypeHash = ethcrypto.Keccak256(
		[]byte("Unit(bytes32 unitId,bytes32 opportunityId,string asset,string provider,string buyVenue,string sellVenue,uint256 principal,uint256 repayment,uint256 deadline)"),
	)
)

// UnitPayload is the set of execution-unit fields a loan provider checks
// before releasing funds. Amounts are fixed-point at scale 10^7.
type UnitPayload struct {
	UnitID        string `json:"unitId"`
	OpportunityID string `json:"opportunityId"`
	Asset         string `json:"asset"`
	Provider      string `json:"provider"`
	BuyVenue      string `json:"buyVenue"`
	SellVenue     string `json:"sellVenue"`
	Principal     int64  `json:"principal"`
	Repayment     int64  `json:"repayment"`
	Deadline      int64  `json:"deadline"` // unix seconds
}

// Signer authorises execution units with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
// chainID scopes signatures to one deployment.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return newSigner(pk, chainID), nil
}

// NewEphemeralSigner creates a Signer with a freshly generated key. Paper
// mode uses it so no wallet has to be configured.
func NewEphemeralSigner(chainID int) (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return newSigner(pk, chainID), nil
}

func newSigner(pk *ecdsa.PrivateKey, chainID int) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  DomainSeparator(chainID),
	}
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignUnit signs the unit payload and returns a hex-encoded 65-byte
// signature.
func (s *Signer) SignUnit(u UnitPayload) (string, error) {
	digest := UnitDigest(s.domainSep, u)
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// VerifyUnit reports whether signature over u was produced by address.
func VerifyUnit(domainSep []byte, u UnitPayload, signature string, address common.Address) bool {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return false
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(UnitDigest(domainSep, u), sig)
	if err != nil {
		return false
	}
	return ethcrypto.PubkeyToAddress(*pub) == address
}

// DomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func DomainSeparator(chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			unitDomainTypeHash,
			ethcrypto.Keccak256([]byte("FlashArb")),
			ethcrypto.Keccak256([]byte("1")),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// UnitDigest computes keccak256("\x19\x01" || domainSeparator || structHash).
func UnitDigest(domainSep []byte, u UnitPayload) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			unitTypeHash,
			ethcrypto.Keccak256([]byte(u.UnitID)),
			ethcrypto.Keccak256([]byte(u.OpportunityID)),
			ethcrypto.Keccak256([]byte(u.Asset)),
			ethcrypto.Keccak256([]byte(u.Provider)),
			ethcrypto.Keccak256([]byte(u.BuyVenue)),
			ethcrypto.Keccak256([]byte(u.SellVenue)),
			bigIntTo32Bytes(big.NewInt(u.Principal)),
			bigIntTo32Bytes(big.NewInt(u.Repayment)),
			bigIntTo32Bytes(big.NewInt(u.Deadline)),
		),
	)
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
