package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
)

// Signer produces the per-oracle signatures attached to outbound teleports.
// Counterpart-chain relayers collect these until the claim contract's
// threshold is met.
type Signer struct {
	key *ecdsa.PrivateKey
}

func NewSigner(keyPath string) (*Signer, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %v", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", keyPath)
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %v", err)
	}

	return &Signer{key: key}, nil
}

// GenerateSigner creates an ephemeral key, used by tests and first-run setup.
func GenerateSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

// TeleportDigest packs the fields every oracle must agree on into a
// canonical byte layout and hashes them. All integers are big-endian so
// the digest is identical regardless of host.
func TeleportDigest(id uint64, timestamp int64, account string, quantity uint64, chainID uint32, ethAddress string) [32]byte {
	var buf []byte
	buf = binary.BigEndian.AppendUint64(buf, id)
	buf = binary.BigEndian.AppendUint64(buf, uint64(timestamp))
	buf = append(buf, []byte(account)...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint64(buf, quantity)
	buf = binary.BigEndian.AppendUint32(buf, chainID)
	buf = append(buf, []byte(ethAddress)...)
	return sha256.Sum256(buf)
}

// Sign returns a hex-encoded r||s signature over the teleport digest, with
// each component left-padded to 32 bytes.
func (s *Signer) Sign(digest [32]byte) (string, error) {
	r, sv, err := ecdsa.Sign(rand.Reader, s.key, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign: %v", err)
	}

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	sv.FillBytes(sig[32:])
	return hex.EncodeToString(sig), nil
}

// Verify checks a hex r||s signature against this signer's public key.
func (s *Signer) Verify(digest [32]byte, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != 64 {
		return false
	}
	r := new(big.Int).SetBytes(sig[:32])
	sv := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(&s.key.PublicKey, digest[:], r, sv)
}
