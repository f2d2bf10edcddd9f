// Package auth verifies request signatures for every supported address type
// and issues short-lived session tokens on success.
package auth

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/accounts"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request signature headers.
const (
	HeaderPublicKey = "x-public-key"
	HeaderNonce     = "x-nonce"
	HeaderSignature = "x-signature"
)

// ErrUnauthorized is returned for any signature that does not verify.
var ErrUnauthorized = errors.New("signature verification failed")

// VerifyParams carries one signed request. The signed data is
// additionalData, when present, followed by the nonce.
type VerifyParams struct {
	AddressType    string // arweave | ethereum | base-eth | matic | pol | solana | ed25519
	PublicKey      string // base64url RSA modulus, hex secp256k1 key, or base58 ed25519 key
	Signature      []byte
	Nonce          string
	AdditionalData string
}

func (p VerifyParams) signedData() []byte {
	return []byte(p.AdditionalData + p.Nonce)
}

// VerifySignature checks the signature for the address type and returns the
// native address the public key controls.
func VerifySignature(params VerifyParams) (string, error) {
	switch strings.ToLower(strings.TrimSpace(params.AddressType)) {
	case "arweave", "ario":
		return verifyArweave(params)
	case "ethereum", "base-eth", "matic", "pol":
		return verifyEthereum(params)
	case "solana", "ed25519":
		return verifyEd25519(params)
	default:
		return "", fmt.Errorf("%w: unsupported address type %q", ErrUnauthorized, params.AddressType)
	}
}

// verifyArweave checks an RSA-PSS signature over SHA-256. Older wallets sign
// with a zero salt; the standard salt length is tried as a fallback. The
// native address is the base64url SHA-256 of the modulus.
func verifyArweave(params VerifyParams) (string, error) {
	modulusBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(params.PublicKey))
	if err != nil {
		return "", fmt.Errorf("%w: bad arweave public key: %v", ErrUnauthorized, err)
	}
	pub := &rsa.PublicKey{N: new(big.Int).SetBytes(modulusBytes), E: 65537}
	digest := sha256.Sum256(params.signedData())
	saltLengths := []int{0, 32}
	var lastErr error
	for _, salt := range saltLengths {
		opts := &rsa.PSSOptions{SaltLength: salt, Hash: crypto.SHA256}
		if lastErr = rsa.VerifyPSS(pub, crypto.SHA256, digest[:], params.Signature, opts); lastErr == nil {
			return arweaveAddress(modulusBytes), nil
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUnauthorized, lastErr)
}

func arweaveAddress(modulusBytes []byte) string {
	sum := sha256.Sum256(modulusBytes)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// verifyEthereum recovers the signer from an Ethereum signed-message
// signature and matches the recovered address against the supplied key.
func verifyEthereum(params VerifyParams) (string, error) {
	if len(params.Signature) != 65 {
		return "", fmt.Errorf("%w: signature must be 65 bytes", ErrUnauthorized)
	}
	sig := make([]byte, 65)
	copy(sig, params.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	hash := accounts.TextHash(params.signedData())
	recovered, err := gethcrypto.SigToPub(hash, sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	address := gethcrypto.PubkeyToAddress(*recovered)
	if key := strings.TrimSpace(params.PublicKey); key != "" {
		keyBytes, err := decodeHex(key)
		if err != nil {
			return "", fmt.Errorf("%w: bad ethereum public key: %v", ErrUnauthorized, err)
		}
		supplied, err := gethcrypto.UnmarshalPubkey(keyBytes)
		if err != nil {
			// Compressed keys are accepted too.
			supplied, err = gethcrypto.DecompressPubkey(keyBytes)
			if err != nil {
				return "", fmt.Errorf("%w: bad ethereum public key: %v", ErrUnauthorized, err)
			}
		}
		if gethcrypto.PubkeyToAddress(*supplied) != address {
			return "", fmt.Errorf("%w: recovered address mismatch", ErrUnauthorized)
		}
	}
	return address.Hex(), nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd length hex")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, lo := hexNibble(s[2*i]), hexNibble(s[2*i+1])
		if hi < 0 || lo < 0 {
			return nil, fmt.Errorf("bad hex byte %q", s[2*i:2*i+2])
		}
		out[i] = byte(hi<<4 | lo)
	}
	return out, nil
}

func hexNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}

// verifyEd25519 checks an ed25519 signature. The native address is the
// base58 public key, solana style.
func verifyEd25519(params VerifyParams) (string, error) {
	keyBytes := base58.Decode(strings.TrimSpace(params.PublicKey))
	if len(keyBytes) != ed25519.PublicKeySize {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(params.PublicKey))
		if err != nil || len(decoded) != ed25519.PublicKeySize {
			return "", fmt.Errorf("%w: bad ed25519 public key", ErrUnauthorized)
		}
		keyBytes = decoded
	}
	if !ed25519.Verify(ed25519.PublicKey(keyBytes), params.signedData(), params.Signature) {
		return "", ErrUnauthorized
	}
	return base58.Encode(keyBytes), nil
}
