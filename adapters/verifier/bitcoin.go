package verifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/minio/sha256-simd"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // hash160 is defined over RIPEMD-160

	"github.com/layer-3/cryptolock/core"
)

const bitcoinMessageMagic = "Bitcoin Signed Message:\n"

// BitcoinChain selects the address version bytes accepted by Bitcoin
type BitcoinChain string

const (
	BitcoinMainnet BitcoinChain = "mainnet"
	BitcoinTestnet BitcoinChain = "testnet"
)

type bitcoinParams struct {
	pubKeyHash byte
}

var bitcoinChains = map[BitcoinChain]bitcoinParams{
	BitcoinMainnet: {pubKeyHash: 0x00},
	BitcoinTestnet: {pubKeyHash: 0x6f},
}

// Bitcoin verifies signmessage-style compact signatures locally
type Bitcoin struct {
	chain  BitcoinChain
	params bitcoinParams
}

// NewBitcoin creates a verifier for chain
func NewBitcoin(chain BitcoinChain) (*Bitcoin, error) {
	params, ok := bitcoinChains[chain]
	if !ok {
		return nil, fmt.Errorf("unknown bitcoin chain %q", chain)
	}
	return &Bitcoin{chain: chain, params: params}, nil
}

// ValidateAddress accepts base58check P2PKH addresses of the configured chain.
// Script-hash addresses have no key to recover a signature against.
func (b *Bitcoin) ValidateAddress(address string) error {
	version, _, err := decodeBitcoinAddress(address)
	if err != nil {
		return err
	}
	if version != b.params.pubKeyHash {
		return fmt.Errorf("%w: not a %s pay-to-pubkey-hash address", core.ErrInvalidAddress, b.chain)
	}
	return nil
}

// Verify recovers the public key from the signature and compares its P2PKH
// address with the claimed one. Only compact signatures over the external
// challenge are accepted.
func (b *Bitcoin) Verify(_ context.Context, req core.VerifyRequest) (bool, error) {
	if !boundToIssuer(req) {
		return false, nil
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil || len(sig) != 65 {
		return false, nil
	}

	pub, compressed, err := ecdsa.RecoverCompact(sig, bitcoinMessageHash(req.Challenge))
	if err != nil {
		return false, nil
	}

	serialized := pub.SerializeUncompressed()
	if compressed {
		serialized = pub.SerializeCompressed()
	}
	return encodeBitcoinAddress(b.params.pubKeyHash, hash160(serialized)) == req.Address, nil
}

func bitcoinMessageHash(message string) []byte {
	var buf bytes.Buffer
	writeVarString(&buf, bitcoinMessageMagic)
	writeVarString(&buf, message)
	return doubleSHA256(buf.Bytes())
}

func writeVarString(buf *bytes.Buffer, s string) {
	n := uint64(len(s))
	switch {
	case n < 0xfd:
		buf.WriteByte(byte(n))
	case n <= 0xffff:
		buf.WriteByte(0xfd)
		_ = binary.Write(buf, binary.LittleEndian, uint16(n))
	case n <= 0xffffffff:
		buf.WriteByte(0xfe)
		_ = binary.Write(buf, binary.LittleEndian, uint32(n))
	default:
		buf.WriteByte(0xff)
		_ = binary.Write(buf, binary.LittleEndian, n)
	}
	buf.WriteString(s)
}

func doubleSHA256(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:]
}

func hash160(data []byte) []byte {
	sum := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}

func encodeBitcoinAddress(version byte, payload []byte) string {
	raw := make([]byte, 0, 1+len(payload)+4)
	raw = append(raw, version)
	raw = append(raw, payload...)
	raw = append(raw, doubleSHA256(raw)[:4]...)
	return base58.Encode(raw)
}

func decodeBitcoinAddress(address string) (byte, []byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", core.ErrInvalidAddress, err)
	}
	if len(raw) != 25 {
		return 0, nil, fmt.Errorf("%w: unexpected length %d", core.ErrInvalidAddress, len(raw))
	}
	body, checksum := raw[:21], raw[21:]
	if !bytes.Equal(doubleSHA256(body)[:4], checksum) {
		return 0, nil, fmt.Errorf("%w: bad checksum", core.ErrInvalidAddress)
	}
	return body[0], body[1:], nil
}
