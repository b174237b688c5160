package verifier

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/layer-3/cryptolock/core"
)

// MoneroChain selects the address prefixes accepted by Monero
type MoneroChain string

const (
	MoneroMainnet  MoneroChain = "mainnet"
	MoneroTestnet  MoneroChain = "testnet"
	MoneroStagenet MoneroChain = "stagenet"
)

type moneroPrefixes struct {
	standard   uint64
	integrated uint64
	subaddress uint64
}

var moneroChains = map[MoneroChain]moneroPrefixes{
	MoneroMainnet:  {standard: 18, integrated: 19, subaddress: 42},
	MoneroTestnet:  {standard: 53, integrated: 54, subaddress: 63},
	MoneroStagenet: {standard: 24, integrated: 25, subaddress: 36},
}

const (
	moneroAlphabet         = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	moneroFullBlock        = 8
	moneroFullEncodedBlock = 11
	moneroKeysLen          = 64 // spend + view public keys
	moneroPaymentIDLen     = 8
	moneroChecksumLen      = 4
)

// encoded length of a block, indexed by decoded length
var moneroEncodedBlockSizes = [...]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

func validateMoneroAddress(address string, prefixes moneroPrefixes) error {
	raw, err := decodeMoneroBase58(address)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidAddress, err)
	}
	if len(raw) <= moneroChecksumLen {
		return fmt.Errorf("%w: too short", core.ErrInvalidAddress)
	}

	body, checksum := raw[:len(raw)-moneroChecksumLen], raw[len(raw)-moneroChecksumLen:]
	if !bytes.Equal(crypto.Keccak256(body)[:moneroChecksumLen], checksum) {
		return fmt.Errorf("%w: bad checksum", core.ErrInvalidAddress)
	}

	prefix, n := binary.Uvarint(body)
	if n <= 0 {
		return fmt.Errorf("%w: bad prefix", core.ErrInvalidAddress)
	}
	payload := len(body) - n

	switch prefix {
	case prefixes.standard, prefixes.subaddress:
		if payload != moneroKeysLen {
			return fmt.Errorf("%w: unexpected length", core.ErrInvalidAddress)
		}
	case prefixes.integrated:
		if payload != moneroKeysLen+moneroPaymentIDLen {
			return fmt.Errorf("%w: unexpected length", core.ErrInvalidAddress)
		}
	default:
		return fmt.Errorf("%w: prefix %d does not belong to this network", core.ErrInvalidAddress, prefix)
	}
	return nil
}

// decodeMoneroBase58 decodes Monero's block-wise base58 variant:
// every 8 bytes are encoded independently into 11 characters.
func decodeMoneroBase58(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty address")
	}

	fullBlocks := len(s) / moneroFullEncodedBlock
	lastEncoded := len(s) % moneroFullEncodedBlock
	lastDecoded := -1
	for size, encoded := range moneroEncodedBlockSizes {
		if encoded == lastEncoded {
			lastDecoded = size
			break
		}
	}
	if lastDecoded < 0 {
		return nil, fmt.Errorf("invalid encoded length %d", len(s))
	}

	out := make([]byte, 0, fullBlocks*moneroFullBlock+lastDecoded)
	for i := 0; i < fullBlocks; i++ {
		block, err := decodeMoneroBlock(s[i*moneroFullEncodedBlock:(i+1)*moneroFullEncodedBlock], moneroFullBlock)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}
	if lastEncoded > 0 {
		block, err := decodeMoneroBlock(s[fullBlocks*moneroFullEncodedBlock:], lastDecoded)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}
	return out, nil
}

func decodeMoneroBlock(block string, size int) ([]byte, error) {
	var num uint64
	for i := 0; i < len(block); i++ {
		digit := strings.IndexByte(moneroAlphabet, block[i])
		if digit < 0 {
			return nil, fmt.Errorf("invalid character %q", block[i])
		}
		hi, lo := bits.Mul64(num, 58)
		if hi != 0 {
			return nil, fmt.Errorf("block overflow")
		}
		var carry uint64
		num, carry = bits.Add64(lo, uint64(digit), 0)
		if carry != 0 {
			return nil, fmt.Errorf("block overflow")
		}
	}
	if size < moneroFullBlock && num>>(8*uint(size)) != 0 {
		return nil, fmt.Errorf("block overflow")
	}

	out := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		out[i] = byte(num)
		num >>= 8
	}
	return out, nil
}
