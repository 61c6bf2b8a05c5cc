// internal/chain/solana/decode.go
package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/ursuslabs/agent-launchpad/internal/chain"
)

// discriminatorLen is the Anchor account discriminator prefix.
const discriminatorLen = 8

// agentAccountMinLen is the serialized size of an agent account with all six
// metadata strings empty: discriminator, agent id, two pubkeys, six string
// length prefixes, created_at, graduation flag, seven curve fields, bump.
const agentAccountMinLen = discriminatorLen + 8 + 32 + 32 + 6*4 + 8 + 1 + 7*8 + 1

// decoder walks little-endian account data with bounds checks. The first
// out-of-bounds read sticks; every later read returns the zero value.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.off+n > len(d.data) {
		d.err = fmt.Errorf("account data truncated at offset %d: need %d of %d bytes",
			d.off, n, len(d.data))
		return false
	}
	return true
}

func (d *decoder) u64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(d.data[d.off : d.off+8])
	d.off += 8
	return v
}

func (d *decoder) i64() int64 {
	return int64(d.u64())
}

func (d *decoder) boolean() bool {
	if !d.need(1) {
		return false
	}
	v := d.data[d.off] != 0
	d.off++
	return v
}

func (d *decoder) pubkey() solana.PublicKey {
	if !d.need(32) {
		return solana.PublicKey{}
	}
	keyBytes := make([]byte, 32)
	copy(keyBytes, d.data[d.off:d.off+32])
	d.off += 32
	return solana.PublicKeyFromBytes(keyBytes)
}

// str reads a borsh string: u32 little-endian length followed by raw bytes.
func (d *decoder) str() string {
	if !d.need(4) {
		return ""
	}
	n := int(binary.LittleEndian.Uint32(d.data[d.off : d.off+4]))
	d.off += 4
	if !d.need(n) {
		return ""
	}
	s := string(d.data[d.off : d.off+n])
	d.off += n
	return s
}

// DecodeAgentAccount parses the factory program's agent account layout:
// identity and metadata fields first, then the embedded bonding-curve block.
func DecodeAgentAccount(data []byte) (*chain.AgentAccount, error) {
	if len(data) < agentAccountMinLen {
		return nil, fmt.Errorf("agent account data too short: %d bytes, need at least %d",
			len(data), agentAccountMinLen)
	}

	d := &decoder{data: data, off: discriminatorLen}

	account := &chain.AgentAccount{}
	account.AgentID = d.u64()
	account.Mint = d.pubkey().String()
	account.Creator = d.pubkey().String()
	account.Name = d.str()
	account.Symbol = d.str()
	_ = d.str() // description
	_ = d.str() // instructions
	_ = d.str() // model
	_ = d.str() // category
	account.CreatedAt = d.i64()
	account.Graduated = d.boolean()

	account.VirtualSolReserves = d.u64()
	account.VirtualTokenReserves = d.u64()
	account.RealSolReserves = d.u64()
	account.RealTokenReserves = d.u64()
	account.GraduationThreshold = d.u64()
	account.BondingCurveSupply = d.u64()
	account.TotalSupply = d.u64()

	if d.err != nil {
		return nil, fmt.Errorf("failed to decode agent account: %w", d.err)
	}

	return account, nil
}

// AgentPDA derives the agent account address for an agent id under the
// factory program: seeds are the literal "agent" plus the id in little-endian.
func AgentPDA(programID solana.PublicKey, agentID uint64) (solana.PublicKey, error) {
	idBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(idBytes, agentID)

	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("agent"), idBytes},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive agent address: %w", err)
	}
	return pda, nil
}
