package models

import (
	"math"
	"time"
)

// LamportsPerSOL converts between lamports and SOL.
const LamportsPerSOL = 1_000_000_000

// PoolProtocol is the AMM variant governing a mint's liquidity.
type PoolProtocol int

const (
	ProtocolUnknown PoolProtocol = iota
	ProtocolBondingCurve
	ProtocolConstantProduct
	ProtocolLegacyAmm
)

func (p PoolProtocol) String() string {
	switch p {
	case ProtocolBondingCurve:
		return "bonding_curve"
	case ProtocolConstantProduct:
		return "constant_product"
	case ProtocolLegacyAmm:
		return "legacy_amm"
	default:
		return "unknown"
	}
}

// PoolContext is the protocol-specific pool state attached to a classified
// transaction. The concrete type is one of BondingCurve, ConstantProductPool
// or LegacyAmm; callers switch on it.
type PoolContext interface {
	Protocol() PoolProtocol
	poolContext()
}

// BondingCurve is a launch-phase curve. Reserves are in base units.
type BondingCurve struct {
	Curve                string `json:"curve"`
	Creator              string `json:"creator,omitempty"`
	VirtualSolReserves   uint64 `json:"virtual_sol_reserves"`
	VirtualTokenReserves uint64 `json:"virtual_token_reserves"`
	RealSolReserves      uint64 `json:"real_sol_reserves"`
	RealTokenReserves    uint64 `json:"real_token_reserves"`
}

// ConstantProductPool is a post-migration x*y=k pool with SOL as quote.
type ConstantProductPool struct {
	Pool         string `json:"pool"`
	Creator      string `json:"creator,omitempty"`
	BaseReserve  uint64 `json:"base_reserve"`  // token base units
	QuoteReserve uint64 `json:"quote_reserve"` // lamports
	FeeRecipient string `json:"fee_recipient,omitempty"`
}

// LegacyAmm is the older AMM whose vaults sit under a shared authority.
type LegacyAmm struct {
	Authority    string  `json:"authority"`
	SolReserve   uint64  `json:"sol_reserve"`
	TokenReserve uint64  `json:"token_reserve"`
	Liquidity    float64 `json:"liquidity"` // SOL, both sides
}

func (BondingCurve) Protocol() PoolProtocol        { return ProtocolBondingCurve }
func (ConstantProductPool) Protocol() PoolProtocol { return ProtocolConstantProduct }
func (LegacyAmm) Protocol() PoolProtocol           { return ProtocolLegacyAmm }

func (BondingCurve) poolContext()        {}
func (ConstantProductPool) poolContext() {}
func (LegacyAmm) poolContext()           {}

// TransactionRecord is one stream event after classification. TokenChanges
// is negative for sells; SolChanges is the actor's native delta in lamports.
type TransactionRecord struct {
	Signature     string
	Slot          uint64
	TokenMint     string
	TokenDecimals uint8
	TokenChanges  int64
	SolChanges    int64
	IsBuy         bool
	ActorWallet   string
	Protocol      PoolProtocol
	Pool          PoolContext
	Timestamp     time.Time // block time when known, otherwise receive time
}

// Price returns SOL per whole token implied by the record's deltas.
func (r *TransactionRecord) Price() float64 {
	if r.TokenChanges == 0 {
		return 0
	}
	sol := math.Abs(float64(r.SolChanges)) / LamportsPerSOL
	tokens := math.Abs(float64(r.TokenChanges)) / math.Pow10(int(r.TokenDecimals))
	if tokens == 0 {
		return 0
	}
	return sol / tokens
}

// TokenAmount is the absolute token delta in base units.
func (r *TransactionRecord) TokenAmount() uint64 {
	if r.TokenChanges < 0 {
		return uint64(-(r.TokenChanges + 1)) + 1
	}
	return uint64(r.TokenChanges)
}

// SOLAmount is the absolute native delta in SOL.
func (r *TransactionRecord) SOLAmount() float64 {
	return math.Abs(float64(r.SolChanges)) / LamportsPerSOL
}

// UITokens converts base units into whole tokens for display.
func UITokens(amount uint64, decimals uint8) float64 {
	return float64(amount) / math.Pow10(int(decimals))
}

// LamportsToSOL converts lamports into SOL for display.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}

// SOLToLamports converts SOL into lamports, flooring.
func SOLToLamports(sol float64) uint64 {
	if sol <= 0 {
		return 0
	}
	return uint64(math.Floor(sol * LamportsPerSOL))
}

// Short abbreviates an address for log lines.
func Short(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:4] + "..." + addr[len(addr)-4:]
}
