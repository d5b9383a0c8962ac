// Package execution turns buy/sell decisions into swaps. The Engine owns the
// policy (slippage, blockhash, tips, sell retries and balance clamping); a
// Swapper does the protocol-specific submission.
package execution

import (
	"context"

	"solana-copy-trader/internal/models"
)

// Side of a swap.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// BuyRequest asks for a mirrored buy of AmountSOL into Mint.
type BuyRequest struct {
	Mint      string
	AmountSOL float64
	Pool      models.PoolContext
}

// BuyResult is a confirmed buy.
type BuyResult struct {
	Signature   string
	TokenAmount uint64
	SpentSOL    float64
	SlippageBps int
}

// SellRequest asks to sell Amount base units of Mint. FullExit closes the
// token account and applies the exit tip.
type SellRequest struct {
	Mint     string
	Amount   uint64
	Pool     models.PoolContext
	FullExit bool
}

// SellResult is a confirmed sell, or Stopped when no balance was left.
type SellResult struct {
	Signature   string
	Sold        uint64
	ReceivedSOL float64
	Stopped     bool
	Attempts    int
	SlippageBps int
}

// Executor is what the trading pipeline calls.
type Executor interface {
	Buy(ctx context.Context, req BuyRequest) (BuyResult, error)
	Sell(ctx context.Context, req SellRequest) (SellResult, error)
}

// SwapOrder is one fully parameterised swap handed to a Swapper.
type SwapOrder struct {
	Side         Side
	Mint         string
	Pool         models.PoolContext
	AmountIn     uint64 // lamports for buys, token base units for sells
	SlippageBps  int
	Blockhash    string
	TipLamports  uint64
	CloseAccount bool
}

// Fill is what a Swapper reports for a landed swap.
type Fill struct {
	Signature string
	AmountOut uint64 // token base units for buys, lamports for sells
}

// Swapper submits a swap and waits for confirmation.
type Swapper interface {
	Swap(ctx context.Context, order SwapOrder) (Fill, error)
}

// Holdings reports the controlled wallet's balances.
type Holdings interface {
	TokenBalance(ctx context.Context, mint string) (uint64, error)
	SOLBalance(ctx context.Context) (uint64, error)
}

// SellAttempts is the retry bound for a sell on protocol.
func SellAttempts(protocol models.PoolProtocol, fullExit bool) int {
	if protocol == models.ProtocolBondingCurve {
		if fullExit {
			return 1
		}
		return 10
	}
	if fullExit {
		return 10
	}
	return 2
}
