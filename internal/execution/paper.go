package execution

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/bits"
	"sync"

	"solana-copy-trader/internal/liquidity"
	"solana-copy-trader/internal/models"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// DefaultPaperFeeBps approximates a pool's swap fee.
const DefaultPaperFeeBps = 25

// PaperSwapper fills orders against the order's pool reserves with the
// constant-product formula and keeps simulated balances. It implements both
// Swapper and Holdings.
type PaperSwapper struct {
	logger *zap.Logger
	feeBps uint64

	mu     sync.Mutex
	sol    uint64
	tokens map[string]uint64
	fills  int
}

// NewPaperSwapper starts with startSOL of simulated balance.
func NewPaperSwapper(startSOL float64, logger *zap.Logger) *PaperSwapper {
	return &PaperSwapper{
		logger: logger,
		feeBps: DefaultPaperFeeBps,
		sol:    models.SOLToLamports(startSOL),
		tokens: make(map[string]uint64),
	}
}

// Swap simulates order.
func (p *PaperSwapper) Swap(ctx context.Context, order SwapOrder) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	solR, tokR := liquidity.Reserves(order.Pool)
	if solR == 0 || tokR == 0 {
		return Fill{}, fmt.Errorf("%w: pool for %s has no reserves", ErrSimulationFailed, models.Short(order.Mint))
	}
	if order.AmountIn == 0 {
		return Fill{}, fmt.Errorf("%w: zero input", ErrSimulationFailed)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var out uint64
	switch order.Side {
	case SideBuy:
		need := order.AmountIn + order.TipLamports
		if p.sol < need {
			return Fill{}, fmt.Errorf("%w: need %.6f SOL, have %.6f SOL", ErrInsufficientFunds,
				models.LamportsToSOL(need), models.LamportsToSOL(p.sol))
		}
		out = swapOut(order.AmountIn, solR, tokR, p.feeBps)
		spot, _ := mulDiv(order.AmountIn, tokR, solR)
		if err := checkSlippage(out, spot, order.SlippageBps); err != nil {
			return Fill{}, err
		}
		p.sol -= need
		p.tokens[order.Mint] += out

	case SideSell:
		held := p.tokens[order.Mint]
		if held < order.AmountIn {
			return Fill{}, fmt.Errorf("%w: hold %d, selling %d", ErrInsufficientFunds, held, order.AmountIn)
		}
		out = swapOut(order.AmountIn, tokR, solR, p.feeBps)
		spot, _ := mulDiv(order.AmountIn, solR, tokR)
		if err := checkSlippage(out, spot, order.SlippageBps); err != nil {
			return Fill{}, err
		}
		if p.sol+out < order.TipLamports {
			return Fill{}, fmt.Errorf("%w: cannot cover tip", ErrInsufficientFunds)
		}
		p.sol = p.sol + out - order.TipLamports
		p.tokens[order.Mint] = held - order.AmountIn
		if order.CloseAccount && p.tokens[order.Mint] == 0 {
			delete(p.tokens, order.Mint)
		}

	default:
		return Fill{}, fmt.Errorf("unknown side %q", order.Side)
	}

	p.fills++
	sig, err := signature()
	if err != nil {
		return Fill{}, err
	}
	return Fill{Signature: sig, AmountOut: out}, nil
}

// TokenBalance returns the simulated holding of mint.
func (p *PaperSwapper) TokenBalance(_ context.Context, mint string) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokens[mint], nil
}

// SOLBalance returns the simulated native balance in lamports.
func (p *PaperSwapper) SOLBalance(context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sol, nil
}

// Deposit credits tokens, as if received from elsewhere.
func (p *PaperSwapper) Deposit(mint string, amount uint64) {
	p.mu.Lock()
	p.tokens[mint] += amount
	p.mu.Unlock()
}

// Fills counts successful simulated swaps.
func (p *PaperSwapper) Fills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills
}

// swapOut is the constant-product output for in against (reserveIn, reserveOut).
func swapOut(in, reserveIn, reserveOut, feeBps uint64) uint64 {
	net, _ := mulDiv(in, 10_000-feeBps, 10_000)
	out, ok := mulDiv(reserveOut, net, reserveIn+net)
	if !ok {
		return 0
	}
	return out
}

func checkSlippage(out, spot uint64, slippageBps int) error {
	if slippageBps < 0 || slippageBps > 10_000 {
		slippageBps = 10_000
	}
	minOut, _ := mulDiv(spot, uint64(10_000-slippageBps), 10_000)
	if out < minOut {
		return fmt.Errorf("%w: out %d below minimum %d (%d bps)", ErrSlippageExceeded, out, minOut, slippageBps)
	}
	return nil
}

// mulDiv computes a*b/d without intermediate overflow; ok is false when the
// quotient does not fit.
func mulDiv(a, b, d uint64) (uint64, bool) {
	if d == 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return ^uint64(0), false
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, true
}

func signature() (string, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate signature: %w", err)
	}
	return base58.Encode(buf[:]), nil
}
