// Package classifier normalises streamed swap transactions into
// TransactionRecords: mint, direction, actor, deltas and pool state.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"

	"solana-copy-trader/internal/models"
	"solana-copy-trader/internal/stream"

	"github.com/mr-tron/base58"
)

// Discard reasons. An event that fails classification is dropped, not
// reported as a failure.
var (
	ErrFailedTransaction = errors.New("transaction failed on chain")
	ErrUnknownProtocol   = errors.New("no supported swap program")
	ErrMissingMint       = errors.New("token mint not found")
	ErrNoTokenChange     = errors.New("zero token change")
	ErrMissingMeta       = errors.New("transaction meta missing")
	ErrAmountOverflow    = errors.New("balance delta out of range")
)

// Classify turns ev into a record, or returns one of the discard errors.
func Classify(ev stream.TransactionEvent) (models.TransactionRecord, error) {
	meta := ev.Transaction.Meta
	if meta == nil {
		return models.TransactionRecord{}, ErrMissingMeta
	}
	if meta.Err != nil {
		return models.TransactionRecord{}, ErrFailedTransaction
	}

	tx := view{ev: ev, meta: meta}
	protocol := tx.detectProtocol()

	var (
		rec models.TransactionRecord
		err error
	)
	switch protocol {
	case models.ProtocolLegacyAmm:
		rec, err = tx.classifyLegacy()
	case models.ProtocolBondingCurve, models.ProtocolConstantProduct:
		rec, err = tx.classifyCurveOrPool(protocol)
	default:
		return models.TransactionRecord{}, ErrUnknownProtocol
	}
	if err != nil {
		return models.TransactionRecord{}, err
	}
	if rec.TokenChanges == 0 {
		return models.TransactionRecord{}, ErrNoTokenChange
	}
	rec.Signature = ev.Signature
	rec.Slot = ev.Slot
	rec.Protocol = protocol
	rec.Timestamp = ev.Timestamp()
	return rec, nil
}

type view struct {
	ev   stream.TransactionEvent
	meta *stream.Meta
}

func (v view) keys() []stream.AccountKey {
	return v.ev.Transaction.Transaction.Message.AccountKeys
}

func (v view) detectProtocol() models.PoolProtocol {
	seen := make(map[string]bool)
	for _, k := range v.keys() {
		seen[k.Pubkey] = true
	}
	for _, ix := range v.ev.Transaction.Transaction.Message.Instructions {
		seen[ix.ProgramID] = true
	}
	for _, b := range v.meta.PostTokenBalances {
		if b.Owner == RaydiumAuthority {
			seen[RaydiumAuthority] = true
		}
	}

	switch {
	case seen[RaydiumAuthority] || seen[RaydiumAmmV4Program]:
		return models.ProtocolLegacyAmm
	case seen[PumpSwapProgram]:
		return models.ProtocolConstantProduct
	case seen[PumpFunProgram] || seen[LaunchLabProgram] || seen[LaunchPadAuthority]:
		return models.ProtocolBondingCurve
	}
	return models.ProtocolUnknown
}

// classifyLegacy reads both sides of the swap at the shared AMM authority.
// Deltas are pool-side: a pool losing tokens is a buy.
func (v view) classifyLegacy() (models.TransactionRecord, error) {
	var (
		rec                 models.TransactionRecord
		preSol, postSol     uint64
		preToken, postToken uint64
		actor               string
	)
	for _, b := range v.meta.PostTokenBalances {
		if b.Owner != RaydiumAuthority {
			actor = preferActor(actor, b.Owner, v.ev.FeePayer())
			continue
		}
		if b.Mint == NativeMint {
			postSol = amount(b)
			continue
		}
		postToken = amount(b)
		rec.TokenMint = b.Mint
		rec.TokenDecimals = b.UITokenAmount.Decimals
	}
	for _, b := range v.meta.PreTokenBalances {
		if b.Owner != RaydiumAuthority {
			actor = preferActor(actor, b.Owner, v.ev.FeePayer())
			continue
		}
		if b.Mint == NativeMint {
			preSol = amount(b)
		} else {
			preToken = amount(b)
		}
	}
	if !validKey(rec.TokenMint) {
		return models.TransactionRecord{}, ErrMissingMint
	}
	if actor == "" {
		actor = v.ev.FeePayer()
	}

	tokenDelta, ok := signedDelta(postToken, preToken)
	if !ok {
		return models.TransactionRecord{}, ErrAmountOverflow
	}
	solDelta, ok := signedDelta(postSol, preSol)
	if !ok {
		return models.TransactionRecord{}, ErrAmountOverflow
	}
	rec.TokenChanges = tokenDelta
	rec.SolChanges = solDelta
	rec.IsBuy = rec.TokenChanges > 0
	rec.ActorWallet = actor
	rec.Pool = models.LegacyAmm{
		Authority:    RaydiumAuthority,
		SolReserve:   postSol,
		TokenReserve: postToken,
		Liquidity:    2 * models.LamportsToSOL(preSol),
	}
	return rec, nil
}

// classifyCurveOrPool finds the traded mint, the trader and the pool
// account from token balance owners, then reads the trader's deltas.
func (v view) classifyCurveOrPool(protocol models.PoolProtocol) (models.TransactionRecord, error) {
	var rec models.TransactionRecord

	owners := make(map[string]bool)
	var order []string
	collect := func(bals []stream.TokenBalance) {
		for _, b := range bals {
			if b.Mint == NativeMint {
				continue
			}
			if rec.TokenMint == "" {
				rec.TokenMint = b.Mint
				rec.TokenDecimals = b.UITokenAmount.Decimals
			}
			if b.Mint != rec.TokenMint || IsInfrastructure(b.Owner) || owners[b.Owner] {
				continue
			}
			owners[b.Owner] = true
			order = append(order, b.Owner)
		}
	}
	collect(v.meta.PostTokenBalances)
	collect(v.meta.PreTokenBalances)
	if !validKey(rec.TokenMint) {
		return models.TransactionRecord{}, ErrMissingMint
	}

	actor := v.pickActor(order)
	if actor == "" {
		return models.TransactionRecord{}, fmt.Errorf("%w: no trader holds %s", ErrMissingMint, models.Short(rec.TokenMint))
	}
	pool := ""
	for _, o := range order {
		if o != actor {
			pool = o
			break
		}
	}

	pre := sumFor(v.meta.PreTokenBalances, actor, rec.TokenMint)
	post := sumFor(v.meta.PostTokenBalances, actor, rec.TokenMint)
	delta, ok := signedDelta(pre, post)
	if !ok {
		return models.TransactionRecord{}, ErrAmountOverflow
	}
	rec.TokenChanges = delta
	rec.IsBuy = rec.TokenChanges > 0
	rec.ActorWallet = actor
	rec.SolChanges = v.nativeDelta(actor)

	switch protocol {
	case models.ProtocolBondingCurve:
		realToken := sumFor(v.meta.PostTokenBalances, pool, rec.TokenMint)
		realSol := v.postLamports(pool)
		rec.Pool = models.BondingCurve{
			Curve:                pool,
			RealSolReserves:      realSol,
			RealTokenReserves:    realToken,
			VirtualSolReserves:   realSol + VirtualSolOffset,
			VirtualTokenReserves: realToken + VirtualTokenOffset,
		}
	case models.ProtocolConstantProduct:
		rec.Pool = models.ConstantProductPool{
			Pool:         pool,
			BaseReserve:  sumFor(v.meta.PostTokenBalances, pool, rec.TokenMint),
			QuoteReserve: sumFor(v.meta.PostTokenBalances, pool, NativeMint),
		}
	}
	return rec, nil
}

// pickActor prefers the fee payer, then any signer, then the first owner.
func (v view) pickActor(owners []string) string {
	if len(owners) == 0 {
		return ""
	}
	payer := v.ev.FeePayer()
	signers := make(map[string]bool)
	for _, k := range v.keys() {
		if k.Signer {
			signers[k.Pubkey] = true
		}
	}
	for _, o := range owners {
		if o == payer {
			return o
		}
	}
	for _, o := range owners {
		if signers[o] {
			return o
		}
	}
	return owners[0]
}

// nativeDelta is wallet's lamport change, with the network fee added back
// when wallet paid it.
func (v view) nativeDelta(wallet string) int64 {
	for i, k := range v.keys() {
		if k.Pubkey != wallet {
			continue
		}
		if i >= len(v.meta.PreBalances) || i >= len(v.meta.PostBalances) {
			return 0
		}
		delta, ok := signedDelta(v.meta.PreBalances[i], v.meta.PostBalances[i])
		if !ok {
			return 0
		}
		if i == 0 {
			delta += int64(v.meta.Fee)
		}
		return delta
	}
	return 0
}

func (v view) postLamports(account string) uint64 {
	for i, k := range v.keys() {
		if k.Pubkey == account && i < len(v.meta.PostBalances) {
			return v.meta.PostBalances[i]
		}
	}
	return 0
}

func preferActor(current, candidate, payer string) string {
	if IsInfrastructure(candidate) {
		return current
	}
	if current == "" || candidate == payer {
		return candidate
	}
	return current
}

// sumFor saturates at math.MaxUint64 so an overflowing sum fails the
// delta range check instead of wrapping.
func sumFor(bals []stream.TokenBalance, owner, mint string) uint64 {
	var total uint64
	for _, b := range bals {
		if b.Owner == owner && b.Mint == mint {
			sum, carry := bits.Add64(total, amount(b), 0)
			if carry != 0 {
				return math.MaxUint64
			}
			total = sum
		}
	}
	return total
}

// signedDelta returns to-from, or false when it does not fit an int64.
func signedDelta(from, to uint64) (int64, bool) {
	if to >= from {
		d := to - from
		if d > math.MaxInt64 {
			return 0, false
		}
		return int64(d), true
	}
	d := from - to
	if d > math.MaxInt64 {
		return 0, false
	}
	return -int64(d), true
}

func amount(b stream.TokenBalance) uint64 {
	v, err := strconv.ParseUint(b.UITokenAmount.Amount, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// validKey reports whether s decodes to a 32-byte public key.
func validKey(s string) bool {
	if s == "" {
		return false
	}
	b, err := base58.Decode(s)
	return err == nil && len(b) == 32
}
