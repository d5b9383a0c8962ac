package classifier

// Well-known addresses.
const (
	NativeMint = "So11111111111111111111111111111111111111112"

	PumpFunProgram      = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	PumpSwapProgram     = "pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA"
	LaunchLabProgram    = "LanMV9sAd7wArD4vJFi2qDdfnVhFxYSUg6eADduJ3uj"
	LaunchPadAuthority  = "WLHv2UAZm6z4KyaaELi5pjdbJh6RESMva1Rnn8pJVVh"
	RaydiumAmmV4Program = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	RaydiumAuthority    = "GpMZbSM2GgvTKHJirzeGfMFoaZ8UR2X7F4v8vHTvxFbL"
)

// Launch-phase curves quote virtual reserves as real reserves plus these
// constant offsets.
const (
	VirtualSolOffset   uint64 = 30_000_000_000
	VirtualTokenOffset uint64 = 279_900_000_000_000
)

// infrastructure owners are never the trading wallet.
var infrastructure = map[string]struct{}{
	PumpFunProgram:      {},
	PumpSwapProgram:     {},
	LaunchLabProgram:    {},
	LaunchPadAuthority:  {},
	RaydiumAmmV4Program: {},
	RaydiumAuthority:    {},
}

// IsInfrastructure reports whether addr is a known program or authority.
func IsInfrastructure(addr string) bool {
	_, ok := infrastructure[addr]
	return ok
}
