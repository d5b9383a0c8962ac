package execution

import (
	"context"

	"solana-copy-trader/internal/rpc"
)

// RPCHoldings reads owner's balances from a node.
type RPCHoldings struct {
	client *rpc.Client
	owner  string
}

func NewRPCHoldings(client *rpc.Client, owner string) *RPCHoldings {
	return &RPCHoldings{client: client, owner: owner}
}

func (h *RPCHoldings) TokenBalance(ctx context.Context, mint string) (uint64, error) {
	bal, err := h.client.GetTokenBalance(ctx, h.owner, mint)
	if err != nil {
		return 0, err
	}
	return bal.Amount, nil
}

func (h *RPCHoldings) SOLBalance(ctx context.Context) (uint64, error) {
	return h.client.GetBalance(ctx, h.owner)
}
