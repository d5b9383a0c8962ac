package stream

import "time"

// TransactionEvent is one transactionNotification result in jsonParsed
// encoding.
type TransactionEvent struct {
	Signature   string              `json:"signature"`
	Slot        uint64              `json:"slot"`
	Transaction TransactionEnvelope `json:"transaction"`
	ReceivedAt  time.Time           `json:"-"`
}

// TransactionEnvelope wraps the transaction and its status metadata.
type TransactionEnvelope struct {
	Transaction Transaction `json:"transaction"`
	Meta        *Meta       `json:"meta"`
	BlockTime   *int64      `json:"blockTime,omitempty"`
	Version     any         `json:"version,omitempty"`
}

type Transaction struct {
	Signatures []string `json:"signatures"`
	Message    Message  `json:"message"`
}

type Message struct {
	AccountKeys  []AccountKey  `json:"accountKeys"`
	Instructions []Instruction `json:"instructions"`
}

type AccountKey struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
	Source   string `json:"source,omitempty"`
}

type Instruction struct {
	ProgramID string `json:"programId"`
}

// Meta carries balances before and after execution.
type Meta struct {
	Err               any            `json:"err"`
	Fee               uint64         `json:"fee"`
	PreBalances       []uint64       `json:"preBalances"`
	PostBalances      []uint64       `json:"postBalances"`
	PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance `json:"postTokenBalances"`
	LogMessages       []string       `json:"logMessages,omitempty"`
}

// TokenBalance is an SPL token account's balance at one point.
type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	ProgramID     string        `json:"programId,omitempty"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

type UITokenAmount struct {
	Amount   string   `json:"amount"`
	Decimals uint8    `json:"decimals"`
	UIAmount *float64 `json:"uiAmount"`
}

// FeePayer is the first account key.
func (e *TransactionEvent) FeePayer() string {
	keys := e.Transaction.Transaction.Message.AccountKeys
	if len(keys) == 0 {
		return ""
	}
	return keys[0].Pubkey
}

// Timestamp is the block time when the node sent one, else the receive time.
func (e *TransactionEvent) Timestamp() time.Time {
	if bt := e.Transaction.BlockTime; bt != nil && *bt > 0 {
		return time.Unix(*bt, 0)
	}
	return e.ReceivedAt
}
