package gateway

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Typed failure modes. Callers branch with errors.Is; nothing else crosses
// the gateway boundary.
var (
	ErrChainUnreachable      = errors.New("chain unreachable")
	ErrNotAuthorized         = errors.New("not authorized")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrRejected              = errors.New("transaction rejected")
	ErrTxNotFound            = errors.New("transaction not found")
	ErrTxReverted            = errors.New("transaction reverted")
	ErrTimeout               = errors.New("confirmation timeout")
	ErrAlreadyClaimed        = errors.New("escrow already claimed")
	ErrDeadlinePassed        = errors.New("escrow deadline passed")
	ErrHashMismatch          = errors.New("preimage hash mismatch")
	ErrNotFound              = errors.New("not found")
)

// Receipt is the confirmation result of a submitted transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

// Gateway is the only component that talks to the chains. Every method takes
// a context and returns a typed failure; none panic across the boundary.
type Gateway interface {
	// Allowance reads the ERC-20 allowance owner has granted to spender.
	Allowance(ctx context.Context, chain uint64, token, owner, spender common.Address) (*big.Int, error)

	// EscrowBalance reads an escrow's balance: native currency when token is
	// nil, otherwise the ERC-20 balance.
	EscrowBalance(ctx context.Context, chain uint64, escrow common.Address, token *common.Address) (*big.Int, error)

	// TokenDecimals reads the decimals of an ERC-20 token.
	TokenDecimals(ctx context.Context, chain uint64, token common.Address) (uint8, error)

	// TransferUserFunds instructs the escrow factory to pull amount of token
	// from the maker into the order's source escrow.
	TransferUserFunds(ctx context.Context, chain uint64, orderID common.Hash, from, token common.Address, amount *big.Int) (string, error)

	// AwaitConfirmations blocks until txHash has n confirmations.
	AwaitConfirmations(ctx context.Context, chain uint64, txHash string, n uint64) (*Receipt, error)

	// RevealOnDestination submits the preimage to the destination escrow.
	RevealOnDestination(ctx context.Context, chain uint64, escrow common.Address, preimage []byte) (string, error)

	// ExtractRevealedSecret locates a third party's reveal against the given
	// escrow and returns the preimage and the claiming transaction hash.
	ExtractRevealedSecret(ctx context.Context, chain uint64, escrow common.Address) ([]byte, string, error)
}
