package gateway

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/1inch/swap-coordinator/internal/config"
)

const erc20ABI = `[
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const factoryABI = `[
	{"name":"transferToEscrow","type":"function","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"bytes32"},{"name":"from","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

const escrowABI = `[
	{"name":"claim","type":"function","stateMutability":"nonpayable","inputs":[{"name":"preimage","type":"bytes32"}],"outputs":[]},
	{"anonymous":false,"name":"SecretRevealed","type":"event","inputs":[{"indexed":false,"name":"preimage","type":"bytes32"}]}
]`

const (
	transferGasLimit = 300_000
	revealGasLimit   = 150_000
	receiptPollEvery = 2 * time.Second
)

// evmChain bundles everything needed to talk to one chain. Submissions from
// the coordinator's signer are serialized by sendMu to keep nonces in order.
type evmChain struct {
	cfg     config.Chain
	client  *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	factory common.Address

	sendMu sync.Mutex
}

// EVM is the production Gateway over JSON-RPC endpoints, one per chain.
type EVM struct {
	chains  map[uint64]*evmChain
	erc20   abi.ABI
	factory abi.ABI
	escrow  abi.ABI

	revealedTopic common.Hash
}

// NewEVM dials every configured chain and verifies the reported chain id
// matches the configuration.
func NewEVM(ctx context.Context, chains map[uint64]config.Chain) (*EVM, error) {
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}
	factory, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse factory abi: %w", err)
	}
	escrow, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow abi: %w", err)
	}

	g := &EVM{
		chains:        make(map[uint64]*evmChain),
		erc20:         erc20,
		factory:       factory,
		escrow:        escrow,
		revealedTopic: escrow.Events["SecretRevealed"].ID,
	}

	for id, cfg := range chains {
		client, err := ethclient.DialContext(ctx, cfg.RPCUrl)
		if err != nil {
			return nil, fmt.Errorf("failed to dial chain %d: %w", id, err)
		}

		reported, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read chain id from %s: %w", cfg.RPCUrl, err)
		}
		if reported.Uint64() != id {
			return nil, fmt.Errorf("chain %d endpoint reports chain id %s", id, reported)
		}

		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key for chain %d: %w", id, err)
		}

		g.chains[id] = &evmChain{
			cfg:     cfg,
			client:  client,
			chainID: reported,
			key:     key,
			from:    crypto.PubkeyToAddress(key.PublicKey),
			factory: common.HexToAddress(cfg.EscrowFactory),
		}
		log.Printf("Connected to chain %d (%s), signer %s", id, cfg.RPCUrl, g.chains[id].from.Hex())
	}

	return g, nil
}

// Close releases all RPC connections.
func (g *EVM) Close() {
	for _, c := range g.chains {
		c.client.Close()
	}
}

func (g *EVM) chain(id uint64) (*evmChain, error) {
	c, ok := g.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: chain %d not configured", ErrChainUnreachable, id)
	}
	return c, nil
}

// Allowance implements Gateway.
func (g *EVM) Allowance(ctx context.Context, chain uint64, token, owner, spender common.Address) (*big.Int, error) {
	c, err := g.chain(chain)
	if err != nil {
		return nil, err
	}
	out, err := g.view(ctx, c, token, g.erc20, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// EscrowBalance implements Gateway.
func (g *EVM) EscrowBalance(ctx context.Context, chain uint64, escrow common.Address, token *common.Address) (*big.Int, error) {
	c, err := g.chain(chain)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if token == nil {
		bal, err := c.client.BalanceAt(ctx, escrow, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChainUnreachable, err)
		}
		return bal, nil
	}

	out, err := g.view(ctx, c, *token, g.erc20, "balanceOf", escrow)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// TokenDecimals implements Gateway.
func (g *EVM) TokenDecimals(ctx context.Context, chain uint64, token common.Address) (uint8, error) {
	c, err := g.chain(chain)
	if err != nil {
		return 0, err
	}
	out, err := g.view(ctx, c, token, g.erc20, "decimals")
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

// TransferUserFunds implements Gateway. The maker has pre-approved the escrow
// factory; this submits the coordinator-signed pull instruction.
func (g *EVM) TransferUserFunds(ctx context.Context, chain uint64, orderID common.Hash, from, token common.Address, amount *big.Int) (string, error) {
	c, err := g.chain(chain)
	if err != nil {
		return "", err
	}

	data, err := g.factory.Pack("transferToEscrow", orderID, from, token, amount)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}

	tx, err := g.submit(ctx, c, c.factory, data, transferGasLimit)
	if err != nil {
		return "", classifyTransferError(err)
	}
	return tx, nil
}

// AwaitConfirmations implements Gateway. It polls for the receipt, then for
// head advancement until the transaction has n confirmations.
func (g *EVM) AwaitConfirmations(ctx context.Context, chain uint64, txHash string, n uint64) (*Receipt, error) {
	c, err := g.chain(chain)
	if err != nil {
		return nil, err
	}

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollEvery)
	defer ticker.Stop()

	var receipt *ethtypes.Receipt
	for receipt == nil {
		rcpt, err := g.receipt(ctx, c, hash)
		switch {
		case err == nil:
			receipt = rcpt
		case err == ethereum.NotFound:
			// keep polling
		default:
			return nil, fmt.Errorf("%w: %v", ErrChainUnreachable, err)
		}
		if receipt == nil {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: receipt for %s", ErrTxNotFound, txHash)
			case <-ticker.C:
			}
		}
	}

	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return nil, fmt.Errorf("%w: %s", ErrTxReverted, txHash)
	}

	target := receipt.BlockNumber.Uint64() + n - 1
	for {
		head, err := g.blockNumber(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChainUnreachable, err)
		}
		if head >= target {
			return &Receipt{
				TxHash:      txHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for %d confirmations of %s", ErrTimeout, n, txHash)
		case <-ticker.C:
		}
	}
}

// RevealOnDestination implements Gateway. The claim is simulated first so the
// HTLC guard conditions surface as typed errors instead of burned gas.
func (g *EVM) RevealOnDestination(ctx context.Context, chain uint64, escrow common.Address, preimage []byte) (string, error) {
	c, err := g.chain(chain)
	if err != nil {
		return "", err
	}

	var pre [32]byte
	copy(pre[:], preimage)
	data, err := g.escrow.Pack("claim", pre)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	if _, err := c.client.CallContract(callCtx, ethereum.CallMsg{From: c.from, To: &escrow, Data: data}, nil); err != nil {
		return "", classifyRevealError(err)
	}

	tx, err := g.submit(ctx, c, escrow, data, revealGasLimit)
	if err != nil {
		return "", classifyRevealError(err)
	}
	return tx, nil
}

// ExtractRevealedSecret implements Gateway. The escrow emits SecretRevealed
// once, on the winning claim, so a log filter on the escrow address finds it.
func (g *EVM) ExtractRevealedSecret(ctx context.Context, chain uint64, escrow common.Address) ([]byte, string, error) {
	c, err := g.chain(chain)
	if err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{escrow},
		Topics:    [][]common.Hash{{g.revealedTopic}},
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrChainUnreachable, err)
	}

	for _, lg := range logs {
		if len(lg.Data) >= 32 {
			preimage := make([]byte, 32)
			copy(preimage, lg.Data[:32])
			return preimage, lg.TxHash.Hex(), nil
		}
	}
	return nil, "", fmt.Errorf("%w: no SecretRevealed log from %s", ErrNotFound, escrow.Hex())
}

// view performs a read-only contract call and unpacks the outputs.
func (g *EVM) view(ctx context.Context, c *evmChain, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	raw, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s call failed: %v", ErrChainUnreachable, method, err)
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: bad %s return data: %v", ErrChainUnreachable, method, err)
	}
	return out, nil
}

// submit signs and sends a transaction from the coordinator's key. sendMu
// serializes nonce acquisition and submission per chain.
func (g *EVM) submit(ctx context.Context, c *evmChain, to common.Address, data []byte, gasLimit uint64) (string, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChainUnreachable, err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChainUnreachable, err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

func (g *EVM) receipt(ctx context.Context, c *evmChain, hash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return c.client.TransactionReceipt(ctx, hash)
}

func (g *EVM) blockNumber(ctx context.Context, c *evmChain) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return c.client.BlockNumber(ctx)
}

// classifyTransferError maps node revert strings from the factory's pull
// transfer onto the gateway vocabulary.
func classifyTransferError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "allowance"):
		return fmt.Errorf("%w: %v", ErrInsufficientAllowance, err)
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	default:
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
}

// classifyRevealError maps the escrow's claim guards onto typed errors.
func classifyRevealError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "claimed"):
		return fmt.Errorf("%w: %v", ErrAlreadyClaimed, err)
	case strings.Contains(msg, "deadline"), strings.Contains(msg, "expired"):
		return fmt.Errorf("%w: %v", ErrDeadlinePassed, err)
	case strings.Contains(msg, "hash"), strings.Contains(msg, "preimage"):
		return fmt.Errorf("%w: %v", ErrHashMismatch, err)
	default:
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
}
