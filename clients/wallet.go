package clients

import (
	"context"
	"encoding/json"
	"fmt"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vitwit/greendish/wallet"
)

var _ Provider = (*WalletProvider)(nil)

// WalletProvider sends every read through the wallet's Request method, so
// reads always hit whatever chain the wallet is currently on.
type WalletProvider struct {
	wallet wallet.Wallet
}

func NewWalletProvider(w wallet.Wallet) *WalletProvider {
	return &WalletProvider{wallet: w}
}

func (p *WalletProvider) ChainID(ctx context.Context) (uint64, error) {
	return wallet.ChainID(ctx, p.wallet)
}

func (p *WalletProvider) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	var code hexutil.Bytes
	if err := p.call(ctx, &code, "eth_getCode", account, "latest"); err != nil {
		return nil, err
	}
	return code, nil
}

type callArgs struct {
	From  *common.Address `json:"from,omitempty"`
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
}

func (p *WalletProvider) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	args := callArgs{To: msg.To, Data: msg.Data}
	if msg.From != (common.Address{}) {
		from := msg.From
		args.From = &from
	}
	if msg.Value != nil {
		args.Value = (*hexutil.Big)(msg.Value)
	}

	var out hexutil.Bytes
	if err := p.call(ctx, &out, "eth_call", args, "latest"); err != nil {
		return nil, err
	}
	return out, nil
}

type rpcReceipt struct {
	TxHash      common.Hash    `json:"transactionHash"`
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	GasUsed     hexutil.Uint64 `json:"gasUsed"`
}

func (p *WalletProvider) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var r *rpcReceipt
	if err := p.call(ctx, &r, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ethereum.NotFound
	}
	return &Receipt{
		TxHash:      r.TxHash,
		Status:      uint64(r.Status),
		BlockNumber: uint64(r.BlockNumber),
		GasUsed:     uint64(r.GasUsed),
	}, nil
}

func (p *WalletProvider) Signer(account common.Address) Signer {
	return walletSigner{w: p.wallet, account: account}
}

// Close is a no-op: the wallet outlives the provider.
func (p *WalletProvider) Close() {}

func (p *WalletProvider) call(ctx context.Context, out any, method string, params ...any) error {
	raw, err := p.wallet.Request(ctx, method, params...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}
