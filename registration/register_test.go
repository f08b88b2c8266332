package registration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/greendish/clients"
	"github.com/vitwit/greendish/contract"
	"github.com/vitwit/greendish/types"
	"github.com/vitwit/greendish/wallet"
)

var account = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

type fakeProvider struct {
	mu          sync.Mutex
	code        []byte
	codeErr     error
	sendErr     error
	pendingFor  int
	status      uint64
	receiptErr  error
	receiptHits int
	sent        []wallet.TransactionArgs
}

func (p *fakeProvider) ChainID(context.Context) (uint64, error) { return 23413, nil }

func (p *fakeProvider) CodeAt(context.Context, common.Address) ([]byte, error) {
	return p.code, p.codeErr
}

func (p *fakeProvider) CallContract(context.Context, ethereum.CallMsg) ([]byte, error) {
	return nil, errors.New("unused")
}

func (p *fakeProvider) TransactionReceipt(_ context.Context, hash common.Hash) (*clients.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receiptHits++
	if p.receiptErr != nil {
		return nil, p.receiptErr
	}
	if p.receiptHits <= p.pendingFor {
		return nil, ethereum.NotFound
	}
	return &clients.Receipt{TxHash: hash, Status: p.status, BlockNumber: 42, GasUsed: 180_000}, nil
}

func (p *fakeProvider) Signer(a common.Address) clients.Signer { return signer{p: p, addr: a} }

func (p *fakeProvider) Close() {}

type signer struct {
	p    *fakeProvider
	addr common.Address
}

func (s signer) Address() common.Address { return s.addr }

func (s signer) SendTransaction(_ context.Context, args wallet.TransactionArgs) (common.Hash, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	args.From = s.addr
	s.p.sent = append(s.p.sent, args)
	if s.p.sendErr != nil {
		return common.Hash{}, s.p.sendErr
	}
	return common.HexToHash("0xabc1"), nil
}

type fakeSource struct {
	b   Binding
	err error
}

func (f fakeSource) Binding() (Binding, error) { return f.b, f.err }

func bound(t *testing.T, p *fakeProvider) fakeSource {
	t.Helper()
	g, err := contract.New(common.HexToAddress(contract.DefaultAddress), p)
	require.NoError(t, err)
	return fakeSource{b: Binding{Account: account, ChainID: 23413, Contract: g, Provider: p}}
}

func form() types.RestaurantRegistration {
	return types.RestaurantRegistration{
		RestaurantName:    "Green Bowl",
		SupplySource:      types.SupplyGreenProducer,
		SupplyDetails:     "Organic farm",
		DishName:          "Lentil curry",
		DishMainComponent: "Lentils",
		DishCarbonCredits: 10,
		DishPrice:         "0.01",
	}
}

func newService(src Source) *Service {
	return NewService(src, WithPollInterval(time.Millisecond), WithTimeout(time.Second))
}

func TestRegister_Success(t *testing.T) {
	p := &fakeProvider{code: []byte{0x60}, pendingFor: 2, status: 1}
	res, err := newService(bound(t, p)).Register(context.Background(), form())
	require.NoError(t, err)

	assert.Equal(t, common.HexToHash("0xabc1").Hex(), res.TxHash)
	assert.Equal(t, uint64(42), res.BlockNumber)
	assert.Equal(t, uint64(23413), res.ChainID)
	assert.Equal(t, 3, p.receiptHits)

	require.Len(t, p.sent, 1)
	assert.Equal(t, account, p.sent[0].From)
	assert.Equal(t, contract.DefaultGasLimit, uint64(*p.sent[0].Gas))
}

func TestRegister_Failures(t *testing.T) {
	tests := []struct {
		name   string
		source Source
		mutate func(*types.RestaurantRegistration)
		code   string
	}{
		{
			name:   "invalid form",
			source: bound(t, &fakeProvider{code: []byte{0x60}, status: 1}),
			mutate: func(r *types.RestaurantRegistration) { r.DishCarbonCredits = 0 },
			code:   types.ErrInvalidRegistration,
		},
		{
			name:   "price below minimum",
			source: bound(t, &fakeProvider{code: []byte{0x60}, status: 1}),
			mutate: func(r *types.RestaurantRegistration) { r.DishPrice = "0.0001" },
			code:   types.ErrInvalidRegistration,
		},
		{
			name:   "not connected",
			source: fakeSource{err: types.NewError(types.ErrNotConnected, "Wallet not connected", nil)},
			code:   types.ErrNotConnected,
		},
		{
			name:   "no contract handle",
			source: fakeSource{b: Binding{Account: account}},
			code:   types.ErrContractNotDeployed,
		},
		{
			name:   "no code at address",
			source: bound(t, &fakeProvider{status: 1}),
			code:   types.ErrContractNotDeployed,
		},
		{
			name:   "code query fails",
			source: bound(t, &fakeProvider{codeErr: errors.New("dial tcp: refused")}),
			code:   types.ErrNetworkMismatch,
		},
		{
			name:   "user rejects",
			source: bound(t, &fakeProvider{code: []byte{0x60}, sendErr: &wallet.ProviderRPCError{Code: wallet.CodeUserRejected, Message: "User rejected the request."}}),
			code:   types.ErrUserRejected,
		},
		{
			name:   "insufficient funds",
			source: bound(t, &fakeProvider{code: []byte{0x60}, sendErr: errors.New("insufficient funds for gas * price + value")}),
			code:   types.ErrInsufficientFunds,
		},
		{
			name:   "reverted on chain",
			source: bound(t, &fakeProvider{code: []byte{0x60}, status: 0}),
			code:   types.ErrTransactionReverted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := form()
			if tt.mutate != nil {
				tt.mutate(&reg)
			}
			res, err := newService(tt.source).Register(context.Background(), reg)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, types.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestRegister_NilSource(t *testing.T) {
	_, err := newService(nil).Register(context.Background(), form())
	assert.True(t, types.IsCode(err, types.ErrWalletNotInstalled))
}

func TestWaitForReceipt_Timeout(t *testing.T) {
	p := &fakeProvider{pendingFor: 1 << 30}
	s := NewService(nil, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.WaitForReceipt(ctx, p, common.Hash{1})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTransactionFailed))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
