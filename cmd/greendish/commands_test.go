package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/greendish/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNetworksCmd(t *testing.T) {
	out, err := execute(t, "networks")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "CHAIN ID")
	assert.Contains(t, out, "23413")
	assert.Contains(t, out, "https://rpc1.gemini.axiomesh.io")
	assert.Contains(t, out, "31337")
}

func TestNetworksCmd_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`networks:
  - chainId: 5
    chainName: Goerli
    rpcUrls: ["https://rpc.goerli.example"]
    nativeCurrency: {name: Ether, symbol: GETH, decimals: 18}
`), 0o600))

	out, err := execute(t, "networks", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Goerli")
	assert.Contains(t, out, "GETH")
}

func TestSwitchNetworkCmd_InvalidChainID(t *testing.T) {
	_, err := execute(t, "switch-network", "gemini")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid chain id")
}

func TestTokenCmd_InvalidAddress(t *testing.T) {
	_, err := execute(t, "token", "0x1234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "42 characters")
}

func TestRegisterFlags(t *testing.T) {
	valid := registerFlags{
		name:          "Green Fork",
		supplySource:  "green",
		supplyDetails: "Organic farm",
		dish:          "Salad",
		component:     "Kale",
		credits:       10,
		price:         "0.01",
	}

	reg, err := valid.registration()
	require.NoError(t, err)
	assert.Equal(t, types.SupplyGreenProducer, reg.SupplySource)
	assert.Equal(t, "0.01", reg.DishPrice)

	tests := []struct {
		name   string
		modify func(*registerFlags)
	}{
		{"unknown supply source", func(f *registerFlags) { f.supplySource = "farm" }},
		{"price below minimum", func(f *registerFlags) { f.price = "0.0001" }},
		{"too many credits", func(f *registerFlags) { f.credits = 101 }},
		{"missing dish", func(f *registerFlags) { f.dish = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.modify(&f)
			_, err := f.registration()
			assert.True(t, types.IsCode(err, types.ErrInvalidRegistration), "got %v", err)
		})
	}
}

func TestPrintSnapshot(t *testing.T) {
	var out bytes.Buffer
	printSnapshot(&out, types.Snapshot{
		Connection:      types.Connected("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", 23413),
		Network:         &types.NetworkDescriptor{ChainID: 23413, ChainName: "Axiomesh Gemini"},
		NetworkValid:    true,
		ContractAddress: "0x6AB06cf2cC7caEd0689E5D914e060F8e014C62c0",
		Contract:        types.ContractDeployedCompatible,
		Status:          types.StatusMessage{Level: types.LevelSuccess, Title: "Contract Connected"},
	})

	s := out.String()
	assert.Contains(t, s, "Contract Connected (success)")
	assert.Contains(t, s, "0xf39F...2266")
	assert.Contains(t, s, "Axiomesh Gemini (valid: true)")
	assert.Contains(t, s, "deployed_compatible")
}
