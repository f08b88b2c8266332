package utils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/greendish/types"
)

func validRegistration() types.RestaurantRegistration {
	return types.RestaurantRegistration{
		RestaurantName:    "Green Bowl",
		SupplySource:      types.SupplyGreenProducer,
		SupplyDetails:     "Organic farm, 12km away",
		DishName:          "Lentil curry",
		DishMainComponent: "Lentils",
		DishCarbonCredits: 10,
		DishPrice:         "0.01",
	}
}

func TestToWei(t *testing.T) {
	wei, err := ToWei("0.01")
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", wei.String())

	wei, err = ToWei("1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", wei.String())

	_, err = ToWei("-1")
	assert.Error(t, err)

	_, err = ToWei("abc")
	assert.Error(t, err)
}

func TestFormatAmounts(t *testing.T) {
	v, _ := new(big.Int).SetString("1234500000000000000000", 10)
	assert.Equal(t, "1234.5", FormatAmountFromBigInt(v, 18))
	assert.Equal(t, "1235", FormatWholeTokens(v, 18))
	assert.Equal(t, "0", FormatAmountFromBigInt(nil, 18))
}

func TestValidatePrice(t *testing.T) {
	assert.NoError(t, ValidatePrice("0.001"))
	assert.NoError(t, ValidatePrice("2"))
	assert.Error(t, ValidatePrice("0.0009"))
	assert.Error(t, ValidatePrice(""))
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("0x6AB06cf2cC7caEd0689E5D914e060F8e014C62c0"))
	assert.Error(t, ValidateAddress("6AB06cf2cC7caEd0689E5D914e060F8e014C62c0"))
	assert.Error(t, ValidateAddress("0x1234"))
	assert.Error(t, ValidateAddress("0xZZB06cf2cC7caEd0689E5D914e060F8e014C62c0"))

	sum, err := ChecksumAddress("0x6ab06cf2cc7caed0689e5d914e060f8e014c62c0")
	require.NoError(t, err)
	assert.Equal(t, "0x6AB06cf2cC7caEd0689E5D914e060F8e014C62c0", sum)
}

func TestShortAddress(t *testing.T) {
	assert.Equal(t, "0x6AB0...62c0", ShortAddress("0x6AB06cf2cC7caEd0689E5D914e060F8e014C62c0"))
	assert.Equal(t, "0x12", ShortAddress("0x12"))
}

func TestValidateStruct_Registration(t *testing.T) {
	reg := validRegistration()
	require.NoError(t, ValidateStruct(&reg, types.ErrInvalidRegistration))

	cases := map[string]func(r *types.RestaurantRegistration){
		"missing name":        func(r *types.RestaurantRegistration) { r.RestaurantName = "" },
		"bad supply source":   func(r *types.RestaurantRegistration) { r.SupplySource = 4 },
		"zero credits":        func(r *types.RestaurantRegistration) { r.DishCarbonCredits = 0 },
		"too many credits":    func(r *types.RestaurantRegistration) { r.DishCarbonCredits = 101 },
		"price below minimum": func(r *types.RestaurantRegistration) { r.DishPrice = "0.0001" },
		"missing component":   func(r *types.RestaurantRegistration) { r.DishMainComponent = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := validRegistration()
			mutate(&r)
			err := ValidateStruct(&r, types.ErrInvalidRegistration)
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrInvalidRegistration))
		})
	}
}

func TestParseRegistration(t *testing.T) {
	reg, err := ParseRegistration([]byte(`{
		"restaurantName": "Green Bowl",
		"supplySource": 0,
		"supplyDetails": "Local",
		"dishName": "Soup",
		"dishMainComponent": "Squash",
		"dishCarbonCredits": 5,
		"dishPrice": "0.002"
	}`))
	require.NoError(t, err)
	assert.Equal(t, types.SupplyLocalProducer, reg.SupplySource)

	_, err = ParseRegistration([]byte(`{`))
	assert.True(t, types.IsCode(err, types.ErrInvalidRegistration))
}

func TestParseChainID(t *testing.T) {
	id, err := ParseChainID("23413")
	require.NoError(t, err)
	assert.Equal(t, uint64(23413), id)

	id, err = ParseChainID("0x5b75")
	require.NoError(t, err)
	assert.Equal(t, uint64(23413), id)

	_, err = ParseChainID("gemini")
	assert.Error(t, err)
}

func TestAddressFromPrivateKey(t *testing.T) {
	addr, err := AddressFromPrivateKey("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", addr.Hex())

	_, err = AddressFromPrivateKey("")
	assert.Error(t, err)
}
