package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// EtherDecimals is the precision of the native currency and of the GreenDish token.
const EtherDecimals = 18

// MinDishPrice is the smallest price a dish may be registered with.
var MinDishPrice = decimal.RequireFromString("0.001")

var hexRe = regexp.MustCompile("^[0-9a-fA-F]+$")

// ValidateAmount checks if an amount string is a valid non-negative decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ValidatePrice checks amount is a decimal of at least MinDishPrice.
func ValidatePrice(amount string) error {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return err
	}
	if dec.LessThan(MinDishPrice) {
		return fmt.Errorf("price must be at least %s", MinDishPrice)
	}
	return nil
}

// ValidateAddress checks a 0x-prefixed 20 byte hex address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !strings.HasPrefix(address, "0x") {
		return fmt.Errorf("address must start with 0x")
	}
	if len(address) != 42 {
		return fmt.Errorf("address must be 42 characters long")
	}
	if !isHexString(address[2:]) {
		return fmt.Errorf("address must be valid hex")
	}
	return nil
}

// ValidateTransactionHash checks a 0x-prefixed 32 byte hex hash.
func ValidateTransactionHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}
	if !strings.HasPrefix(hash, "0x") {
		return fmt.Errorf("transaction hash must start with 0x")
	}
	if len(hash) != 66 {
		return fmt.Errorf("transaction hash must be 66 characters long")
	}
	if !isHexString(hash[2:]) {
		return fmt.Errorf("transaction hash must be valid hex")
	}
	return nil
}

// ParseAmountWithDecimals parses a decimal amount string and scales it to an
// integer with the given decimals. Digits past the precision are truncated.
func ParseAmountWithDecimals(amount string, decimals int) (*big.Int, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return nil, err
	}
	return dec.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// ToWei converts an ether amount such as "0.01" to wei.
func ToWei(amount string) (*big.Int, error) {
	return ParseAmountWithDecimals(amount, EtherDecimals)
}

// FormatAmountFromBigInt formats a big.Int amount to decimal string with specified decimals
func FormatAmountFromBigInt(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// FormatWholeTokens formats amount with decimals rounded to a whole number.
func FormatWholeTokens(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).StringFixed(0)
}

// ShortAddress renders 0x1234...abcd for display.
func ShortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

// ChecksumAddress returns the EIP-55 form of a valid address.
func ChecksumAddress(address string) (string, error) {
	if err := ValidateAddress(address); err != nil {
		return "", err
	}
	return common.HexToAddress(address).Hex(), nil
}

func isHexString(s string) bool {
	return hexRe.MatchString(s)
}
