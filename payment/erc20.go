package payment

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20 ABI minimal part for transfer.
const erc20TransferABI = `[{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"payable":false,"stateMutability":"nonpayable","type":"function"}]`

var (
	parsedTransferABI  abi.ABI
	parsedTransferOnce sync.Once
)

func initTransferABI() {
	parsedTransferOnce.Do(func() {
		var err error
		parsedTransferABI, err = abi.JSON(strings.NewReader(erc20TransferABI))
		if err != nil {
			panic(fmt.Sprintf("failed to parse ERC20 transfer ABI: %v", err))
		}
	})
}

// ERC20TransferData encodes a transfer(to, amount) call body.
func ERC20TransferData(to string, amount *big.Int) ([]byte, error) {
	initTransferABI()
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("invalid transfer recipient %q", to)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("transfer amount must be non-negative")
	}
	data, err := parsedTransferABI.Pack("transfer", common.HexToAddress(to), amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer call: %w", err)
	}
	return data, nil
}
