package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const shareTokenABIJSON = `[
  {"inputs": [{"internalType": "address", "name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "totalSupply", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "from", "type": "address"},
    {"indexed": true, "name": "to", "type": "address"},
    {"indexed": false, "name": "value", "type": "uint256"}
  ], "name": "Transfer", "type": "event"}
]`

var (
	shareTokenABI     abi.ABI
	shareTokenABIOnce sync.Once
	shareTokenABIErr  error
)

// ShareTokenABI returns the ERC-20 subset used to read vault share balances.
func ShareTokenABI() (abi.ABI, error) {
	shareTokenABIOnce.Do(func() {
		shareTokenABI, shareTokenABIErr = abi.JSON(strings.NewReader(shareTokenABIJSON))
	})
	return shareTokenABI, shareTokenABIErr
}

// TransferTopic is topic0 of the ERC-20 Transfer event.
func TransferTopic() (common.Hash, error) {
	tokenABI, err := ShareTokenABI()
	if err != nil {
		return common.Hash{}, err
	}
	return tokenABI.Events["Transfer"].ID, nil
}

// ContractCaller is the eth_call surface TokenVault needs. *Client implements it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

func callToken(ctx context.Context, caller ContractCaller, token common.Address, blockNumber *big.Int, method string, args ...interface{}) (interface{}, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	tokenABI, err := ShareTokenABI()
	if err != nil {
		return nil, fmt.Errorf("parse share token abi: %w", err)
	}

	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &token, Data: data}
	resp, err := caller.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := tokenABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s return size %d", method, len(values))
	}
	return values[0], nil
}

func asBigInt(method string, value interface{}) (*big.Int, error) {
	out, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s unexpected type %T", method, value)
	}
	return out, nil
}
