package syncer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

// ParseAddresses converts string addresses into common.Address, skipping blanks.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		addr, err := ParseAddress(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// shareTransfer is a decoded ERC-20 Transfer of vault shares.
type shareTransfer struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Block uint64
	Index uint
}

// parties returns the non-zero addresses whose stake changed. Mints and burns
// involve the zero address, which holds no stake.
func (t shareTransfer) parties() []common.Address {
	out := make([]common.Address, 0, 2)
	for _, addr := range []common.Address{t.From, t.To} {
		if addr == (common.Address{}) {
			continue
		}
		if len(out) == 1 && out[0] == addr {
			continue
		}
		out = append(out, addr)
	}
	return out
}

func decodeTransfer(log types.Log) (shareTransfer, error) {
	if len(log.Topics) != 3 {
		return shareTransfer{}, fmt.Errorf("transfer log %s:%d has %d topics", log.TxHash.Hex(), log.Index, len(log.Topics))
	}
	return shareTransfer{
		Token: log.Address,
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Block: log.BlockNumber,
		Index: log.Index,
	}, nil
}
