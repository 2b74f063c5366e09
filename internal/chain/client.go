package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// maxBlockTimes bounds the timestamp cache; a sync batch touches far fewer blocks.
const maxBlockTimes = 8192

// Client is the RPC connection shared by the syncer and the chain-backed vaults.
type Client struct {
	rpc      *rpc.Client
	eth      *ethclient.Client
	chainID  *big.Int
	transfer common.Hash

	mu         sync.RWMutex
	blockTimes map[uint64]uint64
}

// NewClient dials rpcURL and reads the chain id once.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	transfer, err := TransferTopic()
	if err != nil {
		return nil, err
	}
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	eth := ethclient.NewClient(rpcClient)
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("read chain id: %w", err)
	}

	return &Client{
		rpc:        rpcClient,
		eth:        eth,
		chainID:    chainID,
		transfer:   transfer,
		blockTimes: make(map[uint64]uint64),
	}, nil
}

func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// ChainID is the id reported by the node at dial time.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// BlockTimestamp returns a block's timestamp. The ledger clock is driven by
// these, so every transfer in one block shares a single lookup.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.blockTimes[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if len(c.blockTimes) >= maxBlockTimes {
		c.blockTimes = make(map[uint64]uint64)
	}
	c.blockTimes[number] = header.Time
	c.mu.Unlock()
	return header.Time, nil
}

// FilterTransfers returns the ERC-20 Transfer logs emitted by tokens in an
// inclusive block range.
func (c *Client) FilterTransfers(ctx context.Context, fromBlock, toBlock uint64, tokens []common.Address) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: tokens,
		Topics:    [][]common.Hash{{c.transfer}},
	})
}

// CallContract performs an eth_call at blockNumber, or at latest when it is nil.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, blockNumber)
}
