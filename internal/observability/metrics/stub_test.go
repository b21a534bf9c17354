package metrics

import (
	"context"
	"math/big"

	"OpenMCP-Wallet/internal/web3"
)

type stubClient struct{}

func (stubClient) Accounts(context.Context) ([]string, error) { return nil, nil }
func (stubClient) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (stubClient) ChecksumAddress(a string) (string, error) { return a, nil }
func (stubClient) Transport() web3.Kind { return web3.KindHTTP }
func (stubClient) Close(context.Context) error { return nil }
