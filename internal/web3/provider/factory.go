package provider

import (
	"context"
	"fmt"

	"OpenMCP-Wallet/internal/web3"
	"OpenMCP-Wallet/internal/web3/ethereum"
)

// CreateClient builds the client bound to raw. Endpoint strings get a fresh
// transport of the matching variant; live providers are wrapped as they are.
// It never touches session state.
func CreateClient(ctx context.Context, raw web3.Raw) (web3.Client, error) {
	switch raw.Kind() {
	case web3.KindStream:
		client, err := ethereum.DialStream(ctx, raw.Endpoint())
		if err != nil {
			return nil, err
		}
		return client, nil
	case web3.KindHTTP:
		client, err := ethereum.DialHTTP(ctx, raw.Endpoint())
		if err != nil {
			return nil, err
		}
		return client, nil
	case web3.KindLive:
		client, err := ethereum.Wrap(raw.Provider())
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("未知的 provider 类型: %s", raw.Kind())
	}
}
