package main

import (
	"context"
	"fmt"
	"log"
	"net/http/httptest"

	"OpenMCP-Wallet/internal/api"
	"OpenMCP-Wallet/internal/connector"
	"OpenMCP-Wallet/internal/session"
	"OpenMCP-Wallet/internal/web3/provider"
	"OpenMCP-Wallet/sdk/go/walletd"
)

// main 在进程内启动一个最小 walletd，并用 SDK 走一遍连接、切换账户和断开。
func main() {
	ctx := context.Background()

	injected, err := provider.NewInjected(1337, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	if err != nil {
		log.Fatalf("start injected wallet: %v", err)
	}
	defer injected.Shutdown()

	reg := connector.NewRegistry(connector.Options{
		Backends: []connector.Backend{connector.NewInjectedBackend("injected", injected)},
	})
	if err := reg.Initialize(ctx); err != nil {
		log.Fatalf("initialize registry: %v", err)
	}
	ctrl := session.NewController(reg, nil)
	srv := httptest.NewServer(api.NewServer("", api.Options{Session: ctrl, Providers: reg.Providers, Injected: injected}).Handler())
	defer srv.Close()

	client, err := walletd.NewClient(srv.URL, nil)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	s, err := client.Connect(ctx, "injected")
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	fmt.Printf("connected via %s: %s on chain %s\n", s.Provider, s.Account, s.ChainID)

	s, err = client.SetInjectedAccounts(ctx, "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
	if err != nil {
		log.Fatalf("switch account: %v", err)
	}
	fmt.Printf("account switched to %s\n", s.Account)

	if _, err := client.Disconnect(ctx); err != nil {
		log.Fatalf("disconnect: %v", err)
	}
	fmt.Println("disconnected")
}
