package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"NeoLink-Agent/internal/agent"
	"NeoLink-Agent/internal/api"
	"NeoLink-Agent/internal/capability"
	"NeoLink-Agent/internal/intent"
	"NeoLink-Agent/internal/llm"
	"NeoLink-Agent/internal/session"
	"NeoLink-Agent/sdk/go/neolink"
)

func main() {
	static := capability.NewStatic()
	dispatcher := agent.NewDispatcher(
		capability.Providers{Price: static, Gas: static, Balance: static},
		agent.NewFallback(llm.StaticClient{}, nil),
	)
	bot := agent.New(session.NewMemoryStore(), intent.NewClassifier(intent.DefaultTables()), dispatcher)

	srv := httptest.NewServer(api.NewServer(":0", bot).Handler())
	defer srv.Close()

	client, err := neolink.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, text := range []string{"hi", "eth price", "gas", "0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8e8", "my balance"} {
		reply, err := client.SendMessage(ctx, "demo:user", text)
		if err != nil {
			panic(err)
		}
		fmt.Printf("> %s\n%s\n\n", text, reply.Reply)
	}
}
