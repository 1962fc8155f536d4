package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Bryght7/TIRC/internal/server"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: server [port]")
}

func main() {
	fmt.Println("Starting TIRC relay...")

	config := server.NewConfigFromEnv()
	if len(os.Args) > 2 {
		usage()
		os.Exit(2)
	}
	if len(os.Args) == 2 {
		addr, ok := server.PortAddr(os.Args[1])
		if !ok {
			usage()
			os.Exit(2)
		}
		config.Addr = addr
	}

	reactor := server.NewReactor(config)
	if err := reactor.Start(config.Addr); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var httpServer *http.Server
	if config.GatewayAddr != "" {
		gateway := server.NewGateway(config, reactor)
		httpServer = server.CreateServer(config.GatewayAddr, gateway.Routes())
		go func() {
			if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Gateway error: %v", err)
				stop()
			}
		}()
	}

	if err := reactor.Run(ctx); err != nil {
		log.Fatal(err)
	}

	if httpServer != nil {
		_ = server.ShutdownServer(httpServer, config.ShutdownTimeout)
	}
	if err := reactor.Wait(config.ShutdownTimeout); err != nil {
		log.Printf("Relay shutdown incomplete: %v", err)
	}
	log.Println("Relay stopped")
}
