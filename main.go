package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	chatter "github.com/putto11262002/projectchat/app"
)

func main() {
	configFile := flag.String("config", "", "path to the config file (default ./config.yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer stop()

	config, err := chatter.LoadConfig(*configFile)
	if err != nil {
		failed(1, "failed to load config: %v\n", err)
	}

	app, err := chatter.New(config, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		failed(1, "%v\n", err)
	}

	if err := app.Run(ctx); err != nil {
		failed(1, "%v\n", err)
	}
}

func failed(code int, s string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, s, args...)
	os.Exit(code)
}
