package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/aws/aws-lambda-go/lambda"

	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/logging"
	"cors-proxy-go/internal/serverless"
	"cors-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Lambda passes no arguments; Kong reads the same environment overrides
	// as the server binary.
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("cors-proxy-lambda"),
		kong.Description("CORS forwarding proxy for AWS API Gateway."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	cfg, err := config.Load(&cli)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg)

	fwd, err := service.NewForwarder(client.NewUpstreamClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		logger.Error("create forwarder", "err", err)
		os.Exit(1)
	}

	h := serverless.NewHandler(fwd, logger)
	if cfg.Serverless.Event == "http" {
		lambda.Start(h.HandleHTTP)
		return
	}
	lambda.Start(h.Handle)
}
