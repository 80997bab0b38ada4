// Package main is the entry point for the taskloop CLI.
package main

import (
	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/vinayprograms/agentkit/credentials"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// globalCreds holds loaded credentials (file > env fallback happens in newProvider)
var globalCreds *credentials.Credentials

func init() {
	if creds, _, err := credentials.Load(); err == nil && creds != nil {
		globalCreds = creds
	}

	// Load .env for any additional env vars
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("taskloop"),
		kong.Description("Perceive, decide and execute until a query is answered."),
		kong.UsageOnError(),
		kongVars(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
