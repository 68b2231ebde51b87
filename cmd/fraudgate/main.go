package main

import (
	"github.com/joho/godotenv"

	"fraudgate/internal/cli"
)

func main() {
	// Optional .env for local development; real deployments use the
	// environment directly.
	_ = godotenv.Load()

	cli.Execute()
}
