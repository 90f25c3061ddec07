package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/outpost-vpn/outpost/cmd/cli/commands"
)

func main() {
	// A missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
