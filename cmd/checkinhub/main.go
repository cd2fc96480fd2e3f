package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	err := loadEnvFiles()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	err = newCommand().Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnvFiles reads .env when present. Variables already set in the
// environment win.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}

		return nil
	}

	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:                  "checkinhub",
		Usage:                 "Run scheduled HTTP check-in flows against third-party sites",
		Version:               version,
		EnableShellCompletion: true,
		Flags:                 serveFlags(),
		Action:                serveAction,
		Commands: []*cli.Command{
			ServeCommand(),
			EncryptCommand(),
			RunCommand(),
			ValidateCommand(),
		},
	}
}
