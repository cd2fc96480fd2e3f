package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/checkinhub/pkg/models"
	"github.com/dukex/checkinhub/pkg/vault"
	cli "github.com/urfave/cli/v3"
)

var errMissingArgument = errors.New("missing argument")

func EncryptCommand() *cli.Command {
	return &cli.Command{
		Name:      "encrypt",
		Usage:     "Encrypt a token with the vault key and print the stored form",
		ArgsUsage: "<plaintext>",
		Flags: []cli.Flag{
			encryptionKeyFlag(),
		},
		Action: func(_ context.Context, command *cli.Command) error {
			plaintext := command.Args().First()
			if plaintext == "" {
				return fmt.Errorf("%w: plaintext", errMissingArgument)
			}

			key := command.String("encryption-key")
			if key == "" {
				return errMissingEncryptionKey
			}

			secret, err := vault.New(key).Encrypt(plaintext)
			if err != nil {
				return err
			}

			return printJSON(command.Root().Writer, secret)
		},
	}
}

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Execute one manual run of a site and print the outcome",
		ArgsUsage: "<site-id>",
		Flags:     runtimeFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			siteID := command.Args().First()
			if siteID == "" {
				return fmt.Errorf("%w: site-id", errMissingArgument)
			}

			logger := setupLogging(command)

			c, err := newComponents(ctx, command, logger)
			if err != nil {
				return err
			}

			defer c.Close(ctx)

			err = c.bus.Subscribe(ctx)
			if err != nil {
				return fmt.Errorf("failed to subscribe to events: %w", err)
			}

			outcome := c.worker.RunSite(ctx, siteID, models.TriggerManual)

			err = printJSON(command.Root().Writer, outcome)
			if err != nil {
				return err
			}

			if outcome.Status == models.OutcomeError {
				return cli.Exit(outcome.Message, 1)
			}

			return nil
		},
	}
}

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a site document: flow schema, schedule and auth",
		ArgsUsage: "<file>",
		Action: func(_ context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return fmt.Errorf("%w: file", errMissingArgument)
			}

			file, err := os.Open(path)
			if err != nil {
				return err
			}

			defer func() {
				_ = file.Close()
			}()

			err = validateSiteDocument(file)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(command.Root().Writer, "%s is a valid site document\n", path)

			return err
		},
	}
}

// validateSiteDocument checks the raw flow against the flow schema before
// decoding, then runs the site checks.
func validateSiteDocument(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var document struct {
		Flow any `json:"flow"`
	}

	err = json.Unmarshal(raw, &document)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidSite, err)
	}

	if document.Flow != nil {
		err = models.ValidateFlow(document.Flow)
		if err != nil {
			return err
		}
	}

	var site models.Site

	err = json.Unmarshal(raw, &site)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidSite, err)
	}

	return site.Validate()
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}
