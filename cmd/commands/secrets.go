package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/swarm/internal/config"
	"github.com/dohr-michael/swarm/internal/secrets"
)

// NewSecretsCommand returns the secrets subcommand.
func NewSecretsCommand() *cli.Command {
	return &cli.Command{
		Name:  "secrets",
		Usage: "Store encrypted values in the swarm .env file",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Create the encryption key if it does not exist",
				Action: runSecretsInit,
			},
			{
				Name:      "set",
				Usage:     "Encrypt a value and store it in .env",
				ArgsUsage: "<KEY> [value]",
				Action:    runSecretsSet,
			},
		},
	}
}

// OpenSecrets decrypts sealed environment values when a key is present. It
// runs before flags read their environment sources.
func OpenSecrets() {
	path := secrets.KeyPath()
	if _, err := os.Stat(path); err != nil {
		return
	}
	k, err := secrets.LoadKeyring(path)
	if err != nil {
		slog.Warn("secrets key unreadable", "path", path, "error", err)
		return
	}
	opened, err := k.OpenEnv()
	if err != nil {
		slog.Warn("some secrets could not be decrypted", "error", err)
	}
	if len(opened) > 0 {
		slog.Debug("secrets decrypted", "keys", opened)
	}
}

func runSecretsInit(_ context.Context, _ *cli.Command) error {
	k, err := secrets.InitKeyring(secrets.KeyPath())
	if err != nil {
		return err
	}
	fmt.Printf("Key:        %s\nRecipient:  %s\n", secrets.KeyPath(), k.Recipient())
	return nil
}

func runSecretsSet(_ context.Context, cmd *cli.Command) error {
	key := cmd.Args().Get(0)
	if key == "" {
		return errors.New("usage: swarm secrets set <KEY> [value]")
	}
	value := cmd.Args().Get(1)
	if value == "" {
		var err error
		if value, err = promptSecret(key + ": "); err != nil {
			return err
		}
	}

	k, err := secrets.InitKeyring(secrets.KeyPath())
	if err != nil {
		return err
	}
	sealed, err := k.Seal(value)
	if err != nil {
		return err
	}
	path := config.DotenvPath()
	if err := secrets.SetEntry(path, key, sealed); err != nil {
		return err
	}
	fmt.Printf("%s stored encrypted in %s\n", key, path)
	return nil
}
