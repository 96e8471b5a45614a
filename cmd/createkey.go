package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/devicehandle/device"
)

// CreateKeyCommand creates the create-key command
func CreateKeyCommand() *cli.Command {
	return &cli.Command{
		Name:   "create-key",
		Usage:  "Generate a key in a slot of an HSM",
		Flags:  numSlotFlags(),
		Action: runCreateKeyCommand,
	}
}

func runCreateKeyCommand(ctx context.Context, cmd *cli.Command) error {
	num := cmd.Int("num")
	slot, err := slotArg(cmd)
	if err != nil {
		return err
	}

	return withBackend(ctx, cmd, func(b *backend) error {
		h, err := device.FetchHSM(b.lib, num)
		if err != nil {
			return fmt.Errorf("failed to fetch HSM: %w", err)
		}
		defer h.Close()

		if err := device.CreateKey(h, slot); err != nil {
			return fmt.Errorf("failed to create key: %w", err)
		}
		if err := b.persist(); err != nil {
			return fmt.Errorf("failed to persist backend state: %w", err)
		}

		zerolog.Ctx(ctx).Info().Int("num", num).Uint("slot", slot).Msg("key created")
		fmt.Fprintf(cmd.Root().Writer, "Created key in slot %d of %s\n", slot, h)
		return nil
	})
}
