package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/devicehandle/device"
	"github.com/anchorageoss/devicehandle/native"
)

func numSlotFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:     "num",
			Usage:    "Device number (one-based)",
			Required: true,
		},
		&cli.IntFlag{
			Name:     "slot",
			Usage:    "Key slot",
			Required: true,
		},
	}
}

func slotArg(cmd *cli.Command) (uint, error) {
	slot := cmd.Int("slot")
	if slot < 0 {
		return 0, fmt.Errorf("--slot must not be negative, got %d", slot)
	}
	return uint(slot), nil
}

// SignCommand creates the sign command
func SignCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign",
		Usage: "Sign with a key slot of an HSM",
		Flags: append(numSlotFlags(),
			&cli.StringFlag{
				Name:  "os",
				Usage: "Require the HSM to run this OS (linux, baremetal, windoof)",
			},
			&cli.BoolFlag{
				Name:  "verify",
				Usage: "Verify the signature against the slot's public key (pkcs11 backend)",
			},
		),
		Action: runSignCommand,
	}
}

func runSignCommand(ctx context.Context, cmd *cli.Command) error {
	num := cmd.Int("num")
	slot, err := slotArg(cmd)
	if err != nil {
		return err
	}

	return withBackend(ctx, cmd, func(b *backend) error {
		if cmd.Bool("verify") && b.verify == nil {
			return fmt.Errorf("backend %s cannot verify signatures", cmd.String("backend"))
		}

		var sig []byte
		if name := cmd.String("os"); name == "" {
			sig, err = signAny(b.lib, num, slot)
		} else {
			o, perr := native.ParseOS(name)
			if perr != nil {
				return perr
			}
			switch o {
			case native.OSBareMetal:
				sig, err = signWith[device.BareMetal](b.lib, num, slot)
			case native.OSLinux:
				sig, err = signWith[device.Linux](b.lib, num, slot)
			default:
				sig, err = signWith[device.WinDoof](b.lib, num, slot)
			}
		}
		if err != nil {
			return fmt.Errorf("failed to sign: %w", err)
		}

		fmt.Fprintln(cmd.Root().Writer, hexSignature(sig))
		if cmd.Bool("verify") {
			if err := b.verify(num, slot, sig); err != nil {
				return err
			}
			fmt.Fprintln(cmd.Root().Writer, "Signature verified")
		}
		return nil
	})
}

func signAny(lib native.Library, num int, slot uint) ([]byte, error) {
	h, err := device.FetchHSM(lib, num)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return device.Sign(h, slot)
}

func signWith[O device.ConcreteOS](lib native.Library, num int, slot uint) ([]byte, error) {
	h, err := device.FetchHSMWith[O](lib, num)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return device.Sign(h, slot)
}
