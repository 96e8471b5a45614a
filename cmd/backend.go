package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/devicehandle/device"
	"github.com/anchorageoss/devicehandle/native"
	"github.com/anchorageoss/devicehandle/native/sim"
	"github.com/anchorageoss/devicehandle/pkg/pkcs11hsm"
)

const (
	backendSim    = "sim"
	backendPKCS11 = "pkcs11"
)

// GlobalFlags are the flags shared by every subcommand
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "backend",
			Usage:   "Native library backend (sim or pkcs11)",
			Value:   backendSim,
			Sources: cli.EnvVars("DEVICECTL_BACKEND"),
			Validator: func(v string) error {
				if v != backendSim && v != backendPKCS11 {
					return fmt.Errorf("unknown backend %q", v)
				}
				return nil
			},
		},
		&cli.StringFlag{
			Name:    "state",
			Usage:   "Simulator state file (empty keeps state in memory)",
			Sources: cli.EnvVars("DEVICECTL_STATE"),
		},
		&cli.StringFlag{
			Name:    "pkcs11-module",
			Usage:   "Path to the PKCS#11 module",
			Sources: cli.EnvVars("DEVICECTL_PKCS11_MODULE"),
		},
		&cli.StringFlag{
			Name:    "pkcs11-pin",
			Usage:   "User PIN of the PKCS#11 tokens",
			Sources: cli.EnvVars("DEVICECTL_PKCS11_PIN"),
		},
		&cli.StringFlag{
			Name:  "pkcs11-os",
			Usage: "Operating system reported for PKCS#11 tokens",
			Value: "linux",
		},
		&cli.IntFlag{
			Name:  "pkcs11-slots",
			Usage: "Number of key slots per PKCS#11 token",
			Value: pkcs11hsm.DefaultSlots,
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "warn",
			Sources: cli.EnvVars("DEVICECTL_LOG_LEVEL"),
		},
	}
}

// SetupLogging installs a console logger on stderr into the command context
func SetupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	level, err := zerolog.ParseLevel(cmd.String("log-level"))
	if err != nil {
		return ctx, fmt.Errorf("invalid log level: %w", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger.WithContext(ctx), nil
}

// backend is an opened native library plus its lifecycle hooks
type backend struct {
	lib native.Library
	// persist saves mutable backend state after a successful command
	persist func() error
	close   func() error
	// verify checks a signature made by Sign; nil when the backend holds no public keys
	verify func(num int, slot uint, sig []byte) error
}

func openBackend(ctx context.Context, cmd *cli.Command) (*backend, error) {
	logger := *zerolog.Ctx(ctx)

	switch name := cmd.String("backend"); name {
	case backendSim:
		return openSim(cmd.String("state"), logger)
	case backendPKCS11:
		o, err := native.ParseOS(cmd.String("pkcs11-os"))
		if err != nil {
			return nil, err
		}
		slots := cmd.Int("pkcs11-slots")
		if slots < 1 {
			return nil, fmt.Errorf("--pkcs11-slots must be positive, got %d", slots)
		}

		lib, err := pkcs11hsm.Open(pkcs11hsm.Config{
			Module: cmd.String("pkcs11-module"),
			PIN:    cmd.String("pkcs11-pin"),
			OS:     o,
			Slots:  uint(slots),
		}, pkcs11hsm.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open PKCS#11 backend: %w", err)
		}
		return &backend{
			lib:     lib,
			persist: func() error { return nil },
			close:   lib.Close,
			verify: func(num int, slot uint, sig []byte) error {
				pub, err := lib.PublicKey(uint(num-1), slot)
				if err != nil {
					return fmt.Errorf("failed to read public key: %w", device.Translate(err))
				}
				if !pkcs11hsm.VerifySignature(pub, slot, sig) {
					return fmt.Errorf("signature does not verify against the public key of slot %d", slot)
				}
				return nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

func openSim(state string, logger zerolog.Logger) (*backend, error) {
	if state == "" {
		return &backend{
			lib:     sim.New(sim.WithLogger(logger)),
			persist: func() error { return nil },
			close:   func() error { return nil },
		}, nil
	}

	lib, err := sim.Load(state, sim.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to load simulator state: %w", err)
	}
	return &backend{
		lib:     lib,
		persist: func() error { return lib.Save(state) },
		close:   func() error { return nil },
	}, nil
}

// withBackend opens the backend, runs fn and closes the backend again
func withBackend(ctx context.Context, cmd *cli.Command, fn func(*backend) error) error {
	b, err := openBackend(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.close(); cerr != nil {
			zerolog.Ctx(ctx).Warn().Err(cerr).Msg("failed to close backend")
		}
	}()
	return fn(b)
}
