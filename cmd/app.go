package cmd

import (
	"github.com/urfave/cli/v3"
)

// NewApp creates the devicectl root command
func NewApp() *cli.Command {
	return &cli.Command{
		Name:   "devicectl",
		Usage:  "Inspect and drive HSM and FIDO devices of the native device library",
		Flags:  GlobalFlags(),
		Before: SetupLogging,
		Commands: []*cli.Command{
			ListCommand(),
			HSMCommand(),
			SignCommand(),
			CreateKeyCommand(),
		},
	}
}
