package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/devicehandle/device"
)

// DeviceInfo is one row of the list output
type DeviceInfo struct {
	Num   int    `json:"num" yaml:"num"`
	OS    string `json:"os,omitempty" yaml:"os,omitempty"`
	Kind  string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ListCommand creates the list command
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Fetch devices 1..count and print their OS and kind",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Usage: "Number of devices to fetch",
				Value: 6,
			},
			formatFlag(),
		},
		Action: runListCommand,
	}
}

func runListCommand(ctx context.Context, cmd *cli.Command) error {
	count := cmd.Int("count")

	return withBackend(ctx, cmd, func(b *backend) error {
		var infos []DeviceInfo
		for num := 1; num <= count; num++ {
			infos = append(infos, describeDevice(b, num))
		}

		return render(cmd.Root().Writer, cmd.String("format"), infos, func(w io.Writer) {
			for _, info := range infos {
				if info.Error != "" {
					fmt.Fprintf(w, "Warning: %s\n", info.Error)
					continue
				}
				fmt.Fprintf(w, "Fetch device with num %d:\n", info.Num)
				fmt.Fprintf(w, "  Device OS: %s\n", info.OS)
				fmt.Fprintf(w, "  Device Type: %s\n", info.Kind)
				if info.Name != "" {
					fmt.Fprintf(w, "  Device Name: %s\n", info.Name)
				}
			}
		})
	})
}

func describeDevice(b *backend, num int) DeviceInfo {
	h, err := device.FetchDevice(b.lib, num)
	if err != nil {
		return DeviceInfo{Num: num, Error: err.Error()}
	}
	defer h.Close()

	info := DeviceInfo{Num: num, OS: h.OS().String(), Kind: h.Kind().String()}
	if linux, err := device.Narrow[device.Linux](h); err == nil {
		info.Name = device.Name(linux)
		linux.Close()
	}
	return info
}
