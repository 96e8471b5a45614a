package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/devicehandle/device"
)

// HSMInfo is one row of the hsm output
type HSMInfo struct {
	Num         int    `json:"num" yaml:"num"`
	OS          string `json:"os,omitempty" yaml:"os,omitempty"`
	Kind        string `json:"kind,omitempty" yaml:"kind,omitempty"`
	MaxSlots    uint   `json:"max_slots,omitempty" yaml:"max_slots,omitempty"`
	SignSlot    string `json:"sign_slot,omitempty" yaml:"sign_slot,omitempty"`
	SignSlotErr string `json:"sign_slot_error,omitempty" yaml:"sign_slot_error,omitempty"`
	Sign        string `json:"sign,omitempty" yaml:"sign,omitempty"`
	SignErr     string `json:"sign_error,omitempty" yaml:"sign_error,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

// HSMCommand creates the hsm command
func HSMCommand() *cli.Command {
	return &cli.Command{
		Name:  "hsm",
		Usage: "Fetch HSMs 0..count and sign with slot 1 of each",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Usage: "Highest device number to fetch",
				Value: 6,
			},
			formatFlag(),
		},
		Action: runHSMCommand,
	}
}

func runHSMCommand(ctx context.Context, cmd *cli.Command) error {
	count := cmd.Int("count")

	return withBackend(ctx, cmd, func(b *backend) error {
		var infos []HSMInfo
		for num := 0; num <= count; num++ {
			infos = append(infos, probeHSM(b, num))
		}

		return render(cmd.Root().Writer, cmd.String("format"), infos, func(w io.Writer) {
			for _, info := range infos {
				printHSMInfo(w, info)
			}
		})
	})
}

func probeHSM(b *backend, num int) HSMInfo {
	h, err := device.FetchHSM(b.lib, num)
	if err != nil {
		return HSMInfo{Num: num, Error: err.Error()}
	}
	defer h.Close()

	info := HSMInfo{
		Num:      num,
		OS:       h.OS().String(),
		Kind:     h.Kind().String(),
		MaxSlots: device.MaxSlots(h),
	}
	if sig, err := device.SignSlot(h, 1); err != nil {
		info.SignSlotErr = err.Error()
	} else {
		info.SignSlot = hexSignature(sig)
	}
	if sig, err := device.Sign(h, 1); err != nil {
		info.SignErr = err.Error()
	} else {
		info.Sign = hexSignature(sig)
	}
	return info
}

func printHSMInfo(w io.Writer, info HSMInfo) {
	if info.Error != "" {
		fmt.Fprintf(w, "Warning: %s\n", info.Error)
		return
	}
	fmt.Fprintf(w, "Fetch HSM device with num %d:\n", info.Num)
	fmt.Fprintf(w, "  Device OS: %s\n", info.OS)
	fmt.Fprintf(w, "  Device Type: %s\n", info.Kind)
	fmt.Fprintf(w, "  Max Slots: %d\n", info.MaxSlots)
	if info.SignSlotErr != "" {
		fmt.Fprintf(w, "  Warning(sign_slot): %s\n", info.SignSlotErr)
	} else {
		fmt.Fprintf(w, "  Device Sign: %s\n", info.SignSlot)
	}
	if info.SignErr != "" {
		fmt.Fprintf(w, "  Warning(sign): %s\n", info.SignErr)
	} else {
		fmt.Fprintf(w, "  Device Sign: %s\n", info.Sign)
	}
}
