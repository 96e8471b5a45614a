package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anchorageoss/devicehandle/cmd"
)

func TestMainApp(t *testing.T) {
	t.Run("help command", func(t *testing.T) {
		var buf bytes.Buffer
		app := cmd.NewApp()
		app.Writer = &buf

		err := app.Run(context.Background(), []string{"devicectl", "--help"})
		require.NoError(t, err)

		output := buf.String()
		require.Contains(t, output, "devicectl")
		require.Contains(t, output, "COMMANDS:")
		for _, name := range []string{"list", "hsm", "sign", "create-key"} {
			require.Contains(t, output, name)
		}
	})

	t.Run("driver run", func(t *testing.T) {
		var buf bytes.Buffer
		for _, sub := range []string{"list", "hsm"} {
			app := cmd.NewApp()
			app.Writer = &buf
			require.NoError(t, app.Run(context.Background(), []string{"devicectl", sub}))
		}

		output := buf.String()
		require.Contains(t, output, "Fetch device with num 6:")
		require.Contains(t, output, "Warning: invalid device number 0")
		require.Contains(t, output, "Fetch HSM device with num 3:")
	})
}
