// Package devices lists the audio devices the malgo backend can open
package devices

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/loopback/internal/audiocore"
	"github.com/tphakala/loopback/internal/audiocore/backends"
	"github.com/tphakala/loopback/internal/audiocore/backends/malgo"
)

// lister returns the devices for one direction.
type lister func(dir audiocore.Direction) ([]malgo.AudioDeviceInfo, error)

// Command creates the devices command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture and playback devices",
		Long:  "List the capture and playback devices. Names and ids can be used as audio.capturedevice and audio.playbackdevice.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return list(cmd.OutOrStdout(), backends.ListAvailableDevices)
		},
	}
}

func list(w io.Writer, devices lister) error {
	for _, dir := range []audiocore.Direction{audiocore.DirectionCapture, audiocore.DirectionPlayback} {
		infos, err := devices(dir)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(w, "%s devices:\n", dir)
		if len(infos) == 0 {
			_, _ = fmt.Fprintln(w, "  none")
		}
		for _, d := range infos {
			marker := " "
			if d.IsDefault {
				marker = "*"
			}
			_, _ = fmt.Fprintf(w, " %s%d: %s (ID: %s)\n", marker, d.Index, d.Name, d.ID)
		}
	}
	return nil
}
