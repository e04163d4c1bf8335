package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/psford/systts/internal/audiosink"
	"github.com/psford/systts/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	var skipAudio bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run environment preflight checks",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			sources := make(map[string]struct{}, len(cfg.Sources))
			for name := range cfg.Sources {
				sources[name] = struct{}{}
			}

			probe := audiosink.ProbeDevice
			if skipAudio {
				probe = nil
			}

			res := doctor.Run(doctor.Config{
				VoicesDir:        cfg.Service.VoicesDir,
				Sources:          sources,
				ProbeAudioDevice: probe,
			}, os.Stdout)

			if res.Failed() {
				return fmt.Errorf("doctor checks failed: %s", strings.Join(res.Failures(), "; "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipAudio, "skip-audio", false, "Skip the audio device probe")

	return cmd
}
