package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/psford/systts/internal/audio"
	"github.com/psford/systts/internal/catalog"
	"github.com/psford/systts/internal/synth"
)

func newVoicesCmd() *cobra.Command {
	var dumpDir string

	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the voices found in the voices directory",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			cat, err := catalog.New(cfg.Service.VoicesDir, cfg.Service.DefaultVoiceID, slog.Default())
			if err != nil {
				return err
			}
			defer cat.Shutdown()

			voices := cat.List()
			for _, v := range voices {
				fmt.Printf("%s\t%d Hz\t%s\n", v.ID, v.SampleRate, v.ModelPath)
			}

			if dumpDir == "" {
				return nil
			}
			return dumpSamples(cat, voices, dumpDir)
		},
	}

	cmd.Flags().StringVar(&dumpDir, "dump", "", "Write a short stub sample WAV per voice into this directory")

	return cmd
}

// dumpSamples synthesizes a short stub utterance for each voice and writes
// it as a WAV file, for manually auditioning a voices directory.
func dumpSamples(cat *catalog.Catalog, voices []catalog.Voice, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dump dir: %w", err)
	}

	pool := synth.New(cat, synth.NewStubEngineFactory())
	defer pool.Shutdown()

	for _, v := range voices {
		samples, rate, err := pool.Synthesize(context.Background(), "voice sample", v.ID, 1.0)
		if err != nil {
			return fmt.Errorf("synthesizing sample for %s: %w", v.ID, err)
		}

		data, err := audio.EncodeWAV(samples, rate)
		if err != nil {
			return fmt.Errorf("encoding sample for %s: %w", v.ID, err)
		}

		path := filepath.Join(dir, v.ID+".wav")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Printf("wrote %s\n", path)
	}

	return nil
}
