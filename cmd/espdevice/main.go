// espdevice runs the device-side command loop over stdin/stdout. It stands
// in for the ESP32 firmware during development: attach it to the other end
// of a pty or pipe and it answers the same command set.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hiroki077/communication-esp32-tauri/internal/config"
	"github.com/hiroki077/communication-esp32-tauri/internal/device"
	"github.com/hiroki077/communication-esp32-tauri/pkg/crypto"
)

func main() {
	var (
		seed  string
		plain bool
	)

	logger := zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	).With().Timestamp().Logger()

	rootCmd := &cobra.Command{
		Use:   "espdevice",
		Short: "Device-side command loop bound to stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := device.NewRunner(os.Stdin, os.Stdout, device.DefaultMux(), device.Config{
				Crypto:    crypto.NewFromSeed(seed),
				Encrypted: !plain,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			return runner.Run(context.Background())
		},
	}
	rootCmd.Flags().StringVar(&seed, "seed", config.DefaultSeed, "key seed shared with the host")
	rootCmd.Flags().BoolVar(&plain, "plain", false, "disable encryption")

	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("device loop failed")
		os.Exit(1)
	}
}
