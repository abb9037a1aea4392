// espbridge is the host-side CLI for the encrypted ESP32 serial protocol.
// It can enumerate ports, listen for device messages, and send commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hiroki077/communication-esp32-tauri/internal/config"
	"github.com/hiroki077/communication-esp32-tauri/internal/host"
	"github.com/hiroki077/communication-esp32-tauri/internal/transport"
	"github.com/hiroki077/communication-esp32-tauri/pkg/protocol"
)

func main() {
	var (
		cfgFile  string
		portName string
		plain    bool
	)

	logger := zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
	).With().Timestamp().Logger()

	load := func() (config.Config, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		if portName != "" {
			cfg.Serial.Port = portName
		}
		if plain {
			cfg.Crypto.Encrypted = false
		}
		return cfg, nil
	}

	rootCmd := &cobra.Command{
		Use:   "espbridge",
		Short: "Host bridge for the encrypted ESP32 serial protocol",
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&portName, "port", "", "serial port (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "disable encryption")

	portsCmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports that look like the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports := transport.ListPorts()
			if len(ports) == 0 {
				fmt.Println("no serial ports found")
				return nil
			}
			for _, p := range ports {
				fmt.Println(p)
			}
			return nil
		},
	}

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen for device messages until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			listener, err := openListener(cfg, logger)
			if err != nil {
				return err
			}
			defer listener.Stop()

			unsubscribe := listener.Subscribe(func(r protocol.Response) {
				fmt.Printf("[%s] %s", r.Status, r.Message)
				if r.ResponseTo != nil {
					fmt.Printf(" (response_to=%s)", *r.ResponseTo)
				}
				fmt.Println()
			})
			defer unsubscribe()

			if err := listener.Start(); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logger.Info().Msg("shutting down")
			return nil
		},
	}

	var (
		data    string
		hasData bool
		timeout time.Duration
	)
	sendCmd := &cobra.Command{
		Use:   "send <action>",
		Short: "Send one command and wait for the matching response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			listener, err := openListener(cfg, logger)
			if err != nil {
				return err
			}
			defer listener.Stop()

			if err := listener.Start(); err != nil {
				return err
			}

			action := args[0]
			var payload *string
			if hasData {
				payload = &data
			}

			// The protocol gives no delivery guarantee; the wait and its
			// timeout are imposed here, on the caller side. Subscribe
			// before sending so the response cannot slip past.
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			respCh := make(chan protocol.Response, 1)
			unsubscribe := listener.Subscribe(func(r protocol.Response) {
				if r.ResponseTo != nil && *r.ResponseTo == action {
					select {
					case respCh <- r:
					default:
					}
				}
			})
			defer unsubscribe()

			if err := listener.SendCommand(action, payload); err != nil {
				return err
			}

			select {
			case resp := <-respCh:
				fmt.Printf("[%s] %s\n", resp.Status, resp.Message)
				return nil
			case <-ctx.Done():
				return fmt.Errorf("no response to %q: %w", action, ctx.Err())
			}
		},
	}
	sendCmd.Flags().StringVar(&data, "data", "", "optional command data")
	sendCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the response")
	sendCmd.PreRun = func(cmd *cobra.Command, args []string) {
		hasData = cmd.Flags().Changed("data")
	}

	rootCmd.AddCommand(portsCmd, listenCmd, sendCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// openListener opens the configured serial port and wires up the listener.
// The port handle is flushed once to drop any stale boot output.
func openListener(cfg config.Config, logger zerolog.Logger) (*host.Listener, error) {
	if cfg.Serial.Port == "" {
		return nil, fmt.Errorf("no serial port configured (use --port or espbridge.toml)")
	}

	cs, err := cfg.Crypto.System()
	if err != nil {
		return nil, err
	}

	port, err := transport.Open(transport.Config{
		Name: cfg.Serial.Port,
		Baud: cfg.Serial.Baud,
	})
	if err != nil {
		return nil, err
	}
	if err := port.Flush(); err != nil {
		logger.Warn().Err(err).Msg("could not flush stale port data")
	}

	owner := transport.NewOwner(port)
	return host.NewListener(owner, host.Config{
		Crypto:    cs,
		Encrypted: cfg.Crypto.Encrypted,
		Logger:    logger,
	}), nil
}
