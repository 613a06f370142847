package commands

import (
	"github.com/dyluth/arena/internal/printer"
	"github.com/dyluth/arena/internal/session"
	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the local address and whether this machine would host",
	Long: `Run host election and print its inputs.

The local address is the one the operating system would use to reach the
probe address. No packet is sent. This machine hosts when that address
equals the configured host address.`,
	Args: cobra.NoArgs,
	RunE: runWhoami,
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	e := session.NewElector(cfg.Network.HostAddress, cfg.Network.ProbeAddress)
	local, err := e.Local()
	if err != nil {
		return printer.Error("no route to probe address", err.Error(), []string{
			"Set network.probe_address to an address on your LAN",
		})
	}

	printer.Printf("Local address: %s\n", local)
	if cfg.Network.HostAddress == "" {
		printer.Printf("Host address:  (not set)\n")
		return nil
	}
	printer.Printf("Host address:  %s\n", cfg.Network.HostAddress)
	if local == cfg.Network.HostAddress {
		printer.Success("This machine is the host\n")
	} else {
		printer.Info("This machine joins as a client\n")
	}
	return nil
}
