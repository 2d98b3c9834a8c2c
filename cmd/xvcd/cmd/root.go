package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "xvcd",
	Short: "Xilinx Virtual Cable daemon for FTDI MPSSE probes",
	Long: `xvcd bridges the Xilinx Virtual Cable network protocol to an FTDI
MPSSE-based JTAG probe, so tools like Vivado can reach a target over the
network as if a platform cable were attached.

Examples:
  xvcd serve                          # serve with the configured probe
  xvcd serve --probe sim              # serve without hardware (loopback)
  xvcd probes                         # list attached FTDI devices`,
	Version: "1.0.0",
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./xvcd.yaml, /etc/xvcd/xvcd.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")
}
