package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sgoadhouse/xvcd-server/pkg/ftdi"
)

var probesCmd = &cobra.Command{
	Use:   "probes",
	Short: "List attached FTDI MPSSE-capable devices",
	RunE:  runProbes,
}

func init() {
	rootCmd.AddCommand(probesCmd)
}

func runProbes(cmd *cobra.Command, args []string) error {
	probes, err := ftdi.Enumerate()
	if err != nil {
		return err
	}
	if len(probes) == 0 {
		fmt.Println("No FTDI devices found.")
		return nil
	}
	for _, p := range probes {
		fmt.Printf("%04X:%04X  %-30s serial=%s\n", p.VID, p.PID, p.Description, p.SerialNumber)
	}
	return nil
}
