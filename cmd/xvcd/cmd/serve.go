package cmd

import (
	"fmt"
	"math"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sgoadhouse/xvcd-server/internal/config"
	"github.com/sgoadhouse/xvcd-server/internal/logging"
	"github.com/sgoadhouse/xvcd-server/pkg/adapter"
	"github.com/sgoadhouse/xvcd-server/pkg/ftdi"
	"github.com/sgoadhouse/xvcd-server/pkg/xvc"
)

var (
	serveListen string
	serveProbe  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the XVC protocol over TCP",
	Long: `Open the configured JTAG probe and serve Xilinx Virtual Cable
requests until interrupted.

Examples:
  xvcd serve
  xvcd serve --listen 127.0.0.1:2542
  xvcd serve --probe sim`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "",
		"listen address (overrides config)")
	serveCmd.Flags().StringVarP(&serveProbe, "probe", "p", "",
		"probe driver: ftdi or sim (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	if serveProbe != "" {
		cfg.Probe.Driver = serveProbe
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	adap, closeProbe, err := openProbe(cfg, log)
	if err != nil {
		return err
	}
	defer closeProbe()

	if cfg.JTAG.TCKFrequencyHz > 0 {
		period := int(math.Round(1e9 / float64(cfg.JTAG.TCKFrequencyHz)))
		achieved, err := adap.SetTCKPeriod(period)
		if err != nil {
			return fmt.Errorf("initial tck setup failed: %w", err)
		}
		log.Infow("tck configured", "requested_ns", period, "achieved_ns", achieved)
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s failed: %w", cfg.Server.Listen, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return xvc.New(adap, log).Serve(ctx, ln)
}

// openProbe builds the configured adapter and a cleanup function.
func openProbe(cfg *config.Config, log *zap.SugaredLogger) (adapter.Adapter, func(), error) {
	switch cfg.Probe.Driver {
	case "sim":
		log.Infow("using loopback probe")
		return adapter.NewLoopback(), func() {}, nil
	case "ftdi":
		ch, err := ftdi.ParseChannel(cfg.Probe.Channel)
		if err != nil {
			return nil, nil, err
		}
		dev, err := ftdi.Open(uint16(cfg.Probe.VID), uint16(cfg.Probe.PID), ch, log)
		if err != nil {
			return nil, nil, err
		}
		return adapter.NewEngineAdapter(dev, log), func() { dev.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown probe driver %q", cfg.Probe.Driver)
}
