package main

import (
	"github.com/spf13/cobra"

	"github.com/srg/motionlink/internal/transport/gatt"
)

// gattCmd streams to a companion as a BLE peripheral
var gattCmd = &cobra.Command{
	Use:   "gatt",
	Short: "Stream as a BLE GATT peripheral",
	Long: `Advertises a GATT service and serves one companion: it writes commands
to the inbox characteristic and subscribes to the outbox characteristic for
device messages. Samples come from the synthetic sine sensor.

Examples:
  motionlink gatt --name bench-1
  motionlink gatt --mtu-payload 180 --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runGATT,
}

var (
	gattName       string
	gattMTUPayload int
)

func init() {
	gattCmd.Flags().StringVar(&gattName, "name", "", "Advertised device name; config value by default")
	gattCmd.Flags().IntVar(&gattMTUPayload, "mtu-payload", 0, "Largest notification in bytes; config value by default")
}

func runGATT(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if gattName != "" {
		cfg.GATT.DeviceName = gattName
	}
	if gattMTUPayload > 0 {
		cfg.GATT.MTUPayload = gattMTUPayload
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	return runEngine(cmd, cfg, gatt.New(cfg.GATTOptions(), logger), logger)
}
