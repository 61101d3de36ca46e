package main

import (
	"github.com/spf13/cobra"

	"github.com/srg/motionlink/internal/transport/mqtt"
)

// mqttCmd streams to a companion through an MQTT broker
var mqttCmd = &cobra.Command{
	Use:   "mqtt",
	Short: "Stream through an MQTT broker",
	Long: `Connects to an MQTT broker and serves the companion on two topics:
<prefix>/inbox for commands from the companion and <prefix>/outbox for
messages from the device. Samples come from the synthetic sine sensor.

Examples:
  motionlink mqtt --broker tcp://broker.local:1883 --topic-prefix lab/bench-1
  motionlink mqtt --config motionlink.yaml --metrics-addr :9100`,
	Args: cobra.NoArgs,
	RunE: runMQTT,
}

var (
	mqttBroker      string
	mqttTopicPrefix string
	mqttClientID    string
)

func init() {
	mqttCmd.Flags().StringVar(&mqttBroker, "broker", "", "Broker URL; config value by default")
	mqttCmd.Flags().StringVar(&mqttTopicPrefix, "topic-prefix", "", "Topic prefix; config value by default")
	mqttCmd.Flags().StringVar(&mqttClientID, "client-id", "", "MQTT client id; config value by default")
}

func runMQTT(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if mqttBroker != "" {
		cfg.MQTT.Broker = mqttBroker
	}
	if mqttTopicPrefix != "" {
		cfg.MQTT.TopicPrefix = mqttTopicPrefix
	}
	if mqttClientID != "" {
		cfg.MQTT.ClientID = mqttClientID
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	return runEngine(cmd, cfg, mqtt.New(cfg.MQTTOptions(), logger), logger)
}
