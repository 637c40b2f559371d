package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"power-agent/internal/agent"
	"power-agent/internal/control"
	"power-agent/internal/domain"
	"power-agent/internal/metrics"
	"power-agent/internal/mqtt"
	"power-agent/internal/power"
	"power-agent/internal/queue"
	"power-agent/internal/sensor"
	"power-agent/internal/telemetry"
)

func (o *rootOpts) client(clientID, deviceID string, h mqtt.ControlHandler) *mqtt.Client {
	return mqtt.NewClient(mqtt.Deps{Handler: h, Logger: o.logger()}, mqtt.Config{
		Broker:     o.broker,
		ClientID:   clientID,
		Username:   o.username,
		Password:   o.password,
		DeviceID:   deviceID,
		MaxElapsed: 30 * time.Second,
	})
}

func newControlCmd(o *rootOpts) *cobra.Command {
	var id, payload string

	cmd := &cobra.Command{
		Use:   "control",
		Short: "control --id <device> --payload <json>",
		Long:  `Publishes a control message to a device at QoS 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// reject locally what the device would reject anyway
			if _, err := control.Parse([]byte(payload)); err != nil {
				return err
			}
			ctx := cmd.Context()
			c := o.client(fmt.Sprintf("powerctl-%d", os.Getpid()), id, nil)
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer c.Close()

			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			topic := telemetry.ControlTopic(id)
			if err := c.Publish(pctx, topic, 1, []byte(payload)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", payload, topic)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "device-001", "device id")
	cmd.Flags().StringVar(&payload, "payload", "", "control payload, e.g. {\"set_mode\":\"low_power\"}")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func newWatchCmd(o *rootOpts) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "watch [--id <device>]",
		Long:  `Prints telemetry published by one device, or by all devices when --id is empty`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := o.client(fmt.Sprintf("powerctl-watch-%d", os.Getpid()), id, nil)
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer c.Close()

			topic := telemetry.TelemetryWildcard
			if id != "" {
				topic = telemetry.TelemetryTopic(id)
			}
			out := cmd.OutOrStdout()
			var mu sync.Mutex
			err := c.Subscribe(topic, 0, func(topic string, payload []byte) {
				mu.Lock()
				defer mu.Unlock()
				env, err := telemetry.Decode(payload)
				if err != nil {
					fmt.Fprintf(out, "%s: %s\n", topic, payload)
					return
				}
				t := env.Telemetry
				fmt.Fprintf(out, "%s battery=%d%% mode=%s harvest=%dmW queued=%d sent=%d events=%d\n",
					env.Device, t.BatteryPercent, t.Mode, t.HarvestMilliW, t.Queued, t.SentCount, len(env.Events))
			})
			if err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "device id")
	return cmd
}

func newSimulateCmd(o *rootOpts) *cobra.Command {
	var (
		count    int
		interval time.Duration
		duration time.Duration
		format   string
		events   bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "simulate --count <n> --interval <d> --duration <d>",
		Long:  `Runs n simulated power agents in this process, named device-001 and up`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("count must be positive")
			}
			if interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}
			enc, err := telemetry.NewEncoder(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			logger := o.logger()
			var wg sync.WaitGroup
			var clients []*mqtt.Client
			for i := 1; i <= count; i++ {
				id := fmt.Sprintf("device-%03d", i)
				ag, c, err := o.simAgent(id, enc, interval, events, int64(i))
				if err != nil {
					return err
				}
				if err := c.Connect(ctx); err != nil {
					return err
				}
				clients = append(clients, c)
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = ag.Run(ctx)
				}()
			}
			logger.Info("simulation running", "devices", count, "interval", interval, "duration", duration)

			wg.Wait()
			for _, c := range clients {
				c.Close()
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 3, "number of devices")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "telemetry interval")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long; 0 runs until interrupted")
	cmd.Flags().StringVar(&format, "format", "json", "payload format, json or senml")
	cmd.Flags().BoolVar(&events, "events", true, "generate random alert, info and signal events")
	return cmd
}

func (o *rootOpts) simAgent(id string, enc telemetry.Encoder, interval time.Duration, events bool, seed int64) (*agent.Agent, *mqtt.Client, error) {
	ctl, err := power.NewController(power.DefaultThresholds)
	if err != nil {
		return nil, nil, err
	}
	logger := o.logger()

	var ag *agent.Agent
	c := o.client("powerctl-sim-"+id, id, mqtt.ControlHandlerFunc(
		func(ctx context.Context, src domain.ControlSource, payload []byte) error {
			return ag.HandleControl(ctx, src, payload)
		}))

	ag = agent.New(agent.Deps{
		Sensor:     sensor.NewSimulator(sensor.SimConfig{Seed: seed, Step: interval}),
		Controller: ctl,
		Queue:      queue.New(64),
		Encoder:    enc,
		Publisher:  c,
		Metrics:    metrics.New(id),
		Logger:     logger,
	}, agent.Config{
		DeviceID: id,
		Interval: interval,
		Events:   events,
		Seed:     seed,
	})
	return ag, c, nil
}
