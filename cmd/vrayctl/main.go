// Command vrayctl is an operator tool for the render wire: it probes a
// render server for liveness, injects log messages and inspects capture
// files.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	vrayzmq "github.com/ChaosGroup/vray-for-blender-zmq-wrapper"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/capture"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/frame"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/message"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/transport"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/transport/wstream"
	"github.com/ChaosGroup/vray-for-blender-zmq-wrapper/transport/zmqsock"
)

type config struct {
	Endpoint     string `yaml:"endpoint"`
	Transport    string `yaml:"transport"`
	ProbeTimeout string `yaml:"probe_timeout"`

	probeTimeout time.Duration
}

func defaultConfig() config {
	return config{
		Endpoint:     "tcp://127.0.0.1:5555",
		Transport:    "zmq",
		probeTimeout: 3 * time.Second,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.ProbeTimeout != "" {
		d, err := time.ParseDuration(cfg.ProbeTimeout)
		if err != nil {
			return cfg, fmt.Errorf("probe_timeout: %w", err)
		}
		cfg.probeTimeout = d
	}
	return cfg, nil
}

func newTransport(cfg config) (transport.Transport, error) {
	switch cfg.Transport {
	case "", "zmq":
		return zmqsock.New(), nil
	case "ws":
		return wstream.New(), nil
	}
	return nil, fmt.Errorf("unknown transport %q (want zmq or ws)", cfg.Transport)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	var endpoint string

	root := &cobra.Command{
		Use:           "vrayctl",
		Short:         "Operator tool for the V-Ray render wire",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "yaml config file")
	root.PersistentFlags().StringVar(&endpoint, "endpoint", "", "server endpoint (overrides config)")

	load := func() (config, error) {
		cfg, err := loadConfig(cfgPath)
		if err != nil {
			return cfg, err
		}
		if endpoint != "" {
			cfg.Endpoint = endpoint
		}
		return cfg, nil
	}

	root.AddCommand(newProbeCmd(load))
	root.AddCommand(newLogCmd(load))
	root.AddCommand(newCaptureCmd())
	return root
}

func newProbeCmd(load func() (config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check whether a render server answers heartbeats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			tr, err := newTransport(cfg)
			if err != nil {
				return err
			}

			client := vrayzmq.New(true, vrayzmq.WithTransport(tr))
			defer client.SyncStop()
			if err := client.Connect(cfg.Endpoint); err != nil {
				return fmt.Errorf("%s unreachable: %w", cfg.Endpoint, err)
			}

			// The heartbeat role stops itself when the server stays
			// silent; surviving the probe window means it answered.
			deadline := time.Now().Add(cfg.probeTimeout)
			for time.Now().Before(deadline) {
				if !client.Good() {
					return fmt.Errorf("%s did not complete the heartbeat handshake", cfg.Endpoint)
				}
				time.Sleep(100 * time.Millisecond)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s alive\n", cfg.Endpoint)
			return nil
		},
	}
}

func newLogCmd(load func() (config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "log LEVEL TEXT",
		Short: "Send one log message to the render server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("level %q is not an integer", args[0])
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			tr, err := newTransport(cfg)
			if err != nil {
				return err
			}

			client := vrayzmq.New(false, vrayzmq.WithTransport(tr))
			client.SetFlushOnExit(true)
			if err := client.Connect(cfg.Endpoint); err != nil {
				client.SyncStop()
				return fmt.Errorf("%s unreachable: %w", cfg.Endpoint, err)
			}
			if err := client.Send(message.VRayLog(int32(level), args[1])); err != nil {
				client.SyncStop()
				return err
			}
			client.SyncStop()
			if client.OutstandingMessages() > 0 {
				return fmt.Errorf("message not delivered to %s", cfg.Endpoint)
			}
			return nil
		},
	}
}

// captureLine is the JSON shape printed per record.
type captureLine struct {
	Time    string `json:"time"`
	Dir     string `json:"dir"`
	Role    string `json:"role,omitempty"`
	Control string `json:"control,omitempty"`
	Bytes   int    `json:"bytes"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newCaptureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capture FILE",
		Short: "Print the records of a capture file as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := capture.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# session %s\n", r.Session())
			for {
				rec, err := r.Next()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if err := printRecord(out, rec); err != nil {
					return err
				}
			}
		},
	}
}

func printRecord(out io.Writer, rec capture.Record) error {
	line := captureLine{
		Time:  rec.Time.UTC().Format(time.RFC3339Nano),
		Dir:   rec.Dir.String(),
		Bytes: len(rec.Payload),
	}
	ctl, err := frame.Parse(rec.Control)
	if err != nil {
		line.Error = err.Error()
	} else {
		line.Role = ctl.Role.String()
		line.Control = ctl.Code.String()
		if ctl.IsData() {
			if msg, err := message.Parse(rec.Payload); err != nil {
				line.Error = err.Error()
			} else {
				line.Message = describe(msg)
			}
		}
	}

	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

// describe gives a one-line human summary of a parsed message.
func describe(m *message.Message) string {
	switch m.Type {
	case message.TypeChangePlugin:
		s := fmt.Sprintf("%s %s %q", m.Type, m.PluginAction, m.Plugin)
		if m.Property != "" {
			s += fmt.Sprintf(" property %q (%s)", m.Property, m.Value.Kind())
		}
		return s
	case message.TypeChangeRenderer:
		if m.Action == message.ActionResize {
			return fmt.Sprintf("%s Resize %dx%d", m.Type, m.Width, m.Height)
		}
		return fmt.Sprintf("%s action %d", m.Type, m.Action)
	case message.TypeVRayLog:
		text, _ := m.Value.AsString()
		return fmt.Sprintf("%s level %d %q", m.Type, m.LogLevel, text)
	case message.TypeImage:
		if set, err := m.Value.AsImageSet(); err == nil {
			return fmt.Sprintf("%s %d channel(s)", m.Type, len(set.Images))
		}
	}
	return m.Type.String()
}
