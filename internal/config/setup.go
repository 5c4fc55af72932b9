package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard walks the operator through the settings a new shard needs
// and saves the result. Empty answers keep the current value.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	p := &prompter{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "── Moongate first run setup ──")
	fmt.Fprintln(out)

	for attempt := 0; ; attempt++ {
		server := cfg.GetServerData()
		app := cfg.GetApplicationData()

		fmt.Fprintln(out, "── Shard ──")
		server.Name = p.String("Shard name", server.Name)
		listen := p.String("Listen addresses (comma separated)", strings.Join(server.Network.ListenAddresses, ","))
		server.Network.ListenAddresses = splitList(listen)
		server.Network.MaxConnections = p.Int("Maximum connections", server.Network.MaxConnections)

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── Login encryption ──")
		server.Crypto.Mode = strings.ToLower(p.String("Encryption mode (none, auto, required)", server.Crypto.Mode))
		if server.Crypto.Mode != CryptoModeNone {
			versions := p.String("Client versions (comma separated)", strings.Join(server.Crypto.ClientVersions, ","))
			server.Crypto.ClientVersions = splitList(versions)
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── Accounts ──")
		app.Database.Path = p.String("Account database path", app.Database.Path)
		app.Database.AutoCreateAccount = p.Bool("Create accounts on first login", app.Database.AutoCreateAccount)

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── Operator API ──")
		app.API.Enabled = p.Bool("Enable REST API", app.API.Enabled)
		if app.API.Enabled {
			app.API.Port = p.Int("API port", app.API.Port)
			app.Security.AuthDisabled = !p.Bool("Require API token", !app.Security.AuthDisabled)
			if !app.Security.AuthDisabled {
				app.API.Token = p.Secret("API token", app.API.Token)
			}
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, "── MQTT Telemetry ──")
		app.MQTT.Enabled = p.Bool("Enable MQTT telemetry", app.MQTT.Enabled)
		if app.MQTT.Enabled {
			app.MQTT.BrokerURL = p.String("Broker host", app.MQTT.BrokerURL)
			app.MQTT.Port = p.Int("Broker port", app.MQTT.Port)
		}

		cfg.mu.Lock()
		cfg.ServerData = server
		cfg.mu.Unlock()
		cfg.SetApplicationData(app)

		result := Validate(cfg)
		if result.IsValid() {
			for _, w := range result.Warnings {
				log.Warn().Str("field", w.Field).Msg(w.Message)
			}
			break
		}

		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		if p.eof || !p.Bool("Would you like to try again?", true) {
			return fmt.Errorf("configuration validation failed")
		}
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration saved.")
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type prompter struct {
	reader *bufio.Reader
	out    io.Writer
	eof    bool
}

func (p *prompter) line() string {
	input, err := p.reader.ReadString('\n')
	if err != nil {
		p.eof = true
	}
	return strings.TrimSpace(input)
}

func (p *prompter) String(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(p.out, "  %s: ", prompt)
	}
	if input := p.line(); input != "" {
		return input
	}
	return defaultVal
}

// Secret does not echo the current value.
func (p *prompter) Secret(prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "  %s [unchanged]: ", prompt)
	} else {
		fmt.Fprintf(p.out, "  %s: ", prompt)
	}
	if input := p.line(); input != "" {
		return input
	}
	return defaultVal
}

func (p *prompter) Int(prompt string, defaultVal int) int {
	fmt.Fprintf(p.out, "  %s [%d]: ", prompt, defaultVal)
	input := p.line()
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (p *prompter) Bool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(p.out, "  %s [%s]: ", prompt, defaultStr)

	switch strings.ToLower(p.line()) {
	case "":
		return defaultVal
	case "yes", "y", "true", "1":
		return true
	default:
		return false
	}
}
