package netmode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Runner runs an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

const hotspotConnection = "homebase-hotspot"

// NMCLI drives NetworkManager through the nmcli command line tool.
type NMCLI struct {
	Interface string
	Path      string
	runner    Runner
	hostname  func() (string, error)
}

func NewNMCLI(iface string, r Runner) *NMCLI {
	if r == nil {
		r = ExecRunner{}
	}
	return &NMCLI{
		Interface: iface,
		Path:      "nmcli",
		runner:    r,
		hostname:  os.Hostname,
	}
}

func (n *NMCLI) run(ctx context.Context, args ...string) ([]byte, error) {
	return n.runner.Run(ctx, n.Path, args...)
}

func (n *NMCLI) EnterSetupMode(ctx context.Context, hs Hotspot) error {
	_, err := n.run(ctx, "device", "wifi", "hotspot",
		"ifname", n.Interface,
		"con-name", hotspotConnection,
		"ssid", hs.SSID,
		"password", hs.Password,
	)
	return err
}

func (n *NMCLI) EnterNormalMode(ctx context.Context, creds WiFiCredentials) error {
	// The hotspot may already be down; only the join result matters.
	n.run(ctx, "connection", "down", hotspotConnection)

	args := []string{"device", "wifi", "connect", creds.SSID}
	if creds.Password != "" {
		args = append(args, "password", creds.Password)
	}
	args = append(args, "ifname", n.Interface)
	_, err := n.run(ctx, args...)
	return err
}

func (n *NMCLI) Info(ctx context.Context) (Reachability, error) {
	var reach Reachability
	if host, err := n.hostname(); err == nil {
		reach.Hostname = host + ".local"
	}

	out, err := n.run(ctx, "-t", "-f", "GENERAL.CONNECTION,IP4.ADDRESS", "device", "show", n.Interface)
	if err != nil {
		return reach, err
	}
	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch {
		case key == "GENERAL.CONNECTION":
			reach.SSID = value
		case strings.HasPrefix(key, "IP4.ADDRESS") && reach.IP == "":
			ip, _, _ := strings.Cut(value, "/")
			reach.IP = ip
		}
	}
	return reach, nil
}

func (n *NMCLI) Scan(ctx context.Context) ([]WiFiNetwork, error) {
	out, err := n.run(ctx, "-t", "-f", "SSID,SIGNAL,SECURITY", "device", "wifi", "list", "ifname", n.Interface)
	if err != nil {
		return nil, err
	}

	best := map[string]int{}
	var networks []WiFiNetwork
	for _, line := range strings.Split(string(out), "\n") {
		fields := splitTerse(strings.TrimRight(line, "\r"))
		if len(fields) < 3 || fields[0] == "" {
			continue
		}
		signal, _ := strconv.Atoi(fields[1])
		nw := WiFiNetwork{SSID: fields[0], Signal: signal, Security: fields[2]}
		// One entry per SSID, strongest access point wins.
		if i, seen := best[nw.SSID]; seen {
			if nw.Signal > networks[i].Signal {
				networks[i] = nw
			}
			continue
		}
		best[nw.SSID] = len(networks)
		networks = append(networks, nw)
	}
	return networks, nil
}

// splitTerse splits an nmcli terse line on ':' honouring '\:' escapes.
func splitTerse(line string) []string {
	var fields []string
	var b strings.Builder
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\' && i+1 < len(line):
			i++
			b.WriteByte(line[i])
		case line[i] == ':':
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteByte(line[i])
		}
	}
	return append(fields, b.String())
}
