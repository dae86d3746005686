package wifi

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Source reports the MAC addresses currently visible on the network.
type Source interface {
	Scan(ctx context.Context) ([]string, error)
}

// arpLine matches a host line of arp-scan output, e.g.
//
//	192.168.141.43  b8:27:eb:d8:94:5f       Raspberry Pi Foundation
var arpLine = regexp.MustCompile(`(?i)^\s*(\d+\.\d+\.\d+\.\d+)\s+([0-9a-z]+(?::[0-9a-z]+){5})\b`)

// ArpScan is a Source backed by the arp-scan command.
type ArpScan struct {
	command []string
}

// NewArpScan creates a source running command, typically
// []string{"arp-scan", "-l"}.
func NewArpScan(command []string) *ArpScan {
	return &ArpScan{command: command}
}

// Scan runs the command and parses its output.
func (a *ArpScan) Scan(ctx context.Context) ([]string, error) {
	if len(a.command) == 0 || a.command[0] == "" {
		return nil, ErrNoCommand
	}

	cmd := exec.CommandContext(ctx, a.command[0], a.command[1:]...) //nolint:gosec // command comes from operator config
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %w: %s", ErrScanFailed, err, msg)
		}
		return nil, fmt.Errorf("%w: %w", ErrScanFailed, err)
	}

	return ParseArpScan(string(out)), nil
}

// ParseArpScan extracts the distinct MAC addresses from arp-scan output, in
// order of first appearance and lower-cased. Header, footer and blank lines
// are skipped.
func ParseArpScan(output string) []string {
	seen := make(map[string]bool)
	var macs []string

	for _, line := range strings.Split(output, "\n") {
		m := arpLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		mac := strings.ToLower(m[2])
		if seen[mac] {
			continue
		}
		seen[mac] = true
		macs = append(macs, mac)
	}
	return macs
}
