package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/jool-go/jool/internal/config"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// --- instance ---

type instanceView struct {
	Name       string `json:"name"`
	Enable     bool   `json:"enable"`
	Mode       string `json:"mode"`
	Device     string `json:"device"`
	Pool6      string `json:"pool6,omitempty"`
	EAMCount   int    `json:"eam_count"`
	Pool4Count int    `json:"pool4_count"`
	Hairpin    string `json:"eam_hairpin_mode,omitempty"`
}

func instanceToView(ic config.InstanceConfig) instanceView {
	return instanceView{
		Name:       ic.Name,
		Enable:     ic.Enable,
		Mode:       ic.Mode,
		Device:     ic.DeviceName(),
		Pool6:      ic.Pool6,
		EAMCount:   len(ic.EAM),
		Pool4Count: len(ic.Pool4),
		Hairpin:    ic.EAMHairpinMode,
	}
}

func formatInstances(instances []config.InstanceConfig, format string) (string, error) {
	switch format {
	case formatJSON:
		views := make([]instanceView, 0, len(instances))
		for _, ic := range instances {
			views = append(views, instanceToView(ic))
		}
		return marshalJSON(views)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tENABLE\tMODE\tDEVICE\tPOOL6\tEAM\tPOOL4\tHAIRPIN")
		for _, ic := range instances {
			v := instanceToView(ic)
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\t%d\t%d\t%s\n",
				v.Name, v.Enable, v.Mode, v.Device, naIfEmpty(v.Pool6), v.EAMCount, v.Pool4Count, naIfEmpty(v.Hairpin))
		}
		return flushTabwriter(w, &buf)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatInstanceDetail(ic config.InstanceConfig, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(instanceToView(ic))
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Name:\t%s\n", ic.Name)
		fmt.Fprintf(w, "Enable:\t%t\n", ic.Enable)
		fmt.Fprintf(w, "Mode:\t%s\n", ic.Mode)
		fmt.Fprintf(w, "Device:\t%s\n", ic.DeviceName())
		fmt.Fprintf(w, "Pool6:\t%s\n", naIfEmpty(ic.Pool6))
		fmt.Fprintf(w, "EAM Hairpin Mode:\t%s\n", naIfEmpty(ic.EAMHairpinMode))
		fmt.Fprintf(w, "EAM Entries:\t%d\n", len(ic.EAM))
		fmt.Fprintf(w, "Pool4 Entries:\t%d\n", len(ic.Pool4))
		fmt.Fprintf(w, "Blacklist4:\t%d\n", len(ic.Blacklist4))
		fmt.Fprintf(w, "Blacklist6:\t%d\n", len(ic.Blacklist6))
		fmt.Fprintf(w, "UDP Timeout (ms):\t%d\n", ic.Timeouts.UDPMillis)
		fmt.Fprintf(w, "ICMP Timeout (ms):\t%d\n", ic.Timeouts.ICMPMillis)
		fmt.Fprintf(w, "TCP Established Timeout (ms):\t%d\n", ic.Timeouts.TCPEstMillis)
		fmt.Fprintf(w, "TCP Transitory Timeout (ms):\t%d\n", ic.Timeouts.TCPTransMillis)
		return flushTabwriter(w, &buf)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- EAM ---

func formatEAM(instanceName string, entries []config.EAMEntryConfig, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(entries)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "# eam for instance %s\n", instanceName)
		fmt.Fprintln(w, "IPV4-PREFIX\tIPV6-PREFIX")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\n", e.IPv4Prefix, e.IPv6Prefix)
		}
		return flushTabwriter(w, &buf)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- pool4 ---

func formatPool4(instanceName string, entries []config.Pool4EntryConfig, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(entries)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "# pool4 for instance %s\n", instanceName)
		fmt.Fprintln(w, "PROTOCOL\tADDR\tPORT-MIN\tPORT-MAX")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", e.Protocol, e.Addr, e.PortMin, e.PortMax)
		}
		return flushTabwriter(w, &buf)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- helpers ---

func naIfEmpty(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data), nil
}

func flushTabwriter(w *tabwriter.Writer, buf *strings.Builder) (string, error) {
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}
	return buf.String(), nil
}
