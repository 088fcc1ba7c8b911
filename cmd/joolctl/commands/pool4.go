package commands

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/spf13/cobra"

	"github.com/jool-go/jool/internal/config"
)

// errPool4EntryNotFound is returned when a remove targets a pool4 row
// that does not exist.
var errPool4EntryNotFound = errors.New("pool4 entry not found")

func pool4Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool4",
		Short: "Manage an instance's IPv4 transport-address pool",
	}

	cmd.AddCommand(pool4ListCmd())
	cmd.AddCommand(pool4AddCmd())
	cmd.AddCommand(pool4RemoveCmd())

	return cmd
}

func pool4ListCmd() *cobra.Command {
	var instanceName string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an instance's pool4 entries",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfigFile()
			if err != nil {
				return err
			}

			_, ic, err := findInstance(cfg, instanceName)
			if err != nil {
				return err
			}

			out, err := formatPool4(instanceName, ic.Pool4, outputFormat)
			if err != nil {
				return fmt.Errorf("format pool4: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceName, "instance", "", "instance name (required)")
	_ = cmd.MarkFlagRequired("instance")

	return cmd
}

func pool4AddCmd() *cobra.Command {
	var (
		instanceName string
		protocol     string
		addr         string
		portMin      uint16
		portMax      uint16
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a pool4 entry to an instance and persist the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := netip.ParseAddr(addr); err != nil {
				return fmt.Errorf("parse --addr %q: %w", addr, err)
			}
			if portMin > portMax {
				return fmt.Errorf("%w: port-min %d > port-max %d", config.ErrInvalidPortRange, portMin, portMax)
			}

			cfg, err := loadConfigFile()
			if err != nil {
				return err
			}

			idx, _, err := findInstance(cfg, instanceName)
			if err != nil {
				return err
			}

			cfg.Instances[idx].Pool4 = append(cfg.Instances[idx].Pool4, config.Pool4EntryConfig{
				Protocol: protocol,
				Addr:     addr,
				PortMin:  portMin,
				PortMax:  portMax,
			})

			if err := config.Save(cfg, configPath); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("pool4 entry %s %s %d-%d added to instance %q.\n", protocol, addr, portMin, portMax, instanceName)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&instanceName, "instance", "", "instance name (required)")
	flags.StringVar(&protocol, "protocol", "", "protocol: tcp, udp, or icmp (required)")
	flags.StringVar(&addr, "addr", "", "IPv4 address (required)")
	flags.Uint16Var(&portMin, "port-min", 1, "minimum port in the range")
	flags.Uint16Var(&portMax, "port-max", 65535, "maximum port in the range")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("protocol")
	_ = cmd.MarkFlagRequired("addr")

	return cmd
}

func pool4RemoveCmd() *cobra.Command {
	var (
		instanceName string
		protocol     string
		addr         string
	)

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a pool4 entry from an instance by protocol+address and persist the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfigFile()
			if err != nil {
				return err
			}

			idx, ic, err := findInstance(cfg, instanceName)
			if err != nil {
				return err
			}

			kept := ic.Pool4[:0]
			removed := false
			for _, e := range ic.Pool4 {
				if e.Protocol == protocol && e.Addr == addr {
					removed = true
					continue
				}
				kept = append(kept, e)
			}
			if !removed {
				return fmt.Errorf("%w: %s %s on instance %q", errPool4EntryNotFound, protocol, addr, instanceName)
			}
			cfg.Instances[idx].Pool4 = kept

			if err := config.Save(cfg, configPath); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("pool4 entry %s %s removed from instance %q.\n", protocol, addr, instanceName)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&instanceName, "instance", "", "instance name (required)")
	flags.StringVar(&protocol, "protocol", "", "protocol: tcp, udp, or icmp (required)")
	flags.StringVar(&addr, "addr", "", "IPv4 address of the entry to remove (required)")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("protocol")
	_ = cmd.MarkFlagRequired("addr")

	return cmd
}
