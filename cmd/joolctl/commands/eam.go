package commands

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/spf13/cobra"

	"github.com/jool-go/jool/internal/config"
)

// errEAMEntryNotFound is returned when a remove targets an EAM row that
// does not exist.
var errEAMEntryNotFound = errors.New("eam entry not found")

func eamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eam",
		Short: "Manage an instance's Explicit Address Mapping table",
	}

	cmd.AddCommand(eamListCmd())
	cmd.AddCommand(eamAddCmd())
	cmd.AddCommand(eamRemoveCmd())

	return cmd
}

func eamListCmd() *cobra.Command {
	var instanceName string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an instance's EAM entries",
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

			out, err := formatEAM(instanceName, ic.EAM, outputFormat)
			if err != nil {
				return fmt.Errorf("format eam: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceName, "instance", "", "instance name (required)")
	_ = cmd.MarkFlagRequired("instance")

	return cmd
}

func eamAddCmd() *cobra.Command {
	var (
		instanceName string
		ipv4Prefix   string
		ipv6Prefix   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an EAM entry to an instance and persist the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := netip.ParsePrefix(ipv4Prefix); err != nil {
				return fmt.Errorf("parse --ipv4-prefix %q: %w", ipv4Prefix, err)
			}
			if _, err := netip.ParsePrefix(ipv6Prefix); err != nil {
				return fmt.Errorf("parse --ipv6-prefix %q: %w", ipv6Prefix, err)
			}

			cfg, err := loadConfigFile()
			if err != nil {
				return err
			}

			idx, _, err := findInstance(cfg, instanceName)
			if err != nil {
				return err
			}

			cfg.Instances[idx].EAM = append(cfg.Instances[idx].EAM, config.EAMEntryConfig{
				IPv4Prefix: ipv4Prefix,
				IPv6Prefix: ipv6Prefix,
			})

			if err := config.Save(cfg, configPath); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("EAM entry %s <-> %s added to instance %q.\n", ipv4Prefix, ipv6Prefix, instanceName)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&instanceName, "instance", "", "instance name (required)")
	flags.StringVar(&ipv4Prefix, "ipv4-prefix", "", "IPv4 prefix in CIDR notation (required)")
	flags.StringVar(&ipv6Prefix, "ipv6-prefix", "", "IPv6 prefix in CIDR notation (required)")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("ipv4-prefix")
	_ = cmd.MarkFlagRequired("ipv6-prefix")

	return cmd
}

func eamRemoveCmd() *cobra.Command {
	var (
		instanceName string
		ipv4Prefix   string
	)

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove an EAM entry from an instance by its IPv4 prefix and persist the configuration file",
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

			kept := ic.EAM[:0]
			removed := false
			for _, e := range ic.EAM {
				if e.IPv4Prefix == ipv4Prefix {
					removed = true
					continue
				}
				kept = append(kept, e)
			}
			if !removed {
				return fmt.Errorf("%w: %q on instance %q", errEAMEntryNotFound, ipv4Prefix, instanceName)
			}
			cfg.Instances[idx].EAM = kept

			if err := config.Save(cfg, configPath); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("EAM entry %s removed from instance %q.\n", ipv4Prefix, instanceName)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&instanceName, "instance", "", "instance name (required)")
	flags.StringVar(&ipv4Prefix, "ipv4-prefix", "", "IPv4 prefix of the entry to remove (required)")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("ipv4-prefix")

	return cmd
}
