package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jool-go/jool/internal/config"
)

// errInstanceNotFound is returned when a named instance does not appear
// in the configuration file.
var errInstanceNotFound = errors.New("instance not found")

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Inspect translator instances declared in the configuration file",
	}

	cmd.AddCommand(instanceListCmd())
	cmd.AddCommand(instanceShowCmd())

	return cmd
}

func instanceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all declared instances",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfigFile()
			if err != nil {
				return err
			}

			out, err := formatInstances(cfg.Instances, outputFormat)
			if err != nil {
				return fmt.Errorf("format instances: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func instanceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show details of a declared instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfigFile()
			if err != nil {
				return err
			}

			_, ic, err := findInstance(cfg, args[0])
			if err != nil {
				return err
			}

			out, err := formatInstanceDetail(ic, outputFormat)
			if err != nil {
				return fmt.Errorf("format instance: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

// loadConfigFile loads and validates the daemon's configuration file
// from the --config flag.
func loadConfigFile() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// findInstance returns the index and value of the instance named name,
// or errInstanceNotFound.
func findInstance(cfg *config.Config, name string) (int, config.InstanceConfig, error) {
	for i, ic := range cfg.Instances {
		if ic.Name == name {
			return i, ic, nil
		}
	}
	return -1, config.InstanceConfig{}, fmt.Errorf("%w: %q", errInstanceNotFound, name)
}
