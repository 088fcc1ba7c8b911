package commands

import (
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

func reloadCmd() *cobra.Command {
	var pidFile string
	var pid int

	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Signal a running jool-go daemon to reload its configuration file",
		Long: "Sends SIGHUP to the jool-go daemon process, which reloads the configuration " +
			"file, updates the dynamic log level, and reconciles already-registered instances " +
			"in place. Adding or removing instances still requires a daemon restart.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			target := pid
			if target == 0 {
				p, err := readPIDFile(pidFile)
				if err != nil {
					return err
				}
				target = p
			}

			proc, err := os.FindProcess(target)
			if err != nil {
				return fmt.Errorf("find process %d: %w", target, err)
			}
			if err := proc.Signal(syscall.SIGHUP); err != nil {
				return fmt.Errorf("signal process %d: %w", target, err)
			}

			fmt.Printf("SIGHUP sent to jool-go (pid %d).\n", target)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&pid, "pid", 0, "jool-go daemon process id")
	flags.StringVar(&pidFile, "pid-file", "/run/jool-go.pid", "path to a file containing the daemon's pid (used when --pid is unset)")

	return cmd
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file %s: %w", path, err)
	}

	pid, err := strconv.Atoi(string(trimNewline(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid in %s: %w", path, err)
	}
	return pid, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
