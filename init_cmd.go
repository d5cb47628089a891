package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/onedrived/onedrived/internal/config"
)

// configTemplate is written by `onedrived init`. It mirrors the defaults
// so the operator only has to fill in the [drives] section.
const configTemplate = `# onedrived configuration.

# Number of concurrent task workers.
workers = 2

# How often a full sync sweep is seeded.
poll_interval = "5m"

# Retryable task executions before a task fails terminally.
max_attempts = 5

# What to do when a file changed on both sides:
# "keep_both", "keep_local", or "keep_remote".
conflict_strategy = "keep_both"

[network]
probe_address = "graph.microsoft.com:443"
probe_interval = "15s"

[logging]
log_level = "DEBUG"
log_format = "auto" # "auto", "text", or "json"

# One section per drive to synchronize. Find drive IDs with
# ` + "`onedrived status`" + ` after authorizing.
#
# [drives."b!xxxxxxxx"]
# type = "personal" # or "business"
# sync_root = "/home/you/OneDrive"
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration directory and a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd)
		},
	}
}

func runInit(cmd *cobra.Command) error {
	dir := config.Dir()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	path := config.FilePath(dir)

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking config file %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Created %s\nNext steps:\n  1. run `onedrived auth` to authorize\n  2. add your drives to the [drives] section\n  3. run `onedrived run`\n",
		path)

	return nil
}
