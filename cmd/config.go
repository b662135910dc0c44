package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/syscore/internal/config"
	"github.com/zjrosen/syscore/internal/manifest"
	"github.com/zjrosen/syscore/internal/scheduler"
	"github.com/zjrosen/syscore/internal/systems"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the syscore config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a config file with every option and its default value at the --config path, or .syscore/config.yaml.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), configPath())
		return nil
	},
}

var configUseManifestCmd = &cobra.Command{
	Use:   "use-manifest <file>",
	Short: "Validate a manifest and make it the default for run",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigUseManifest,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configUseManifestCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite an existing config file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath
	}
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	if err := config.WriteDefaultConfig(path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styleLoaded.Render("wrote "+path))
	return nil
}

func runConfigUseManifest(cmd *cobra.Command, args []string) error {
	path := args[0]
	_, reg, err := manifest.LoadInto(path, systems.Options{})
	if err != nil {
		return err
	}
	if _, err := scheduler.Compile(reg.Snapshot()); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	sched := cfg.Scheduler
	sched.Manifest = path
	target := configPath()
	if err := config.SaveScheduler(target, sched); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styleLoaded.Render(fmt.Sprintf("%s now uses %s", target, path)))
	return nil
}
