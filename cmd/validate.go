package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/syscore/internal/manifest"
	"github.com/zjrosen/syscore/internal/registry"
	"github.com/zjrosen/syscore/internal/scheduler"
	"github.com/zjrosen/syscore/internal/systems"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a graph without running it",
	Long: `Load a manifest (or the built-in demo graph), compile it, and print the
order units would start in. Unknown unit references and cycles are reported
and exit with status 1.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringP("manifest", "m", "", "graph manifest file (default: scheduler.manifest, else the demo graph)")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("manifest")
	if path == "" {
		path = cfg.Scheduler.Manifest
	}

	reg := registry.New()
	source := "demo graph"
	if path == "" {
		if err := systems.RegisterDefaults(reg, systems.Options{}); err != nil {
			return err
		}
	} else {
		var err error
		if _, reg, err = manifest.LoadInto(path, systems.Options{}); err != nil {
			return err
		}
		source = path
	}

	g, err := scheduler.Compile(reg.Snapshot())
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styleLoaded.Render(fmt.Sprintf("%s ok: %d units, %d edges", source, g.Len(), len(g.Edges()))))
	fmt.Fprintln(out, styleMuted.Render("start order: "+strings.Join(g.TopoOrder(), ", ")))
	return nil
}
