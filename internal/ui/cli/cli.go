package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

const versionString = "0.4.0"

type cliOptions struct {
	configPath string
	projectDir string
	format     string
	verbose    bool
}

// errCheckFailed ends a run with exit code 1 after the report was printed.
var errCheckFailed = errors.New("check failed")

// Run executes the command line and returns the process exit code.
func Run(args []string) int {
	return run(args, os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if errors.Is(err, errCheckFailed) {
			return 1
		}
		fmt.Fprintf(stderr, "Error: %s\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "semcache",
		Short:         "Incremental resolution and typechecking cache",
		Long:          "semcache keeps the resolution and typechecking results of a project current while its sources and libraries change.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(opts.format); err != nil {
				return err
			}
			configureLogging(stderr, opts.verbose)
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config file (default: semcache.toml in the project root)")
	flags.StringVarP(&opts.projectDir, "project", "C", "", "run as if started in this directory")
	flags.StringVar(&opts.format, "format", formatText, "output format: text|json")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newCheckCmd(opts),
		newWatchCmd(opts),
		newLibrariesCmd(opts),
		newFetchCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "semcache v%s\n", versionString)
		},
	}
}
