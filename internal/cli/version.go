package cli

import (
	"fmt"
	"io"

	"github.com/andywolf/gamepilot/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the gamepilot build",
	Long: `Show the gamepilot build: version, commit and build date.

--short prints only the version string, for scripts. --verbose adds the
Go toolchain and the User-Agent sent to the emulator bridge and the model
endpoint.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		short, _ := cmd.Flags().GetBool("short")
		verbose, _ := cmd.Flags().GetBool("verbose")
		return printVersion(cmd.OutOrStdout(), short, verbose)
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "include toolchain and User-Agent")
	versionCmd.Flags().Bool("short", false, "print only the version string")
	rootCmd.AddCommand(versionCmd)
}

func printVersion(w io.Writer, short, verbose bool) error {
	switch {
	case short && verbose:
		return fmt.Errorf("--short and --verbose are mutually exclusive")
	case short:
		_, err := fmt.Fprintln(w, version.Short())
		return err
	case verbose:
		_, err := fmt.Fprintf(w, "%s\nUser-Agent: %s\n", version.Full(), version.UserAgent())
		return err
	default:
		_, err := fmt.Fprintln(w, version.Info())
		return err
	}
}
