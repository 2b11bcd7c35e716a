package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/andywolf/gamepilot/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the model about the current screen",
	Long: `Send a one-off question together with the current frame.

The reply is printed and no button is pressed.

Example:
  gamepilot ask "which piece is falling?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: askModel,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().String("prompt", "", "System prompt id or name")
	askCmd.Flags().String("bridge-url", "", "Emulator bridge URL")
	askCmd.Flags().String("endpoint", "", "Model endpoint base URL")
}

func askModel(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringFlag(cmd, "prompt", &cfg.Prompts.Active)
	applyStringFlag(cmd, "bridge-url", &cfg.Device.BridgeURL)
	applyStringFlag(cmd, "endpoint", &cfg.Model.Endpoint)
	if err := cfg.ValidateForRun(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s, err := newSession(cmdContext(cmd), cfg, sessionMode{})
	if err != nil {
		return err
	}
	defer s.ctrl.Close(context.Background())

	ctx, cancel := s.ctrl.SignalContext(cmdContext(cmd))
	defer cancel()

	reply, err := s.ctrl.Ask(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if viper.GetBool("verbose") {
		fmt.Fprintf(cmd.ErrOrStderr(), "prompt: %s\n", s.ctrl.Prompts().Active().Name)
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}

// applyStringFlag copies a flag into dst when it was set on the command line.
func applyStringFlag(cmd *cobra.Command, name string, dst *string) {
	if !cmd.Flags().Changed(name) {
		return
	}
	if v, err := cmd.Flags().GetString(name); err == nil {
		*dst = v
	}
}
