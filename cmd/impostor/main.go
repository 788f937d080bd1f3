package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/DoyleJ11/impostor/internal/config"
	"github.com/spf13/cobra"
)

const releaseVersion = "0.1.0"

func main() {
	cobra.CheckErr(config.LoadDotEnv())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(newCmd(&config.Config{}).ExecuteContext(ctx))
}

func newCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "impostor",
		Short:         "Play impostor over a shared broadcast channel, or pass one device around.",
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	config.RegisterClientFlags(root.PersistentFlags(), cfg)
	config.BindEnv(root.PersistentFlags())

	var name, room string
	host := &cobra.Command{
		Use:   "host",
		Short: "Open a room and run it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateClient(); err != nil {
				return err
			}
			return runHost(cmd.Context(), cfg, name, room, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	host.Flags().StringVarP(&name, "name", "n", "", "your display name")
	host.Flags().StringVarP(&room, "room", "r", "", "room code to use instead of a random one")

	join := &cobra.Command{
		Use:   "join",
		Short: "Join a room by its code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateClient(); err != nil {
				return err
			}
			return runGuest(cmd.Context(), cfg, name, room, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	join.Flags().StringVarP(&name, "name", "n", "", "your display name")
	join.Flags().StringVarP(&room, "room", "r", "", "room code shown on the host's screen")
	_ = join.MarkFlagRequired("room")

	var players []string
	var impostors int
	local := &cobra.Command{
		Use:   "local",
		Short: "Pass-and-play on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateClient(); err != nil {
				return err
			}
			return runLocal(cmd.Context(), cfg, players, impostors, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	local.Flags().StringSliceVarP(&players, "players", "p", nil, "comma separated player names")
	local.Flags().IntVarP(&impostors, "impostors", "k", 1, "number of impostors")

	root.AddCommand(host, join, local)
	root.CompletionOptions.HiddenDefaultCmd = true
	root.SetVersionTemplate("impostor v{{.Version}}\n")
	return root
}
