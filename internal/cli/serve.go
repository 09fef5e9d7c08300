package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rcliao/symbol-predict/internal/api"
	"github.com/rcliao/symbol-predict/internal/metrics"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve predictions over HTTP",
		Run:   runServe,
	}

	cmd.Flags().String("listen", "", "Listen address (default: $SYMBOL_PREDICT_LISTEN or :8089)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	listen, _ := cmd.Flags().GetString("listen")

	cfg := loadConfig()
	if listen != "" {
		cfg.ListenAddr = listen
	}

	m := metrics.New()
	svc, s := newService(cfg, m)
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.New(svc, s, m, newLogger(cfg))
	if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
		exitErr("serve", err)
	}
}
