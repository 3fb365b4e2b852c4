/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quillpress/apiserver/config"
	"github.com/quillpress/apiserver/internal/logger"
	"github.com/quillpress/apiserver/internal/mailer"
	"github.com/quillpress/apiserver/internal/mq"
	"github.com/quillpress/apiserver/internal/notify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// mailerCmd represents the mailer command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Delivers queued welcome mail over SMTP",
	Long: `Consumes welcome mail from MAIL_CHANNEL and sends it through the
configured SMTP relay. Requires MQ_BACKEND to be set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()

		log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sender, err := mailer.NewSMTPSender(cfg.Mail)
		if err != nil {
			log.Error("invalid smtp settings", zap.Error(err))
			return err
		}

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			log.Error("failed to open message queue", zap.Error(err))
			return err
		}
		defer func() { _ = queue.Close() }()

		log.Info("mailer consuming", zap.String("channel", cfg.Mail.Channel), zap.String("backend", cfg.MQ.Backend))
		handler := notify.Handler(sender, log)
		if err := queue.Subscribe(ctx, cfg.Mail.Channel, handler); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("mailer stopped", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
