package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lk2023060901/chatai-backend/internal/chat/biz"
	"github.com/lk2023060901/chatai-backend/internal/chat/session"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/conf"
	"github.com/lk2023060901/chatai-backend/internal/pkg/injector"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	consoleClientID = "console"
	pollInterval    = 500 * time.Millisecond
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "chatai-console",
		Short:        "Terminal client for the chat assistant",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/config.yaml", "config file path")

	var reset bool
	chat := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), configFile, reset, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	chat.Flags().BoolVarP(&reset, "reset", "r", false, "start a new conversation")

	root.AddCommand(chat)
	return root
}

func runChat(ctx context.Context, configFile string, reset bool, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := conf.LoadConfig(configFile)
	if err != nil {
		return err
	}
	log, err := logger.Console(config.Log.File.Filename)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	chat, cleanup, err := injector.InitializeChat(config, log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx = logger.WithClientID(ctx, consoleClientID)
	chat.SetUserInfo(ctx, consoleClientID, types.UserInfo{
		Timezone:  localTimezone(),
		UserAgent: "chatai-console",
	})

	r := newRenderer(out)
	if reset {
		if _, err := chat.ResetThread(ctx, consoleClientID); err != nil {
			return err
		}
	}
	if err := printHistory(ctx, chat, r); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for {
		r.prompt()
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/exit":
			return nil
		case "/clear":
			if _, err := chat.ResetThread(ctx, consoleClientID); err != nil {
				r.errorf("reset failed: %v", err)
			}
			continue
		}

		if _, err := chat.SendUserTurn(ctx, consoleClientID, line); err != nil {
			r.errorf("send failed: %v", err)
			continue
		}
		drain, err := waitReplies(ctx, chat, r)
		if err != nil {
			return err
		}

		switch drain.Status {
		case session.DrainDone:
			r.factChecks(chat.RunFactCheck(ctx, consoleClientID))
		default:
			log.Warn("turn did not complete", zap.String("status", string(drain.Status)), zap.String("code", string(drain.Code)))
			r.errorf("%s", drain.Message)
		}
	}
}

func printHistory(ctx context.Context, chat *biz.ChatUseCase, r *renderer) error {
	msgs, err := chat.GetDisplayMessages(ctx, consoleClientID)
	if err != nil {
		return err
	}
	r.info(fmt.Sprintf("Total history messages: %d", len(msgs)))
	for _, m := range msgs {
		r.message(m)
	}
	return nil
}

// waitReplies 轮询回复队列直到本轮结束
func waitReplies(ctx context.Context, chat *biz.ChatUseCase, r *renderer) (session.Drain, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		d := chat.DrainPendingReplies(ctx, consoleClientID)
		for _, m := range d.Replies {
			r.message(m)
		}
		if d.Final {
			return d, nil
		}

		select {
		case <-ctx.Done():
			return session.Drain{}, errors.Join(ctx.Err(), errors.New("interrupted while waiting for replies"))
		case <-ticker.C:
		}
	}
}

func localTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	return types.DefaultTimezone
}
