package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"downnest/internal/ipc"
	"downnest/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			client, err := ipc.Dial(ctx.socketPath())
			if err != nil {
				return sendTestNotificationDirect(cmd, ctx)
			}
			defer client.Close()

			resp, err := client.TestNotification()
			if err != nil {
				if resp != nil && resp.Message != "" {
					fmt.Fprintln(stdout, resp.Message)
				}
				return err
			}
			if resp == nil {
				return errors.New("missing notification response")
			}
			switch {
			case resp.Message != "":
				fmt.Fprintln(stdout, resp.Message)
			case resp.Sent:
				fmt.Fprintln(stdout, "Test notification sent")
			default:
				fmt.Fprintln(stdout, "Notification not sent")
			}
			return nil
		},
	}
}

func sendTestNotificationDirect(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	svc := notifications.NewService(cfg, ctx.cliLogger(cfg))
	stdout := cmd.OutOrStdout()
	if !notifications.Enabled(svc) {
		fmt.Fprintln(stdout, "ntfy topic not configured")
		return nil
	}
	sendCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	if err := svc.TestNotification(sendCtx); err != nil {
		return fmt.Errorf("send test notification: %w", err)
	}
	fmt.Fprintln(stdout, "Test notification sent")
	return nil
}
