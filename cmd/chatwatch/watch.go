package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messenger/internal/channel"
	"github.com/capitalize-ai/messenger/internal/client"
	natsclient "github.com/capitalize-ai/messenger/internal/nats"
	"github.com/capitalize-ai/messenger/internal/presence"
)

func watchCmd() *cobra.Command {
	var open string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the conversation list and presence live",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), open)
		},
	}
	cmd.Flags().StringVar(&open, "open", "", "conversation id to open and mark seen")
	return cmd
}

func runWatch(parent context.Context, open string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	viewer, err := viewerFromToken(token)
	if err != nil {
		return err
	}
	api, err := newAPI()
	if err != nil {
		return err
	}

	// Link state changes arrive on NATS callback goroutines and are handled
	// on the loop below.
	link := make(chan bool, 8)
	notify := func(up bool) {
		select {
		case link <- up:
		default:
		}
	}

	nc, err := natsclient.Connect(ctx, natsclient.Config{
		URL:          cfg.NATSURL,
		Name:         "chatwatch:" + viewer.Email,
		CAFile:       cfg.NATSCAFile,
		CertFile:     cfg.NATSCertFile,
		KeyFile:      cfg.NATSKeyFile,
		Token:        cfg.NATSToken,
		OnDisconnect: func() { notify(false) },
		OnReconnect:  func() { notify(true) },
	}, log)
	if err != nil {
		return err
	}
	defer nc.Close()
	transport := natsclient.NewBus(nc)

	session := client.NewSession(viewer, transport, api, log)
	// OnChange runs on the session goroutine, so the list is read back
	// from the loop below.
	changes := make(chan client.Change, 64)
	session.OnChange(func(c client.Change) {
		select {
		case changes <- c:
		default:
		}
	})
	session.OnLeave(func(id string) {
		fmt.Printf("-- conversation %s is gone, closed it\n", id)
	})
	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Close()

	if open != "" {
		if err := session.Open(ctx, open); err != nil {
			return err
		}
	}

	tracker := presence.NewTracker(transport, viewer.Email, cfg.PresenceHeartbeat, log)
	deltas, err := tracker.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer tracker.Unsubscribe(context.Background())

	convs, err := session.Conversations(ctx)
	if err != nil {
		return err
	}
	printList(viewer, convs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deltas:
			if !ok {
				return nil
			}
			for _, k := range d.Joined {
				fmt.Printf("++ %s online\n", k)
			}
			for _, k := range d.Left {
				fmt.Printf("-- %s offline\n", k)
			}
		case c := <-changes:
			convs, err := session.Conversations(ctx)
			if err != nil {
				log.Warn("failed to read conversations", zap.Error(err))
				continue
			}
			fmt.Printf("-- %s %s\n", c.Event, c.ID)
			printList(viewer, convs)
		case up := <-link:
			if !up {
				tracker.Disconnected()
				continue
			}
			if err := tracker.Reconnected(ctx); err != nil {
				log.Warn("presence rejoin failed", zap.Error(err))
			}
			if err := session.Resync(ctx); err != nil {
				log.Warn("resync failed", zap.Error(err))
			}
			log.Info("reconnected", zap.String("channel", channel.User(viewer.Email)))
		}
	}
}
