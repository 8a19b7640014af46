package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sanehaakhtar/localboard/internal/client"
	"github.com/sanehaakhtar/localboard/internal/export"
	lbnet "github.com/sanehaakhtar/localboard/internal/net"
	"github.com/sanehaakhtar/localboard/internal/protocol"
)

func buildDiscoverCmd() *cobra.Command {
	var (
		timeout time.Duration
		service string
		room    string
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List localboard servers on the LAN",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			found := 0
			err := lbnet.Browse(cmd.Context(), service, timeout, func(p lbnet.Peer) {
				found++
				link := client.Link{Host: p.Host, Port: p.Port, Room: room}
				fmt.Fprintf(out, "%s\t%s\n", p.Instance, link)
			})
			if err != nil {
				return err
			}
			if found == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no servers found")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "How long to listen for answers")
	cmd.Flags().StringVar(&service, "service", lbnet.DefaultService, "mDNS service type")
	cmd.Flags().StringVar(&room, "room", "lobby", "Room to put in the printed links")
	return cmd
}

func buildJoinCmd() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "join <link>",
		Short: "Follow a room headlessly and log its activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := client.ParseLink(args[0])
			if err != nil {
				return err
			}
			logger := cliLogger(cmd)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			rc := client.NewReconciler(link.Room, logger)
			conn, err := client.Dial(ctx, link, rc, logger, client.WithObserver(func(m protocol.Message) {
				logger.Debug().Str("type", string(m.Type)).Str("sender", m.SenderID).Msg("message")
			}))
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := conn.WaitHydrated(ctx); err != nil {
				return err
			}
			logger.Info().Str("room", link.Room).Str("session", rc.SessionID()).Int("strokes", len(rc.Strokes())).Msg("hydrated")

			select {
			case <-ctx.Done():
			case <-conn.Done():
				if err := conn.Err(); err != nil {
					return err
				}
			}
			logger.Info().Int("strokes", len(rc.Strokes())).Strs("members", rc.Members()).Msg("leaving room")
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "Leave after this long (0 waits for interrupt)")
	return cmd
}

func buildExportCmd() *cobra.Command {
	var (
		out           string
		width, height int
		timeout       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "export <link>",
		Short: "Render the current state of a room to PNG or PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := client.ParseLink(args[0])
			if err != nil {
				return err
			}
			renderer, err := export.ForPath(out)
			if err != nil {
				return err
			}
			if r, ok := renderer.(export.PDF); ok {
				r.Title = link.Room
				renderer = r
			}
			logger := cliLogger(cmd)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			rc := client.NewReconciler(link.Room, logger)
			conn, err := client.Dial(ctx, link, rc, logger)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := conn.WaitHydrated(ctx); err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			strokes := rc.Strokes()
			if err := renderer.Render(f, strokes, width, height); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", out, err)
			}
			logger.Info().Str("file", out).Int("strokes", len(strokes)).Msg("exported")
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "board.png", "Output file (.png or .pdf)")
	cmd.Flags().IntVar(&width, "width", 1280, "Canvas width in pixels")
	cmd.Flags().IntVar(&height, "height", 800, "Canvas height in pixels")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Give up if the room cannot be hydrated in time")
	return cmd
}
