package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/drblury/relayflow/client"
	"github.com/drblury/relayflow/internal/runtime/config"
	"github.com/drblury/relayflow/internal/runtime/jsoncodec"
	"github.com/drblury/relayflow/internal/runtime/logging"
	"github.com/drblury/relayflow/internal/runtime/proxy"
	"github.com/drblury/relayflow/internal/runtime/storage"
	"github.com/drblury/relayflow/internal/services/dbservice"
	"github.com/drblury/relayflow/internal/services/echo"
	"github.com/drblury/relayflow/msg"
)

func runProxy(ctx context.Context, rt *runtime) error {
	kind, host, port, err := rt.frontDoor()
	if err != nil {
		return err
	}
	p, err := proxy.NewRequestProxy(ctx, rt.streams, proxy.RequestProxyOptions{
		Front: proxy.Endpoint{Kind: kind, Host: host, Port: port},
	})
	if err != nil {
		return fmt.Errorf("start request proxy: %w", err)
	}

	<-ctx.Done()
	rt.logger.Info("Shutting down request proxy", nil)
	return p.Close()
}

// closer is what a running service offers for shutdown.
type closer interface {
	Close(ctx context.Context) error
	InFlight() int
}

// waitAndDrain blocks until ctx ends, then drains svc while the loop still
// runs so that the last replies can be written.
func waitAndDrain(ctx context.Context, rt *runtime, svc closer) error {
	<-ctx.Done()
	rt.logger.Info("Shutting down service", logging.LogFields{"in_flight": svc.InFlight()})
	drainCtx, cancel := drainContext()
	defer cancel()
	if err := svc.Close(drainCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func runDBService(ctx context.Context, rt *runtime) error {
	db, err := storage.Open(ctx, rt.cfg.DatabaseURL, rt.logger)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := dbservice.Start(ctx, rt.streams, db, dbservice.Options{
		StagingDir: rt.cfg.StagingDir,
		Workers:    rt.cfg.Workers,
	})
	if err != nil {
		return fmt.Errorf("start database service: %w", err)
	}
	return waitAndDrain(ctx, rt, svc)
}

func runEchoService(ctx context.Context, rt *runtime) error {
	svc, err := echo.Start(ctx, rt.streams, echo.Options{
		Name:    rt.cfg.ServiceName,
		Workers: rt.cfg.Workers,
	})
	if err != nil {
		return fmt.Errorf("start echo service: %w", err)
	}
	return waitAndDrain(ctx, rt, svc)
}

// runRequest bridges /request/local to the proxy front door, sends one
// request and prints every reply as a JSON line.
func runRequest(ctx context.Context, rt *runtime, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("request: command is required")
	}
	command, err := msg.ParseCommand(args[0])
	if err != nil {
		return err
	}
	req := &msg.ProviderRequest{Command: command, Params: strings.Join(args[1:], " ")}

	kind, host, port, err := rt.frontDoor()
	if err != nil {
		return err
	}
	bridge, err := proxy.NewLocalRequestProxy(ctx, rt.streams, proxy.LocalRequestProxyOptions{
		Upstream: proxy.Endpoint{Kind: kind, Host: host, Port: port},
	})
	if err != nil {
		return err
	}
	defer bridge.Close()

	requester, err := client.NewRequester(ctx, rt.streams)
	if err != nil {
		return err
	}
	defer requester.Close()

	emit := func(resp *msg.ProviderResponse) {
		if err := jsoncodec.Encode(out, resp); err != nil {
			rt.logger.Error("Printing reply failed", err, nil)
		}
	}
	resp, err := requester.Do(ctx, req, emit)
	if resp != nil {
		emit(resp)
	}
	return err
}

func printChannels(cfg *config.Config, out io.Writer) error {
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	type row struct {
		Send  string `json:"send_type"`
		Recv  string `json:"recv_type"`
		Reply string `json:"reply_type"`
	}
	table := struct {
		Channels map[string]row `json:"channels"`
		Patterns []string       `json:"patterns,omitempty"`
	}{Channels: make(map[string]row), Patterns: registry.Patterns()}

	for _, name := range registry.Names() {
		spec, err := registry.Lookup(name)
		if err != nil {
			return err
		}
		table.Channels[name] = row{
			Send:  spec.SendType.String(),
			Recv:  spec.RecvType.String(),
			Reply: spec.ReplyType.String(),
		}
	}

	b, err := jsoncodec.MarshalIndent(table, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}
