// Command relayflow runs one relayflow process: the request proxy, a
// service, or a one-shot requester.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `Usage: relayflow <command> [args]

Commands:
  proxy                      Run the request proxy (front door, do_work broadcast, result collection).
  dbservice                  Run the database service on /db/new_file.
  echo-service               Run the echo provider behind the request proxy.
  request <command> [params] Send one provider request through a local bridge and print the replies.
  channels                   Print the channel table as JSON.
  help                       Show this help.

Environment: COMM_DIR, STAGING_DIR, CHANNEL_MAP_FILE, NETWORK_BACKEND, AMQP_USER, AMQP_PASSWORD,
IPC_POLL_INTERVAL, WORKERS, DATABASE_URL, METRICS_ENABLED, METRICS_PORT, LOG_LEVEL,
REQUEST_TRANSPORT, REQUEST_HOST, REQUEST_PORT, SERVICE_NAME.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "relayflow: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	case "proxy", "dbservice", "echo-service", "request", "channels":
	case "":
		fmt.Fprint(out, usage)
		return fmt.Errorf("missing command")
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd == "channels" {
		return printChannels(cfg, out)
	}

	rt, err := newRuntime(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	switch cmd {
	case "proxy":
		return runProxy(ctx, rt)
	case "dbservice":
		return runDBService(ctx, rt)
	case "echo-service":
		return runEchoService(ctx, rt)
	default:
		return runRequest(ctx, rt, args, out)
	}
}
