// Command worker is the Client CLI:
//
//	worker <master_ip> <master_port> [--config=path] [--log-level=info]
//
// It dials the coordinator, performs the handshake, and runs the task
// request/compute loop until the coordinator shuts it down or disconnects.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/saifaleee/distmatmul/config"
	"github.com/saifaleee/distmatmul/shared"
	"github.com/saifaleee/distmatmul/worker"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout *os.File) int {
	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML config file")
	logLevel := fs.String("log-level", "", "override the configured log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(stdout, "Usage: worker <master_ip> <master_port> [--config=path] [--log-level=info]")
		return 1
	}

	positional := fs.Args()
	if len(positional) != 2 {
		fmt.Fprintln(stdout, "Usage: worker <master_ip> <master_port>")
		return 1
	}
	addr := positional[0] + ":" + positional[1]

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		fmt.Fprintf(stdout, "failed to load config: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log := shared.NewLogger("worker", shared.ParseLevel(cfg.LogLevel))

	sess, err := worker.Dial(addr, log)
	if err != nil {
		fmt.Fprintf(stdout, "failed to connect to %s: %v\n", addr, err)
		return 1
	}

	fmt.Fprintf(stdout, "Connected to coordinator at %s\n", addr)
	sess.Run()
	fmt.Fprintln(stdout, "Disconnected from coordinator")
	return 0
}
