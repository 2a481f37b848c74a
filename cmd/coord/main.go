// Command coord is the coordinator CLI:
//
//	coord <port> [matrix_size=1000] [--config=path] [--log-level=info]
//
// It generates two matrix_size x matrix_size matrices of i.i.d. uniform
// [0,1) doubles, begins accepting on port, waits for the operator to press
// Enter before latching started, polls IsComplete at 1 Hz, optionally
// prints the result for matrix_size <= 10, and pauses again before
// shutdown.
package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/saifaleee/distmatmul/config"
	"github.com/saifaleee/distmatmul/coordinator"
	"github.com/saifaleee/distmatmul/shared"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin *os.File, stdout *os.File) int {
	fs := pflag.NewFlagSet("coord", pflag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML config file")
	logLevel := fs.String("log-level", "", "override the configured log level")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(stdout, "Usage: coord <port> [matrix_size=1000] [--config=path] [--log-level=info]")
		return 1
	}

	positional := fs.Args()
	if len(positional) < 1 {
		fmt.Fprintln(stdout, "Usage: coord <port> [matrix_size=1000]")
		return 1
	}

	port, err := strconv.Atoi(positional[0])
	if err != nil {
		fmt.Fprintf(stdout, "invalid port %q: %v\n", positional[0], err)
		return 1
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		fmt.Fprintf(stdout, "failed to load config: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	matrixSize := cfg.MatrixSize
	if len(positional) > 1 {
		matrixSize, err = strconv.Atoi(positional[1])
		if err != nil {
			fmt.Fprintf(stdout, "invalid matrix_size %q: %v\n", positional[1], err)
			return 1
		}
	}

	log := shared.NewLogger("coord", shared.ParseLevel(cfg.LogLevel))

	co := coordinator.New(fmt.Sprintf(":%d", port), log)
	if err := co.Start(); err != nil {
		fmt.Fprintf(stdout, "failed to start: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Generating random matrices of size %dx%d\n", matrixSize, matrixSize)
	a := randomMatrix(matrixSize, matrixSize)
	b := randomMatrix(matrixSize, matrixSize)

	if err := co.SetMatrices(a, b); err != nil {
		fmt.Fprintf(stdout, "failed to set matrices: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "\nWaiting for clients to connect...")
	fmt.Fprintln(stdout, "Press Enter when ready to start computation with the connected clients")
	bufio.NewReader(stdin).ReadString('\n')

	if err := co.StartComputation(); err != nil {
		fmt.Fprintf(stdout, "failed to start computation: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "Computation started. Waiting for completion...")
	for !co.IsComplete() {
		time.Sleep(time.Second)
	}
	fmt.Fprintln(stdout, "Computation completed successfully!")

	if matrixSize <= 10 {
		printResult(stdout, co.Result())
	}

	fmt.Fprintln(stdout, "\nPress Enter to shutdown the server...")
	bufio.NewReader(stdin).ReadString('\n')

	co.Stop()
	return 0
}

func randomMatrix(rows, cols int) shared.Matrix {
	m := shared.NewMatrix(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, rand.Float64())
		}
	}
	return m
}

func printResult(stdout *os.File, m shared.Matrix) {
	fmt.Fprintf(stdout, "\nResult Matrix (%dx%d):\n", m.Rows(), m.Cols())
	for i := 0; i < m.Rows(); i++ {
		for j := 0; j < m.Cols(); j++ {
			fmt.Fprintf(stdout, "%.4f ", m.At(i, j))
		}
		fmt.Fprintln(stdout)
	}
}
