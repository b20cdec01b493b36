package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/alecthomas/kong"

	"github.com/pulseio/pulseio"
	"github.com/pulseio/pulseio/internal/cli"
	"github.com/pulseio/pulseio/internal/ui"
)

// version is set via ldflags at build time
// Local dev builds: "dev"
// Release builds: git tag (e.g. "v0.1.0")
var version = "dev"

var CLI struct {
	Input    string `arg:"" name:"input" help:"Capture file to decode (stdin when omitted)" optional:""`
	Output   string `help:"Re-encode the decoded samples to this file"`
	Delta    bool   `help:"Delta encode the output file"`
	Realtime bool   `help:"Pace decoding at the 250 Hz sample cadence"`
	Watch    bool   `help:"Show a live dashboard instead of printing samples"`
	Version  bool   `help:"Show version information"`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("pulsecat"),
		kong.Description("Decode a sensor capture into its 250 Hz sample stream."),
		kong.UsageOnError(),
	)

	if CLI.Version {
		cli.PrintVersion(version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}
}

func run() error {
	if CLI.Watch && CLI.Input == "" {
		return errors.New("cannot watch while decoding stdin; pass a capture file")
	}

	stream, err := openStream()
	if err != nil {
		return err
	}
	defer stream.Close()

	keep := CLI.Output != ""

	var samples []float64
	if CLI.Watch {
		samples, err = ui.RunWatch(stream, keep)
	} else {
		samples, err = printSamples(stream, keep)
	}
	if err != nil {
		return err
	}

	if keep {
		opt := pulseio.WithDeltaEncoding(CLI.Delta)
		if err := pulseio.SaveTextFile(CLI.Output, samples, opt); err != nil {
			return err
		}
		cli.PrintSuccess(fmt.Sprintf("wrote %d samples to %s", len(samples), CLI.Output))
	}

	return nil
}

func openStream() (*pulseio.Stream, error) {
	opts := []pulseio.StreamOption{pulseio.WithRealtime(CLI.Realtime)}
	if CLI.Input == "" {
		return pulseio.OpenReader(os.Stdin, opts...)
	}

	return pulseio.OpenFile(CLI.Input, opts...)
}

// printSamples writes one decoded sample per line to stdout. With keep set
// it also collects them for re-encoding.
func printSamples(stream *pulseio.Stream, keep bool) ([]float64, error) {
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	var (
		samples []float64
		line    []byte
	)
	for {
		v, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return nil, err
		}

		if keep {
			samples = append(samples, v)
		}

		line = strconv.AppendFloat(line[:0], v, 'f', 3, 64)
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return nil, fmt.Errorf("write stdout failed: %w", err)
		}
	}
}
