package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmh2000/linechat/internal/config"
	"github.com/dmh2000/linechat/internal/framing"
	"github.com/dmh2000/linechat/internal/transport"
)

const (
	dialTimeout = 10 * time.Second

	// Server lines carry a name prefix on top of a relayed client line.
	maxServerLine = 64 * 1024

	colorBlue  = "\033[94m"
	colorGreen = "\033[92m"
	colorReset = "\033[0m"
)

func main() {
	addr := flag.String("addr", config.DefaultAddr, "server address (host:port)")
	useQUIC := flag.Bool("quic", false, "connect over QUIC instead of TCP")
	flag.Parse()

	// Set up context with cancellation for clean shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for SIGINT (Ctrl-C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	stream, err := dial(ctx, *addr, *useQUIC)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect to server: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = stream.Close() }()

	// Channel to signal termination from read loop
	readDone := make(chan error, 1)
	go readLoop(stream, readDone)

	// Channel to coordinate shutdown
	shutdownChan := make(chan struct{})

	go func() {
		defer close(shutdownChan)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, framing.MaxLineSize), framing.MaxLineSize)

		// Set input color to light green
		fmt.Print(colorGreen)

		for scanner.Scan() {
			if err := framing.WriteLine(stream, scanner.Text()); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to send line: %v\n", err)
				return
			}
		}

		if err := scanner.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: reading from stdin: %v\n", err)
		}
	}()

	// Wait for shutdown signal, read error, or write completion
	select {
	case <-sigChan:
		fmt.Fprintf(os.Stderr, "\nReceived interrupt signal, shutting down...\n")
	case err := <-readDone:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Read loop terminated: %v\n", err)
		}
	case <-shutdownChan:
		// stdin closed
	}

	fmt.Print(colorReset)
}

// dial opens the session stream over TCP or QUIC.
func dial(ctx context.Context, addr string, useQUIC bool) (io.ReadWriteCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if !useQUIC {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}

	stream, err := transport.DialQUIC(ctx, addr)
	if err != nil {
		return nil, err
	}
	// The server only sees the stream once it carries data; it ignores
	// empty lines.
	if err := framing.WriteLine(stream, ""); err != nil {
		_ = stream.Close()
		return nil, err
	}
	return stream, nil
}

// readLoop prints every line the server sends until the stream ends.
func readLoop(r io.Reader, done chan<- error) {
	defer close(done)

	lr := framing.NewLineReader(r, maxServerLine)
	for {
		line, err := lr.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				done <- nil
				return
			}
			done <- fmt.Errorf("failed to read line: %w", err)
			return
		}
		fmt.Printf("%s%s%s\n", colorBlue, line, colorGreen)
	}
}
