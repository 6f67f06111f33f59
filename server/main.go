package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmh2000/linechat/internal/chat"
	"github.com/dmh2000/linechat/internal/config"
	"github.com/dmh2000/linechat/internal/journal"
	"github.com/dmh2000/linechat/internal/transport"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.FromEnv()
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	cfg.RegisterFlags(fs)
	replay := fs.Bool("replay", false, "print the journal and exit")
	_ = fs.Parse(os.Args[1:])
	cfg.Sanitize()

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	if *replay {
		if err := replayJournal(cfg.JournalPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	opts := chat.Options{
		Logger:       logger,
		MaxLineSize:  cfg.MaxLineSize,
		SendQueue:    cfg.SendQueue,
		WriteTimeout: cfg.WriteTimeout,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
	}

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Error("error closing journal", "error", err)
			}
		}()
		logger.Info("journal opened", "path", cfg.JournalPath, "run", j.Run(), "events", j.Count())
		opts.Journal = j
	}

	srv := chat.NewServer(opts)

	tcpLn, err := transport.ListenTCP(cfg.Addr)
	if err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return transport.ServeTCP(gctx, tcpLn, srv, logger)
	})

	if cfg.QUICAddr != "" {
		quicLn, err := transport.ListenQUIC(cfg.QUICAddr, cfg.TLSHost)
		if err != nil {
			_ = tcpLn.Close()
			return err
		}
		g.Go(func() error {
			return transport.ServeQUIC(gctx, quicLn, srv, logger)
		})
	}

	if cfg.WSAddr != "" {
		g.Go(func() error {
			return transport.ServeWebSocket(gctx, cfg.WSAddr, srv, logger)
		})
	}

	logger.Info("server listening", "tcp", cfg.Addr, "quic", cfg.QUICAddr, "ws", cfg.WSAddr)

	<-gctx.Done()
	if ctx.Err() != nil {
		logger.Info("received signal, initiating graceful shutdown")
	}

	groupErr := g.Wait()

	// Close all client connections
	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("sessions still running after shutdown timeout", "timeout", cfg.ShutdownTimeout)
	}

	logger.Info("server shutdown complete")
	return groupErr
}

func replayJournal(path string) error {
	if path == "" {
		return fmt.Errorf("-replay needs a journal path (-journal or CHAT_JOURNAL)")
	}
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	return j.Replay(func(rec journal.Record) error {
		fmt.Printf("%6d %s %-10s #%-4d %-16s %s\n",
			rec.Seq, rec.Time.Format(time.RFC3339), rec.Kind, rec.Session, rec.Name, describe(rec.Event))
		return nil
	})
}

func describe(ev journal.Event) string {
	switch ev.Kind {
	case journal.KindConnect:
		return ev.Remote
	case journal.KindPrivate:
		return fmt.Sprintf("-> #%d %s", ev.Target, ev.Text)
	default:
		return ev.Text
	}
}
