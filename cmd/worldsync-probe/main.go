// Command worldsync-probe connects to a worldsync server over TCP, keeps a
// client mirror in sync and periodically logs what it sees.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/worldsync/internal/client"
	"github.com/l1jgo/worldsync/internal/data"
	gonet "github.com/l1jgo/worldsync/internal/net"
	"github.com/l1jgo/worldsync/internal/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "127.0.0.1:7001", "server TCP address")
	maxFrame := flag.Int("max-frame", 1<<20, "largest accepted message in bytes")
	every := flag.Duration("report", 5*time.Second, "interval between mirror reports")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, err := gonet.Dial(ctx, *addr, *maxFrame)
	if err != nil {
		return fmt.Errorf("dial %s: %w", *addr, err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	schema := data.NewSchema()
	c := client.New(schema.Registry, client.NewMirror(data.Actors, data.Npcs, data.Items, data.Areas), log)
	c.OnResync = func(reason error) {
		log.Warn("mirror diverged, requesting resync", zap.Error(reason))
		if err := conn.Send(protocol.EncodeResync()); err != nil {
			log.Error("send resync", zap.Error(err))
		}
	}

	c.OnEvent = func(tick uint32, ev protocol.Event) {
		log.Info("event", zap.Uint32("tick", tick), zap.String("name", ev.Name), zap.Any("payload", ev.Payload))
	}

	last := time.Now()
	for {
		msg, err := conn.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := c.Handle(msg); err != nil {
			if errors.Is(err, protocol.ErrFingerprint) {
				return err
			}
			log.Debug("message rejected", zap.Error(err))
		}
		if time.Since(last) >= *every {
			last = time.Now()
			log.Info("mirror",
				zap.Uint32("tick", c.LastTick()),
				zap.Int("actors", c.Mirror().Len(data.Actors)),
				zap.Int("npcs", c.Mirror().Len(data.Npcs)),
				zap.Int("items", c.Mirror().Len(data.Items)),
				zap.Int("areas", c.Mirror().Len(data.Areas)),
				zap.Int("resyncs", c.Resyncs()),
			)
		}
	}
}
