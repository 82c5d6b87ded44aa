package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pjanosky/reliable-transport-protocol/pkg/api"
	"github.com/pjanosky/reliable-transport-protocol/pkg/receiver"
	"github.com/pjanosky/reliable-transport-protocol/pkg/storage"
	"github.com/pjanosky/reliable-transport-protocol/pkg/transport"
)

const defaultPort = 9000

var (
	port        = flag.Int("port", defaultPort, "UDP port to listen on")
	outputPath  = flag.String("output", "-", "Output file path, or - for stdout")
	statusPort  = flag.Int("status", 0, "Status API port (0 disables)")
	journalPath = flag.String("journal", "", "Transfer journal database path (empty disables)")
)

func main() {
	flag.Parse()

	conn, err := transport.Listen(*port)
	if err != nil {
		log.Fatalf("Failed to bind socket: %v", err)
	}
	defer conn.Close()

	out, err := openOutput(*outputPath)
	if err != nil {
		log.Fatalf("Failed to open output: %v", err)
	}
	defer out.Close()

	engine := receiver.NewEngine(conn, out)

	if *statusPort > 0 {
		statusServer := api.NewServer(storage.RoleReceiver, engine, *statusPort)
		statusServer.Start()
		defer statusServer.Stop()
	}

	// The protocol carries no end-of-stream signal, so the receiver runs
	// until it is stopped externally
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("listening on %s", conn.LocalAddr())
	started := time.Now()

	err = engine.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Receiver failed: %v", err)
	}

	counters := engine.Counters()
	log.Printf("✓ shutting down: %d bytes emitted, %d frames, %d duplicates, digest %s",
		counters.BytesEmitted.Load(), counters.FramesReceived.Load(),
		counters.DuplicateData.Load(), engine.Digest())

	if *journalPath != "" {
		recordTransfer(engine, started)
	}
}

// openOutput opens the output sink, with - meaning stdout
func openOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// recordTransfer appends the run to the transfer journal
func recordTransfer(engine *receiver.Engine, started time.Time) {
	journal, err := storage.NewTransferJournal(*journalPath)
	if err != nil {
		log.Printf("Failed to open journal: %v", err)
		return
	}
	defer journal.Close()

	counters := engine.Counters()
	rec := &storage.TransferRecord{
		Role:          storage.RoleReceiver,
		Peer:          engine.Peer(),
		Bytes:         counters.BytesEmitted.Load(),
		Packets:       counters.FramesReceived.Load() - counters.DuplicateData.Load(),
		Duplicates:    counters.DuplicateData.Load(),
		CorruptFrames: counters.CorruptFrames.Load(),
		Digest:        engine.Digest(),
		StartedAt:     started.Unix(),
		FinishedAt:    time.Now().Unix(),
	}

	if _, err := journal.Record(rec); err != nil {
		log.Printf("Failed to record transfer: %v", err)
		return
	}
	log.Printf("transfer journaled to %s", *journalPath)
}
