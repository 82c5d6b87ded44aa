package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pjanosky/reliable-transport-protocol/pkg/api"
	"github.com/pjanosky/reliable-transport-protocol/pkg/sender"
	"github.com/pjanosky/reliable-transport-protocol/pkg/storage"
	"github.com/pjanosky/reliable-transport-protocol/pkg/transport"
)

var (
	peerAddr    = flag.String("peer", "", "Receiver endpoint: host:port or /ip4/.../udp/... multiaddr (required)")
	inputPath   = flag.String("input", "-", "Input file path, or - for stdin")
	statusPort  = flag.Int("status", 0, "Status API port (0 disables)")
	journalPath = flag.String("journal", "", "Transfer journal database path (empty disables)")
)

func main() {
	flag.Parse()

	if *peerAddr == "" {
		log.Fatal("Error: -peer flag is required (receiver endpoint)")
	}

	peer, err := transport.ResolveEndpoint(*peerAddr)
	if err != nil {
		log.Fatalf("Failed to resolve peer: %v", err)
	}

	conn, err := transport.Listen(0)
	if err != nil {
		log.Fatalf("Failed to bind socket: %v", err)
	}
	defer conn.Close()

	in, err := openInput(*inputPath)
	if err != nil {
		log.Fatalf("Failed to open input: %v", err)
	}
	defer in.Close()

	engine := sender.NewEngine(conn, peer, bufio.NewReader(in))

	if *statusPort > 0 {
		statusServer := api.NewServer(storage.RoleSender, engine, *statusPort)
		statusServer.Start()
		defer statusServer.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("sending to %s from %s", peer, conn.LocalAddr())
	started := time.Now()

	if err := engine.Run(ctx); err != nil {
		log.Fatalf("Transfer failed: %v", err)
	}

	if *journalPath != "" {
		recordTransfer(engine, peer.String(), started)
	}
}

// openInput opens the input source, with - meaning stdin
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// recordTransfer appends the finished run to the transfer journal
func recordTransfer(engine *sender.Engine, peer string, started time.Time) {
	journal, err := storage.NewTransferJournal(*journalPath)
	if err != nil {
		log.Printf("Failed to open journal: %v", err)
		return
	}
	defer journal.Close()

	counters := engine.Counters()
	rec := &storage.TransferRecord{
		Role:          storage.RoleSender,
		Peer:          peer,
		Bytes:         counters.BytesRead.Load(),
		Packets:       counters.PacketsCreated.Load(),
		Retransmits:   counters.Retransmits.Load(),
		Duplicates:    counters.DuplicateAcks.Load(),
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
