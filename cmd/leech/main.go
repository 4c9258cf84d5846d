package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"

	"leech/internal/filestore"
	"leech/internal/metainfo"
	"leech/torrent"
)

type args struct {
	Torrent   string `arg:"positional,required" help:"path to the .torrent file"`
	Output    string `arg:"-o,--output" default:"." help:"output directory"`
	PortLow   int    `arg:"--port-low" default:"6881" help:"low end of the listen-port probe range"`
	PortHigh  int    `arg:"--port-high" default:"6889" help:"high end of the listen-port probe range"`
	Mmap      bool   `arg:"-m,--mmap" help:"write completed pieces via memory-mapped files instead of WriteAt"`
	Seed      int64  `arg:"--seed" help:"seed the scheduler's node-selection PRNG for deterministic runs (0 = random seed)"`
	Verbose   bool   `arg:"-v,--verbose" help:"enable verbose logging"`
}

func (args) Description() string {
	return "leech downloads a single torrent's content and exits when complete."
}

func main() {
	var a args
	arg.MustParse(&a)

	if !a.Verbose {
		log.SetFlags(0)
	}

	file, err := metainfo.Load(a.Torrent)
	if err != nil {
		log.Fatalf("[FAIL]\t%v\n", err)
	}

	port, err := torrent.ListenPort(a.PortLow, a.PortHigh)
	if err != nil {
		log.Fatalf("[FAIL]\t%v\n", err)
	}

	peerID := torrent.GeneratePeerID()

	cfg := torrent.DefaultConfig()
	cfg.ListenPortLow = a.PortLow
	cfg.ListenPortHigh = a.PortHigh
	if a.Seed != 0 {
		cfg.RandSeed = a.Seed
	} else {
		cfg.RandSeed = rand.Int63()
	}

	spans := make([]filestore.Span, 0)
	for _, fm := range file.FileMap(a.Output) {
		spans = append(spans, filestore.Span{Path: fm.Path, Length: fm.Length, Offset: fm.Offset})
	}

	var writer filestore.Writer
	if a.Mmap {
		writer = filestore.NewMmapWriter(spans)
	} else {
		writer = filestore.NewFileWriter(spans)
	}

	if err := writer.CreateFiles(); err != nil {
		log.Fatalf("[FAIL]\t%v\n", err)
	}
	defer writer.Close()

	engine, err := torrent.NewEngine(cfg, file, file.Announce, peerID, port, torrent.NewFilestoreSink(writer))
	if err != nil {
		log.Fatalf("[FAIL]\t%v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("[FAIL]\t%v\n", err)
	}

	stop := make(chan struct{})
	reporter := torrent.NewReporter(file.Info.Name, engine, file.TotalLength())
	go reporter.Run(500*time.Millisecond, stop)

	engine.Run(ctx)
	close(stop)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	engine.Stop(stopCtx)

	if engine.Done() {
		log.Printf("[INFO]\tDownload complete: %s\n", file.Info.Name)
	} else {
		log.Printf("[INFO]\tExiting before completion (%.1f%% done)\n", engine.Scheduler().Progress()*100)
	}
}
