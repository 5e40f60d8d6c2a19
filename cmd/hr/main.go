// Command hr assembles RAID volumes from a set of backing files or
// device nodes, serves their state over Prometheus, and keeps a
// snapshot directory on disk — a minimal wiring demonstration of the
// registry, volume and raid0/raid1/raid5 packages, in the shape of
// the teacher lineage's lsvd/cmd/lsvd CLI entrypoint.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"helenraid.dev/hr/blockdev"
	"helenraid.dev/hr/metrics"
	"helenraid.dev/hr/registry"
)

var (
	fMetrics    = flag.String("metrics", ":2121", "address to serve Prometheus metrics on")
	fSnapshotDB = flag.String("snapshot-db", "hr-snapshots.db", "path to the array snapshot store")
	fBlockSize  = flag.Int("block-size", 512, "block size in bytes every backing file is opened with")
)

func main() {
	flag.Parse()
	log := slog.Default()

	if err := run(log); err != nil {
		log.Error("hr: fatal", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	devicePaths := flag.Args()
	if len(devicePaths) == 0 {
		return errors.New("usage: hr [flags] <device-path>...")
	}

	var candidates []registry.Candidate
	for _, path := range devicePaths {
		dev, err := blockdev.OpenFile(path, 0, *fBlockSize)
		if err != nil {
			return errors.Wrapf(err, "opening %s", path)
		}
		candidates = append(candidates, registry.Candidate{ServiceID: path, Device: dev})
	}

	store, err := registry.OpenStore(*fSnapshotDB)
	if err != nil {
		return errors.Wrap(err, "opening snapshot store")
	}
	defer store.Close()

	reg := registry.New()
	assembler := registry.NewAssembler(log)
	vols := assembler.Assemble(context.Background(), candidates, 4, 64, 64*1024)

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(log, promReg)

	for _, v := range vols {
		if _, err := registry.AttachEngine(v); err != nil {
			log.Error("hr: no driver for volume", "devname", v.Devname, "level", v.Level, "error", err)
			continue
		}
		id, err := uuid.Parse(v.ServiceID)
		if err != nil {
			log.Error("hr: volume has invalid uuid", "devname", v.Devname, "error", err)
			continue
		}
		reg.Register(id, v)
		collector.AddVolume(v)

		if err := store.Save(context.Background(), registry.Snapshot{
			UUID: id, Devname: v.Devname, Level: v.Level, Layout: v.Layout,
			ExtentCount: v.ExtentCount(),
		}); err != nil {
			log.Error("hr: failed to persist snapshot", "devname", v.Devname, "error", err)
		}
		log.Info("hr: assembled volume", "devname", v.Devname, "level", v.Level.String(), "extents", v.ExtentCount(), "size", v.Size().Short())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go collector.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: *fMetrics, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Info("hr: serving metrics", "addr", *fMetrics)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
