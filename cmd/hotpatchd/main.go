// Command hotpatchd runs the hot patch engine as a standalone process:
// an in-process toy runtime host, a file watcher, the admin HTTP
// surface, and the out-of-process compile worker port, all wired
// together.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/hotpatch/classifier"
	"github.com/GoCodeAlone/hotpatch/compiler"
	"github.com/GoCodeAlone/hotpatch/dispatcher"
	"github.com/GoCodeAlone/hotpatch/engine"
	"github.com/GoCodeAlone/hotpatch/entrypoint"
	"github.com/GoCodeAlone/hotpatch/fieldstore"
	"github.com/GoCodeAlone/hotpatch/history"
	"github.com/GoCodeAlone/hotpatch/inspector"
	"github.com/GoCodeAlone/hotpatch/installer"
	"github.com/GoCodeAlone/hotpatch/logging"
	"github.com/GoCodeAlone/hotpatch/runtimehost"
	"github.com/GoCodeAlone/hotpatch/settingsconfig"
	"github.com/GoCodeAlone/hotpatch/sourcelang"
	"github.com/GoCodeAlone/hotpatch/vm"
	"github.com/GoCodeAlone/hotpatch/watcher"
)

func main() {
	configPath := flag.String("config", "hotpatch.yaml", "path to the settings YAML file")
	flag.Parse()

	settings, err := settingsconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("hotpatchd: loading settings: %v", err)
	}

	logger := &stdLogger{level: logging.ParseLevel(settings.LogLevel)}

	host := runtimehost.NewInProcessHost()
	disp := dispatcher.New(logger)
	fields := fieldstore.New()
	scanner := entrypoint.New(host, disp, logger)
	inst := installer.New(host, disp, logger)
	insp := inspector.New(logger)

	cache, err := classifier.NewCache(settings.SignatureCachePath)
	if err != nil {
		log.Fatalf("hotpatchd: loading signature cache: %v", err)
	}
	cls := classifier.New(cache, logger)

	releaseFrontend := compiler.NewSourceFrontend(sourcelang.Compile, compiler.ConfigRelease)
	debugFrontend := compiler.NewSourceFrontend(sourcelang.Compile, compiler.ConfigDebug)
	driver := compiler.NewDriver(releaseFrontend, debugFrontend, logger)
	defer driver.Close()

	histStore, err := history.New(settings.HistoryDir, logger)
	if err != nil {
		log.Fatalf("hotpatchd: opening history store: %v", err)
	}
	if err := histStore.StartSweep(settings.HistorySweepSchedule); err != nil {
		log.Fatalf("hotpatchd: starting history sweep: %v", err)
	}
	defer histStore.StopSweep()

	interp := &vm.Interp{Dispatcher: disp, Fields: fields}

	eng := engine.New(host, driver, cls, insp, inst, disp, fields, scanner, histStore, interp, logger)
	defer eng.Close()

	if err := scanner.Start(settings.EntrypointScanSchedule); err != nil {
		log.Fatalf("hotpatchd: starting entrypoint scanner: %v", err)
	}
	defer scanner.Stop()

	if err := eng.Replay(context.Background()); err != nil {
		logger.Warn("replay failed", "error", err)
	}

	w, err := watcher.New(watcher.Options{Debounce: settings.WatchDebounce()}, logger)
	if err != nil {
		log.Fatalf("hotpatchd: starting file watcher: %v", err)
	}
	defer w.Close()
	go forwardWatchEvents(w, eng, logger)

	workerLn, err := net.Listen("tcp", fmt.Sprintf(":%d", settings.WorkerPort))
	if err != nil {
		log.Fatalf("hotpatchd: listening on worker port: %v", err)
	}
	go serveWorkerProtocol(workerLn, releaseFrontend, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", settings.HTTPPort),
		Handler: newRouter(eng, logger),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
		}
	}()

	logger.Info("hotpatchd started", "http_port", settings.HTTPPort, "worker_port", settings.WorkerPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("hotpatchd shutting down")
	_ = httpServer.Close()
	_ = workerLn.Close()
}

func forwardWatchEvents(w *watcher.Watcher, eng *engine.Engine, logger logging.Logger) {
	for ev := range w.Events() {
		data, err := os.ReadFile(ev.Path)
		if err != nil {
			logger.Warn("failed to read changed source", "path", ev.Path, "error", err)
			continue
		}
		_, err = eng.Apply(engine.ApplyRequest{
			Assembly:   assemblyForPath(ev.Path),
			SourcePath: ev.Path,
			SourceText: string(data),
			ModuleName: assemblyForPath(ev.Path),
			Revision:   fileRevision(ev.Path),
		})
		if err != nil {
			logger.Warn("watch-triggered apply failed", "path", ev.Path, "error", err)
		}
	}
}

func assemblyForPath(path string) string {
	return path
}

func fileRevision(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}
