// mediremindd is the long-lived sync daemon: it owns the local store, keeps
// it reconciled with the remote document store, and watches for missed doses.
package main

import (
	"context"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/sendgrid/sendgrid-go"

	"github.com/israfil-hossain/mediremind/dblayer"
	"github.com/israfil-hossain/mediremind/docstore"
	"github.com/israfil-hossain/mediremind/healthz"
	"github.com/israfil-hossain/mediremind/identity"
	"github.com/israfil-hossain/mediremind/localstore"
	"github.com/israfil-hossain/mediremind/netmon"
	"github.com/israfil-hossain/mediremind/poller"
	"github.com/israfil-hossain/mediremind/subscription"
	"github.com/israfil-hossain/mediremind/syncer"
	"github.com/israfil-hossain/mediremind/syncmetrics"
	"github.com/israfil-hossain/mediremind/syncqueue"
)

var (
	debugListen   = flag.String("debug-listen", "127.0.0.1:8001", "Server address:port for debug endpoint.")
	dataDir       = flag.String("data-dir", "", "Directory holding the local database.")
	projectID     = flag.String("project-id", "", "Document store project id.")
	netPeriod     = flag.Duration("net-probe-period", netmon.DefaultPeriod, "Time between connectivity probes.")
	recheckPeriod = flag.Duration("recheck-period", poller.DefaultRecheckPeriod, "Time between missed-dose sweeps.")
	fromEmail     = flag.String("from-email", "alerts@mediremind.app", "Sender address for missed-dose alerts.")
)

func main() {
	// Local development keeps its keys in a .env file; a missing file is
	// not an error.
	godotenv.Load()

	flag.Parse()

	glog.CopyStandardLogTo("INFO")

	glog.Infof("flags:")
	glog.Infof("debug-listen: %v", *debugListen)
	glog.Infof("data-dir: %v", *dataDir)
	glog.Infof("project-id: %v", *projectID)
	glog.Infof("net-probe-period: %v", *netPeriod)
	glog.Infof("recheck-period: %v", *recheckPeriod)
	glog.Infof("from-email: %v", *fromEmail)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := localstore.Open(*dataDir)
	if err != nil {
		glog.Fatalf("Failed to open local store: %v", err)
	}
	defer store.Close()

	ident := identity.New(store, os.Getenv("IDENTITY_API_KEY"))
	remote := docstore.New(*projectID, ident)
	queue := syncqueue.New(store)

	metrics := syncmetrics.New()
	metrics.RegisterMetrics()

	coordinator := syncer.New(store, queue, remote, ident, syncer.WithMetrics(metrics))

	subs := subscription.New(store)
	db := dblayer.New(store, coordinator, subs)

	monitor := netmon.New(coordinator, netmon.WithPeriod(*netPeriod))

	sg := sendgrid.NewSendClient(os.Getenv("SENDGRID_API_KEY"))
	missedDosePoller := poller.New(db, store, sg, subs, *fromEmail,
		poller.WithRecheckPeriod(*recheckPeriod),
		poller.WithMetrics(metrics))

	debugServeMux := http.NewServeMux()
	debugServeMux.HandleFunc("/healthz", healthz.Liveness)
	debugServeMux.HandleFunc("/readyz", healthz.Liveness)
	debugServeMux.Handle("/statusz", healthz.NewStatusHandler(coordinator))
	debugServeMux.HandleFunc("/debug/pprof/", pprof.Index)
	debugServeMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	debugServeMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	debugServeMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	debugServeMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	debugServer := &http.Server{
		Addr:    *debugListen,
		Handler: debugServeMux,

		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		if err := debugServer.ListenAndServe(); err != nil {
			glog.Fatalf("Debug server died: %v", err)
		}
	}()

	go monitor.Run(ctx)

	go func() {
		missedDosePoller.Run(ctx)
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	<-signalCh
}
