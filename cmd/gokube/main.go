// Command gokube runs a single-process, Kubernetes-compatible control
// plane: the Store-backed API front-end, the Deployment/ReplicaSet/
// Endpoints controllers, the scheduler, and the kubelet, all bound to one
// node and one container runtime.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/cpaika/gokube/internal/api"
	"github.com/cpaika/gokube/internal/controller"
	"github.com/cpaika/gokube/internal/controller/deployment"
	"github.com/cpaika/gokube/internal/controller/endpoints"
	"github.com/cpaika/gokube/internal/controller/replicaset"
	"github.com/cpaika/gokube/internal/kubelet"
	"github.com/cpaika/gokube/internal/logging"
	"github.com/cpaika/gokube/internal/portforward"
	"github.com/cpaika/gokube/internal/runtime"
	"github.com/cpaika/gokube/internal/scheduler"
	"github.com/cpaika/gokube/internal/store"
)

type cli struct {
	ListenAddr string        `default:"127.0.0.1:6443" env:"GOKUBE_LISTEN_ADDR" help:"Address the API front-end listens on."`
	DBPath     string        `default:"gokube.db"      env:"GOKUBE_DB_PATH"     help:"Path to the SQLite database file."`
	LogLevel   string        `default:"info"           env:"GOKUBE_LOG_LEVEL"   help:"Logging level (debug, info, warn, error)."`
	NodeName   string        `default:"gokube-node"    env:"GOKUBE_NODE_NAME"   help:"Name of the single node the scheduler and kubelet operate on."`
	SyncPeriod time.Duration `default:"2s"             env:"GOKUBE_SYNC_PERIOD" help:"How often each controller reconciles."`
}

func main() {
	var c cli
	kong.Parse(&c,
		kong.Name("gokube"),
		kong.Description("A single-process, Kubernetes-compatible control plane."),
		kong.UsageOnError())

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	base := logrus.New()
	base.SetLevel(level)
	base.SetFormatter(&logrus.JSONFormatter{})
	log := logging.NewLogrusLogger(base.WithField("component", "gokube"))

	if err := run(c, log); err != nil {
		log.Info("gokube exited with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(c cli, log logging.Logger) error {
	db, err := store.Open(c.DBPath)
	if err != nil {
		return err
	}
	registry, err := store.NewRegistry(db)
	if err != nil {
		return err
	}

	if err := bootstrap(registry, c.NodeName); err != nil {
		return err
	}

	rt := runtime.NewProcessRuntime(runtime.WithLogger(log))

	pfHandler := portforward.NewHandler(rt, kubelet.ContainerLookup(registry, rt), log)

	server := api.NewServer(registry,
		api.WithLogger(log),
		api.WithLogSource(func(namespace, name string) ([]byte, error) {
			return podLogs(registry, rt, namespace, name)
		}),
		api.WithPortForwarder(pfHandler.ServeHTTP),
	)

	mgr := controller.NewManager([]controller.Reconciler{
		deployment.NewReconciler(registry, deployment.WithLogger(log)),
		replicaset.NewReconciler(registry, replicaset.WithLogger(log)),
		endpoints.NewReconciler(registry, endpoints.WithLogger(log)),
		scheduler.NewReconciler(registry, c.NodeName, scheduler.WithLogger(log)),
		kubelet.NewReconciler(registry, rt, c.NodeName, kubelet.WithLogger(log)),
	}, controller.WithInterval(c.SyncPeriod), controller.WithManagerLogger(log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Start(ctx)

	httpServer := &http.Server{
		Addr:    c.ListenAddr,
		Handler: server,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", c.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// bootstrap seeds the records every fresh cluster is expected to carry:
// the single Node this process schedules onto and the default Namespace.
// Both creates are idempotent across restarts.
func bootstrap(registry *store.Registry, nodeName string) error {
	namespaces, _ := registry.Repo("Namespace")
	if _, err := namespaces.Create("", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: "default"},
	}); err != nil {
		if serr, ok := store.AsStoreError(err); !ok || serr.Code != store.CodeAlreadyExists {
			return err
		}
	}

	nodes, _ := registry.Repo("Node")
	status, err := json.Marshal(map[string]any{
		"conditions": []map[string]any{{"type": "Ready", "status": "True", "reason": "KubeletReady"}},
		"nodeInfo":   map[string]any{"operatingSystem": "linux"},
	})
	if err != nil {
		return err
	}
	if _, err := nodes.Create("", &store.Resource{
		Metadata: metav1.ObjectMeta{Name: nodeName, Labels: map[string]string{"kubernetes.io/hostname": nodeName}},
		Status:   status,
	}); err != nil {
		if serr, ok := store.AsStoreError(err); !ok || serr.Code != store.CodeAlreadyExists {
			return err
		}
	}
	return nil
}

// podLogs resolves a Pod's first tracked container and returns its
// captured stdout/stderr ring buffer, wiring the log sub-resource to the
// runtime the same way portforward wires its data path.
func podLogs(registry *store.Registry, rt runtime.Runtime, namespace, name string) ([]byte, error) {
	lookup := kubelet.ContainerLookup(registry, rt)
	containerID, _, err := lookup(namespace, name)
	if err != nil {
		return nil, err
	}
	return rt.Logs(containerID)
}
