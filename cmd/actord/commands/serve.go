// Package commands holds cmd/actord's cobra subcommands, laid out the
// same way teranos/QNTX's cmd/qntx/commands package is: one file per
// subcommand, a package-level *cobra.Command var, flags bound in init.
package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/actorcore/actor"
	"github.com/teranos/actorcore/cmd/actord/demoactor"
	"github.com/teranos/actorcore/codec"
	"github.com/teranos/actorcore/config"
	"github.com/teranos/actorcore/kvsqlite"
	"github.com/teranos/actorcore/logger"
	"github.com/teranos/actorcore/wsconn"
)

// ServeCmd starts the demo actor host: an HTTP+websocket front end over
// a registry of counter actors, backed by kvsqlite. It exists to give
// the runtime something to be driven through end to end, the same role
// teranos/QNTX's ServerCmd plays for the graph server.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the demo actor host",
	Long:  `Serve a registry of counter actors over HTTP and websocket, backed by a SQLite KV driver.`,
	RunE:  runServe,
}

var serveConfigPath string

func init() {
	ServeCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to actord.toml (searched upward from cwd if unset)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}

	log := logger.ComponentLogger("actord")

	if err := os.MkdirAll(cfg.Host.DataDir, 0o755); err != nil {
		return err
	}
	driver, err := kvsqlite.Open(cfg.Host.DataDir+"/actord.db", cfg.Host.DataDir)
	if err != nil {
		return err
	}
	defer driver.Close()

	actorCfg := cfg.Actor.ToActorConfig()
	registry := actor.NewRegistry[demoactor.CounterState, demoactor.ConnState](driver, func(actorID string) *actor.Orchestrator[demoactor.CounterState, demoactor.ConnState] {
		return actor.New(driver, actorID, "counter", nil, "", actorCfg, demoactor.Hooks(), demoactor.Actions())
	})

	host := &demoHost{
		registry: registry,
		upgrader: wsconn.NewUpgrader(nil),
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", host.handleHealth)
	mux.HandleFunc("/actors/", host.handleActor)
	httpServer := &http.Server{Addr: cfg.Host.ListenAddr, Handler: mux}

	pollCtx, stopPoll := context.WithCancel(context.Background())
	defer stopPoll()
	go host.pollAlarms(pollCtx, driver)

	errCh := make(chan error, 1)
	go func() {
		pterm.Info.Printf("actord listening on %s (data dir %s)\n", cfg.Host.ListenAddr, cfg.Host.DataDir)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-sigCh:
		pterm.Info.Println("shutting down")
		stopPoll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			pterm.Warning.Printf("http shutdown: %v\n", err)
		}
		pterm.Success.Println("actord stopped cleanly")
	}
	return nil
}

// demoHost wires the registry to HTTP and websocket transports. The
// runtime core treats network framing and transport as an external
// collaborator; this is the reference one.
type demoHost struct {
	registry *actor.Registry[demoactor.CounterState, demoactor.ConnState]
	upgrader *wsconn.Upgrader
	log      interface {
		Errorw(string, ...interface{})
		Warnw(string, ...interface{})
	}
}

func (h *demoHost) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleActor routes /actors/{id}/actions/{name} and /actors/{id}/ws.
func (h *demoHost) handleActor(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/actors/"), "/"), "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	actorID := parts[0]

	switch {
	case len(parts) == 3 && parts[1] == "actions":
		h.handleAction(w, r, actorID, parts[2])
	case len(parts) == 2 && parts[1] == "ws":
		h.handleWebSocket(w, r, actorID)
	default:
		http.NotFound(w, r)
	}
}

func (h *demoHost) handleAction(w http.ResponseWriter, r *http.Request, actorID, action string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Amount int64 `json:"amount"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	args, err := codec.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	o, err := h.registry.Get(r.Context(), actorID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var result any
	err = o.TrackHTTPRequest(r.Context(), func(ctx context.Context) error {
		result, err = o.ExecuteAction(ctx, action, args)
		return err
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func (h *demoHost) handleWebSocket(w http.ResponseWriter, r *http.Request, actorID string) {
	o, err := h.registry.Get(r.Context(), actorID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	driver, err := h.upgrader.Upgrade(w, r, true)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", logger.FieldError, err.Error())
		return
	}

	c, err := o.PrepareConn(r.Context(), driver, nil)
	if err != nil {
		_ = driver.Close(err.Error())
		return
	}
	if err := o.ConnectConn(r.Context(), c); err != nil {
		_ = driver.Close(err.Error())
		return
	}

	err = driver.ReadLoop(func(msg []byte) {
		var m actor.Message
		if err := codec.Unmarshal(msg, &m); err != nil {
			h.log.Warnw("dropping unreadable frame", logger.FieldConnID, c.ID, logger.FieldError, err.Error())
			return
		}
		resp, err := o.ProcessMessage(r.Context(), c.ID, m)
		if err != nil {
			h.log.Warnw("process message failed", logger.FieldConnID, c.ID, logger.FieldError, err.Error())
			return
		}
		if resp != nil {
			_ = driver.Send(resp)
		}
	})
	clean := err == nil
	_ = o.ConnDisconnected(context.Background(), c.ID, clean)
}

// pollAlarms is the demo's own alarm-delivery mechanism, standing in
// for whatever durable timer service a production host would use.
func (h *demoHost) pollAlarms(ctx context.Context, driver *kvsqlite.Driver) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := driver.DueAlarms(ctx, time.Now())
			if err != nil {
				h.log.Warnw("poll alarms failed", logger.FieldError, err.Error())
				continue
			}
			for _, actorID := range due {
				o, err := h.registry.Get(ctx, actorID)
				if err != nil {
					h.log.Warnw("failed to load actor for alarm delivery", logger.FieldActorID, actorID, logger.FieldError, err.Error())
					continue
				}
				if err := o.OnAlarm(ctx); err != nil {
					h.log.Warnw("onAlarm failed", logger.FieldActorID, actorID, logger.FieldError, err.Error())
				}
			}
		}
	}
}
