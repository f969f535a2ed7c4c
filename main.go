package main

import (
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		LogWarning("Error loading .env file: %v", err)
	}

	InitLogger()
	defer CloseLogger()

	LogInfo("Starting card farming bot swarm")

	history, err := NewHistoryLog()
	if err != nil {
		LogWarning("Failed to initialize history log: %v", err)
		history = nil
	}
	defer history.Close()

	alerts, err := NewAlertSink()
	if err != nil {
		LogWarning("Failed to initialize alert sink: %v", err)
		alerts = nil
	}

	throttle := newConnectThrottle(connectRatePerSec(), connectBurst())
	registry := NewBotRegistry()

	configs, err := ListBotConfigs()
	if err != nil {
		LogError("Failed to list bot configs: %v", err)
		os.Exit(1)
	}
	if len(configs) == 0 {
		LogWarning("No enabled bot configs found in %s", configDir())
	}

	for _, cfg := range configs {
		bot := NewBot(cfg, registry, history, alerts, throttle, nil, nil)
		if !registry.InsertIfAbsent(bot) {
			LogError("Duplicate bot name %s, skipping", cfg.Name)
			continue
		}
		LogInfo("Starting bot %s", cfg.Name)
		bot.Start()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth(registry))
	mux.HandleFunc("/reconnect", handleReconnect(registry))

	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		LogInfo("HTTP status server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			LogError("HTTP server stopped: %v", err)
		}
	}()

	waitForShutdownSignal()

	LogInfo("Shutting down bot swarm...")
	registry.ShutdownAll()
	_ = server.Close()
	LogInfo("Shutdown complete")
}

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func connectRatePerSec() float64 {
	v := os.Getenv("CONNECT_RATE_PER_SEC")
	if v == "" {
		return 1
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		LogWarning("Invalid CONNECT_RATE_PER_SEC=%q, using default of 1", v)
		return 1
	}
	return f
}

func connectBurst() int {
	v := os.Getenv("CONNECT_BURST")
	if v == "" {
		return 3
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		LogWarning("Invalid CONNECT_BURST=%q, using default of 3", v)
		return 3
	}
	return n
}

func handleHealth(registry *BotRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Bots: registry.Snapshot()}
		writeJSON(w, resp)
	}
}

// reconnectResponse is the /reconnect endpoint's payload.
type reconnectResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleReconnect forces a disconnect+reconnect of one bot (?name=) or every
// registered bot when name is omitted. A forced reconnect is a fresh
// Connect() cycle, not a config reload.
func handleReconnect(registry *BotRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name := r.URL.Query().Get("name")
		if name == "" {
			for _, status := range registry.Snapshot() {
				if bot, ok := registry.Get(status.Name); ok {
					bot.platform.Disconnect()
				}
			}
			writeJSON(w, reconnectResponse{Success: true, Message: "reconnect requested for all bots"})
			return
		}

		bot, ok := registry.Get(name)
		if !ok {
			writeJSON(w, reconnectResponse{Success: false, Message: "unknown bot: " + name})
			return
		}
		bot.platform.Disconnect()
		writeJSON(w, reconnectResponse{Success: true, Message: "reconnect requested for " + name})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		LogError("Failed to encode JSON response: %v", err)
	}
}
