package main

import (
	"context"
	"flag"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"excalidraw-docsync/core"
	"excalidraw-docsync/docsync"
	"excalidraw-docsync/handlers/api/records"
	"excalidraw-docsync/handlers/api/versions"
	"excalidraw-docsync/handlers/websocket"
	"excalidraw-docsync/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const shutdownTimeout = 10 * time.Second

type roomInfo struct {
	ID         string `json:"id"`
	Users      int    `json:"users"`
	Open       bool   `json:"open"`
	LastActive int64  `json:"lastActive,omitempty"`
}

func setupRouter(registry *docsync.Registry, history core.HistoryStore) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowedOrigins: []string{"tauri://localhost"},
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "" {
				return false
			}

			parsed, err := url.Parse(origin)
			if err != nil {
				return false
			}

			switch parsed.Scheme {
			case "http", "https":
				switch parsed.Hostname() {
				case "localhost", "127.0.0.1", "[::1]":
					return true
				}
			case "tauri":
				return parsed.Hostname() == "localhost"
			}

			return false
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	r.Use(cors.Handler(corsOptions))

	r.Route("/api/v2", func(r chi.Router) {
		r.Get("/documents", records.HandleListDocuments(registry))
		r.Route("/documents/{id}", func(r chi.Router) {
			r.Get("/", records.HandleGet(registry))
			r.Put("/", records.HandleSave(registry))
			r.Put("/scene", records.HandleEditScene(registry))
			r.Post("/new", records.HandleNew(registry))
			r.Post("/flush", records.HandleFlush(registry))
			r.Post("/import", records.HandleImport(registry))
			r.Get("/export", records.HandleExport(registry))
			r.Get("/mode", records.HandleGetMode(registry))
			r.Put("/mode", records.HandleSetMode(registry))

			if history != nil {
				r.Get("/versions", versions.HandleListVersions(history))
				r.Get("/versions/count", versions.HandleGetVersionCount(history))
			}
		})

		if history != nil {
			r.Route("/versions/{versionId}", func(r chi.Router) {
				r.Get("/", versions.HandleGetVersion(history))
				r.Post("/restore", versions.HandleRestoreVersion(history, registry))
			})
		}
	})

	if history != nil {
		logrus.Info("Version API routes registered")
	} else {
		logrus.Warn("Version API not available - requires SQLite storage")
	}

	r.Get("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		rooms := make(map[string]*roomInfo)
		for id, count := range websocket.GetActiveRooms() {
			rooms[id] = &roomInfo{ID: id, Users: count}
		}

		docs, err := registry.ListDocuments(r.Context())
		if err != nil {
			logrus.WithError(err).Warn("failed to list documents")
		}
		for _, doc := range docs {
			entry, ok := rooms[doc.ID]
			if !ok {
				entry = &roomInfo{ID: doc.ID}
				rooms[doc.ID] = entry
			}
			entry.Open = doc.Open
			entry.LastActive = doc.LastActive
		}

		list := make([]roomInfo, 0, len(rooms))
		for _, entry := range rooms {
			list = append(list, *entry)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Users != list[j].Users {
				return list[i].Users > list[j].Users
			}
			if list[i].LastActive != list[j].LastActive {
				return list[i].LastActive > list[j].LastActive
			}
			return list[i].ID < list[j].ID
		})

		render.JSON(w, r, list)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// durationEnv reads a millisecond duration from the environment.
func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		logrus.WithFields(logrus.Fields{"name": name, "value": raw}).Warn("Ignoring invalid duration")
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func syncOptions() []docsync.Option {
	return []docsync.Option{
		docsync.WithDebounce(durationEnv("SAVE_DEBOUNCE_MS", docsync.DefaultDebounce)),
		docsync.WithMinInterval(durationEnv("SAVE_MIN_INTERVAL_MS", docsync.DefaultMinInterval)),
		docsync.WithSettle(durationEnv("SYNC_SETTLE_MS", docsync.DefaultSettle)),
	}
}

func waitForShutdown(ioo *socketio.Server, registry *docsync.Registry, store stores.Store) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	ioo.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := registry.Close(ctx); err != nil {
		logrus.WithError(err).Error("Failed to flush pending writes")
	}
	if err := stores.Close(store); err != nil {
		logrus.WithError(err).Error("Failed to close store")
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	store := stores.GetStore()
	registry := docsync.NewRegistry(store, syncOptions()...)
	history, _ := stores.History(store)

	r := setupRouter(registry, history)
	ioo := websocket.SetupSocketIO(registry)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo, registry, store)
}
