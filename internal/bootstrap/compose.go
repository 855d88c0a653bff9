// Package bootstrap wires the service together and runs it until the
// context is cancelled.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"bustrack/internal/booking"
	"bustrack/internal/events"
	"bustrack/internal/shared/auth"
	"bustrack/internal/shared/config"
	db_conn "bustrack/internal/shared/db"
	"bustrack/internal/shared/logger"
	"bustrack/internal/shared/mq"
	"bustrack/internal/shared/ws"
	"bustrack/internal/tracking"
	"bustrack/internal/transit/pgstore"
	"bustrack/internal/transport"
)

func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) {
	log.Info(logger.Entry{Action: "service_starting", Message: "initializing transit tracking service"})

	dbPool, err := db_conn.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal(logger.Entry{
			Action:  "db_connection_failed",
			Message: err.Error(),
			Error:   &logger.ErrObj{Msg: err.Error()},
		})
	}
	defer db_conn.Close(dbPool, log)

	if err := db_conn.Migrate(ctx, dbPool); err != nil {
		log.Fatal(logger.Entry{
			Action:  "db_migration_failed",
			Message: err.Error(),
			Error:   &logger.ErrObj{Msg: err.Error()},
		})
	}

	var broker *mq.RabbitMQ
	if cfg.RabbitMQ.Enabled {
		broker, err = mq.NewRabbitMQ(ctx, cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal(logger.Entry{
				Action:  "rabbitmq_connection_failed",
				Message: err.Error(),
				Error:   &logger.ErrObj{Msg: err.Error()},
			})
		}
		defer broker.Close()

		if err := mq.SetupTopology(broker, log); err != nil {
			log.Error(logger.Entry{
				Action:  "rabbitmq_topology_setup_failed",
				Message: err.Error(),
				Error:   &logger.ErrObj{Msg: err.Error()},
			})
		}
	} else {
		log.Warn(logger.Entry{
			Action:  "rabbitmq_disabled",
			Message: "running without the message broker",
		})
	}

	store := pgstore.NewCachedStore(pgstore.NewStore(dbPool))
	collector := tracking.NewCollector()

	jwtService := auth.NewJWTService(cfg.JWT)
	hub := ws.NewHub(jwtService.ExtractUser, cfg.Tracking.SendBuffer, log)

	locations := tracking.NewLocationStore(cfg.Tracking.HistoryDepth)
	registry := tracking.NewSubscriptionRegistry()

	var eventSink tracking.EventSink
	if broker != nil {
		eventSink = events.NewLocationPublisher(broker)
	}
	broadcaster := tracking.NewBroadcaster(
		locations,
		registry,
		hub,
		store,
		eventSink,
		collector,
		log,
		cfg.Tracking.PersistTimeout,
	)

	etaEngine := tracking.NewETAEngine(locations, store, collector, log)

	notifier := events.NewBookingNotifier(registry, hub, broker, log)
	bookingRepo := booking.NewPgRepository(dbPool)
	bookingService := booking.NewService(bookingRepo, store, booking.NewCapacityLedger(), notifier, log, 0)

	hub.SetMessageHandler(transport.NewWSMessageHandler(broadcaster, hub, collector, log))
	hub.SetOnDisconnect(func(connID string) {
		registry.DropConnection(connID)
		topics, subs := registry.Counts()
		collector.ActiveTopics.Set(float64(topics))
		collector.ActiveSubscriptions.Set(float64(subs))
	})
	hub.SetOnCountChange(func(n int) {
		collector.ActiveConnections.Set(float64(n))
	})
	go hub.Run(ctx)

	httpHandler := transport.NewHTTPHandler(
		broadcaster,
		etaEngine,
		bookingService,
		store,
		jwtService,
		log,
		cfg.Tracking.Freshness,
		cfg.Tracking.HistoryDepth,
	)

	mux := http.NewServeMux()
	httpHandler.RegisterRoutes(mux)
	mux.HandleFunc("GET /ws", hub.ServeWS)

	handler := transport.RequestLogger(log)(mux)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info(logger.Entry{
			Action:  "http_server_starting",
			Message: fmt.Sprintf("listening on %s", addr),
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(logger.Entry{
				Action:  "http_server_failed",
				Message: err.Error(),
				Error:   &logger.ErrObj{Msg: err.Error()},
			})
		}
	}()

	var metricsServer *http.Server
	if cfg.HTTP.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", collector.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.HTTP.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			log.Info(logger.Entry{
				Action:  "metrics_server_starting",
				Message: metricsServer.Addr,
			})
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error(logger.Entry{
					Action:  "metrics_server_failed",
					Message: err.Error(),
					Error:   &logger.ErrObj{Msg: err.Error()},
				})
			}
		}()
	}

	<-ctx.Done()
	log.Info(logger.Entry{Action: "service_stopping", Message: "shutting down"})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(logger.Entry{
			Action:  "http_server_shutdown_failed",
			Message: err.Error(),
			Error:   &logger.ErrObj{Msg: err.Error()},
		})
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	log.Info(logger.Entry{Action: "service_stopped", Message: "transit tracking service stopped"})
}
