// README: Entry point; loads config, wires stores and services, serves HTTP until SIGTERM.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"ridecore/internal/config"
	"ridecore/internal/events"
	httptransport "ridecore/internal/http"
	"ridecore/internal/http/handlers"
	"ridecore/internal/infra"
	"ridecore/internal/maps"
	"ridecore/internal/modules/driver"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/modules/ride"
	"ridecore/internal/modules/tracking"
	"ridecore/internal/storage/memory"
	"ridecore/internal/storage/postgres"
	"ridecore/internal/storage/rtdb"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("RIDECORE_FIREBASE_PROJECT_ID is required")
	}
	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
	if err != nil {
		log.Fatalf("firebase init: %v", err)
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		log.Fatalf("firebase auth: %v", err)
	}

	var (
		rideStore   ride.Store
		driverStore driver.Store = memory.NewDriverStore()
		pricingSvc               = pricing.NewService(nil)
		publishers  events.Fanout
	)
	if cfg.DB.DSN != "" {
		dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatal(err)
		}
		defer dbPool.Close()
		rideStore = postgres.NewRideStore(dbPool)
		driverStore = postgres.NewDriverStore(dbPool)
		pricingSvc = pricing.NewService(pricing.NewStore(dbPool))
		publishers = append(publishers, postgres.NewEventLog(dbPool))
	} else {
		log.Printf("[main] RIDECORE_DB_DSN not set; rides and drivers are kept in memory")
		rideStore = memory.NewRideStore()
	}
	pricingSvc.WithRateName(cfg.Pricing.RateName)

	sinks := []driver.Sink{driver.StoreSink{Store: driverStore}}
	if cfg.Firebase.DatabaseURL != "" {
		rtdbClient, err := infra.NewRTDB(ctx, app)
		if err != nil {
			log.Fatal(err)
		}
		sinks = append(sinks, driver.StoreSink{Store: rtdb.NewDriverStore(rtdbClient)})
	}
	if cfg.Redis.Addr != "" {
		redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			log.Fatal(err)
		}
		defer redisClient.Close()
		sinks = append(sinks, driver.NewGeoIndex(redisClient))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.Kafka.Brokers)
		if err := kafka.EnsureTopics(ctx, 5); err != nil {
			log.Printf("[main] kafka topics: %v", err)
		}
		defer kafka.Close()
		publishers = append(publishers, kafka)
	}

	directory := driver.NewDirectory(sinks...)
	if err := directory.Load(ctx, driverStore); err != nil {
		log.Fatal(err)
	}

	var (
		router ride.Router
		places handlers.PlaceFinder
	)
	if cfg.Maps.APIKey != "" {
		routeSvc, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		placesSvc, err := maps.NewPlacesService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		router, places = routeSvc, placesSvc
	} else {
		log.Printf("[main] RIDECORE_MAPS_API_KEY not set; ride requests must carry their own route estimate")
	}

	rideSvc := ride.NewService(rideStore, pricingSvc, ride.Deps{
		Router:  router,
		Drivers: directory,
		Events:  publishers,
	})

	trackingMgr := tracking.NewManager(directory, tracking.Config{
		MinInterval:           cfg.Tracking.MinInterval,
		MinDisplacementMeters: cfg.Tracking.MinDisplacementMeters,
	}, cfg.Tracking.FeedBuffer)

	gin.SetMode(gin.ReleaseMode)
	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Rides:           rideSvc,
		Directory:       directory,
		Tracking:        trackingMgr,
		Places:          places,
		Verifier:        verifier,
		DefaultRadiusKm: cfg.Directory.DefaultRadiusKm,
	})

	server := httptransport.NewServer(cfg.HTTP.Addr, handler, cfg.HTTP.ShutdownTimeout)
	if err := server.Run(ctx); err != nil {
		log.Printf("[main] server: %v", err)
	}
	trackingMgr.StopAll()
	log.Printf("[main] stopped")
}
