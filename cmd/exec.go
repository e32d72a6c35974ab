package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
	"github.com/shopspring/decimal"

	"slot-booking/config"
	"slot-booking/internal/handlers"
	"slot-booking/internal/services"
	"slot-booking/internal/services/gateway"
	"slot-booking/internal/store"
	"slot-booking/models"
	"slot-booking/monitoring"
	"slot-booking/security"
	"slot-booking/utils"

	_ "slot-booking/migrations"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	slotStore := store.NewRedisStore(redisClient, cfg.MaxTxRetries)

	// Initialize the notifier; without PubNub keys outcomes go to the log.
	var notifier services.Notifier = services.LogNotifier{}
	if cfg.PubNubPublishKey != "" {
		pnConfig := pubnub.NewConfig()
		pnConfig.PublishKey = cfg.PubNubPublishKey
		pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
		pnConfig.SecretKey = cfg.PubNubSecretKey

		notifier = services.NewPubNubNotifier(pubnub.NewPubNub(pnConfig))
	}

	gatewayClient := gateway.NewHTTPClient(&gateway.ClientConfig{
		BaseURL: cfg.GatewayBaseURL,
		APIKey:  cfg.GatewayAPIKey,
		HMACKey: cfg.GatewayHMACKey,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services
	bookingService := services.NewBookingService(slotStore)
	paymentService := services.NewPaymentService(slotStore, gatewayClient, cfg)
	refundService := services.NewRefundService(slotStore, paymentService, notifier)
	cleanupService := services.NewCleanupService(slotStore, bookingService, cfg)

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(app, slotStore, bookingService, refundService, notifier)
	paymentHandler := handlers.NewPaymentHandler(app, slotStore, paymentService)
	refundHandler := handlers.NewRefundHandler(slotStore, paymentService, refundService)
	adminHandler := handlers.NewAdminHandler(slotStore, refundService)

	rateLimiter := security.NewRateLimiter(redisClient, cfg.BookingRateLimit, cfg.BookingRateWindow)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Start background tasks
	go cleanupService.Run(ctx)
	monitoring.NewMonitor(slotStore)

	if cfg.EnableMetrics {
		go serveMetrics(cfg.MetricsPort)
	}

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		syncActiveSlotsToRedis(app, slotStore)

		// Booking endpoints
		e.Router.POST("/api/v1/bookings", bookingHandler.CreateBooking).
			BindFunc(rateLimiter.AntiBotMiddleware()).
			BindFunc(rateLimiter.BookingRateLimit())
		e.Router.POST("/api/v1/bookings/{bookingId}/cancel", bookingHandler.CancelBooking)
		e.Router.GET("/api/v1/bookings/history", bookingHandler.GetBookingHistory)
		e.Router.GET("/api/v1/bookings/{bookingId}/refund-quote", refundHandler.GetRefundQuote)
		e.Router.GET("/api/v1/bookings/{bookingId}/refund-eligibility", refundHandler.GetRefundEligibility)

		// Payment endpoints
		e.Router.POST("/api/v1/payments", paymentHandler.ProcessPayment)
		e.Router.POST("/api/v1/payments/{paymentId}/retry", paymentHandler.RetryPayment)
		e.Router.POST("/api/v1/payments/{paymentId}/cancel", paymentHandler.CancelPayment)
		e.Router.GET("/api/v1/payments/{paymentId}/status", paymentHandler.GetPaymentStatus)
		e.Router.POST("/api/v1/payments/{paymentId}/refunds", refundHandler.ProcessRefund)

		// Admin endpoints
		e.Router.POST("/api/v1/admin/batch-refunds", adminHandler.ProcessBatchRefunds)
		e.Router.GET("/api/v1/admin/slots", adminHandler.GetSlotDashboard)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		setupSlotHooks(app, slotStore)

		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// syncActiveSlotsToRedis mirrors the admin-managed time_slots catalog
// into the store at serve time; the hooks keep it fresh afterwards.
func syncActiveSlotsToRedis(app *pocketbase.PocketBase, s store.Store) {
	ctx := context.Background()

	var records []dbx.NullStringMap
	if err := app.DB().NewQuery(
		"SELECT id, date, start_at, end_at, type, item_id, max_capacity, current_bookings, is_available, override_price FROM time_slots WHERE is_available = TRUE",
	).All(&records); err != nil {
		log.Printf("Error fetching active time slots: %v", err)
		return
	}

	synced := 0
	for _, record := range records {
		slot := slotFromRow(record)
		if slot.ID == "" {
			continue
		}
		if err := s.SaveSlot(ctx, slot); err != nil {
			slog.Error("sync slot to store", "slot_id", slot.ID, "error", err)
			continue
		}
		synced++
	}
	log.Printf("Synced %d active time slots to Redis", synced)
}

func slotFromRow(row dbx.NullStringMap) *models.TimeSlot {
	slot := &models.TimeSlot{
		ID:     row["id"].String,
		Date:   row["date"].String,
		Type:   models.SlotType(row["type"].String),
		ItemID: row["item_id"].String,
	}
	slot.StartAt, _ = time.Parse(time.RFC3339, row["start_at"].String)
	slot.EndAt, _ = time.Parse(time.RFC3339, row["end_at"].String)
	if v := row["max_capacity"].String; v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			slot.MaxCapacity = int(d.IntPart())
		}
	}
	if v := row["current_bookings"].String; v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			slot.CurrentBookings = int(d.IntPart())
		}
	}
	slot.IsAvailable = row["is_available"].String == "TRUE" || row["is_available"].String == "1" || row["is_available"].String == "true"
	if v := row["override_price"].String; v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			slot.OverridePrice = &d
		}
	}
	return slot
}

func setupSlotHooks(app *pocketbase.PocketBase, s store.Store) {
	app.OnRecordCreateRequest("time_slots").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := e.Next(); err != nil {
			return err
		}
		mirrorSlotRecord(e.Request.Context(), s, e.Record)
		return nil
	})

	app.OnRecordUpdateRequest("time_slots").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := e.Next(); err != nil {
			return err
		}
		mirrorSlotRecord(e.Request.Context(), s, e.Record)
		return nil
	})

	app.OnRecordDeleteRequest("time_slots").BindFunc(func(e *core.RecordRequestEvent) error {
		if err := e.Next(); err != nil {
			return err
		}
		if err := s.DeleteSlot(e.Request.Context(), e.Record.Id); err != nil {
			slog.Error("remove deleted slot from store", "slot_id", e.Record.Id, "error", err)
			return nil
		}
		slog.Info("removed deleted slot from store", "slot_id", e.Record.Id)
		return nil
	})
}

// mirrorSlotRecord pushes a catalog record into the store without
// clobbering the live booking counter.
func mirrorSlotRecord(ctx context.Context, s store.Store, record *core.Record) {
	slot := &models.TimeSlot{
		ID:          record.Id,
		Date:        record.GetString("date"),
		StartAt:     record.GetDateTime("start_at").Time(),
		EndAt:       record.GetDateTime("end_at").Time(),
		Type:        models.SlotType(record.GetString("type")),
		ItemID:      record.GetString("item_id"),
		MaxCapacity: record.GetInt("max_capacity"),
		IsAvailable: record.GetBool("is_available"),
	}
	if v := record.GetString("override_price"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			slot.OverridePrice = &d
		}
	}

	if existing, err := s.GetSlot(ctx, slot.ID); err == nil {
		slot.CurrentBookings = existing.CurrentBookings
	}

	if err := s.SaveSlot(ctx, slot); err != nil {
		slog.Error("mirror slot to store", "slot_id", slot.ID, "error", err)
		return
	}
	slog.Info("mirrored slot to store", "slot_id", slot.ID, "is_available", slot.IsAvailable)
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("Metrics listening on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Printf("Metrics server stopped: %v", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
