package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradepost-labs/tradepost-backend/api/controllers"
	webhookcontrollers "github.com/tradepost-labs/tradepost-backend/api/controllers/webhooks"
	"github.com/tradepost-labs/tradepost-backend/api/middleware"
	checkoutsvc "github.com/tradepost-labs/tradepost-backend/internal/checkout"
	"github.com/tradepost-labs/tradepost-backend/internal/inventory"
	"github.com/tradepost-labs/tradepost-backend/internal/ledger"
	"github.com/tradepost-labs/tradepost-backend/internal/listings"
	"github.com/tradepost-labs/tradepost-backend/internal/orders"
	"github.com/tradepost-labs/tradepost-backend/internal/payments"
	"github.com/tradepost-labs/tradepost-backend/internal/payouts"
	"github.com/tradepost-labs/tradepost-backend/pkg/config"
	"github.com/tradepost-labs/tradepost-backend/pkg/db"
	"github.com/tradepost-labs/tradepost-backend/pkg/logger"
	"github.com/tradepost-labs/tradepost-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	checkoutService checkoutsvc.Service,
	orderService orders.Service,
	inventoryService inventory.Service,
	listingService listings.Service,
	paymentService payments.Service,
	payoutService payouts.Service,
	ledgerService ledger.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Get("/listings/{listingId}", controllers.ListingGet(listingService, logg))
		r.Get("/inventory/{listingId}", controllers.InventoryAvailability(inventoryService, logg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentWebhook(paymentService, cfg.Provider.WebhookSigningSecret, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Post("/checkout", controllers.Checkout(checkoutService, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(orderService, logg))
			r.Get("/{orderId}", controllers.OrderGet(orderService, logg))
			r.Post("/{orderId}/cancel", controllers.OrderCancel(orderService, logg))
			r.Post("/{orderId}/accept", controllers.OrderAccept(orderService, logg))
			r.Post("/{orderId}/ship", controllers.OrderShip(orderService, logg))
			r.Post("/{orderId}/deliver", controllers.OrderDeliver(orderService, logg))
			r.Post("/{orderId}/return", controllers.OrderReturn(orderService, logg))
		})

		r.Route("/listings", func(r chi.Router) {
			r.Post("/", controllers.ListingCreate(listingService, logg))
			r.Get("/", controllers.ListingListMine(listingService, logg))
			r.Get("/{listingId}", controllers.ListingGet(listingService, logg))
			r.Delete("/{listingId}", controllers.ListingArchive(listingService, logg))
		})

		r.Get("/inventory/{listingId}", controllers.InventoryAvailability(inventoryService, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Get("/{intentId}", controllers.PaymentIntentGet(paymentService, logg))
			r.Post("/{intentId}/confirm", controllers.PaymentConfirm(paymentService, logg))
			r.Post("/{intentId}/refund", controllers.PaymentRefund(paymentService, logg))
		})

		r.Route("/payouts", func(r chi.Router) {
			r.Get("/balance", controllers.PayoutBalance(ledgerService, logg))
			r.Get("/history", controllers.PayoutHistory(ledgerService, logg))
			r.Route("/methods", func(r chi.Router) {
				r.Post("/", controllers.PayoutMethodAdd(payoutService, logg))
				r.Get("/", controllers.PayoutMethodList(payoutService, logg))
				r.Post("/{methodId}/default", controllers.PayoutMethodSetDefault(payoutService, logg))
				r.Delete("/{methodId}", controllers.PayoutMethodDelete(payoutService, logg))
				r.Post("/{methodId}/verification/send", controllers.PayoutVerificationSend(payoutService, logg))
				r.Post("/{methodId}/verification/verify", controllers.PayoutVerificationVerify(payoutService, logg))
			})
		})
	})

	return r
}
