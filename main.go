package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ecomapp/internal/handlers"
	"ecomapp/internal/middleware"
	"ecomapp/internal/models"
	"ecomapp/internal/repositories"
	"ecomapp/internal/services"
	"ecomapp/pkg/events"
)

// NewApp wires configuration, storage, services, and routes into a Fiber app.
// With DATABASE_DSN set it runs on Postgres; without it, on the in-memory
// store with seeded demo products. A RabbitMQ broker is optional: when
// RABBITMQ_URL is unset or unreachable, order events are skipped and placed
// orders simply stay pending.
func NewApp() (*fiber.App, *services.AuthService, error) {
	viper.SetDefault("APP_PORT", ":8080")
	viper.SetDefault("JWT_SECRET", "dev_jwt_secret")
	viper.SetDefault("LOCK_WAIT_TIMEOUT", "5s")
	viper.AutomaticEnv()

	lockWait := viper.GetDuration("LOCK_WAIT_TIMEOUT")

	var (
		productRepo repositories.ProductRepository
		orderRepo   repositories.OrderRepository
		userRepo    repositories.UserRepository
		txManager   repositories.TxManager
	)

	if dsn := viper.GetString("DATABASE_DSN"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, nil, err
		}
		if err := db.AutoMigrate(&models.Product{}, &models.Order{}, &models.User{}); err != nil {
			return nil, nil, err
		}
		productRepo = repositories.NewGORMProductRepository(db)
		orderRepo = repositories.NewGORMOrderRepository(db)
		userRepo = repositories.NewGORMUserRepository(db)
		txManager = repositories.NewGormTxManager(db, lockWait)
	} else {
		log.Println("DATABASE_DSN not set, using in-memory store")
		store := repositories.NewMemoryStore(lockWait)
		productRepo = repositories.NewMemoryProductRepository(store)
		orderRepo = repositories.NewMemoryOrderRepository(store)
		userRepo = repositories.NewMemoryUserRepository(store)
		txManager = repositories.NewMemoryTxManager(store)
		seedProducts(productRepo)
	}

	productService := services.NewProductService(productRepo)
	authService := services.NewAuthService(userRepo, viper.GetString("JWT_SECRET"))

	var publisher services.OrderEventPublisher
	if mqURL := viper.GetString("RABBITMQ_URL"); mqURL != "" {
		mqClient, err := events.NewClient(events.Config{URL: mqURL})
		if err != nil {
			log.Printf("RabbitMQ unavailable, continuing without order events: %v", err)
		} else {
			publisher = mqClient
		}
	}

	orderService := services.NewOrderService(orderRepo, txManager, publisher, services.LogAuditSink{})

	// The consumer is the fulfillment side of the pending -> completed
	// status transition. It runs only when a broker is connected.
	if mqClient, ok := publisher.(*events.Client); ok {
		err := mqClient.ConsumeOrderEvents(func(event events.OrderCreatedEvent) error {
			return orderService.UpdateOrderStatus(event.OrderID, models.OrderStatusCompleted)
		})
		if err != nil {
			log.Printf("Failed to start order event consumer: %v", err)
		}
	}

	productHandler := handlers.NewProductHandler(productService)
	orderHandler := handlers.NewOrderHandler(orderService)
	authHandler := handlers.NewAuthHandler(authService)

	app := fiber.New()
	app.Use(logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	apiV1 := app.Group("/api/v1")
	authHandler.RegisterRoutes(apiV1)

	protected := apiV1.Group("", middleware.AuthRequired(authService))
	productHandler.RegisterRoutes(protected)
	orderHandler.RegisterRoutes(protected)

	return app, authService, nil
}

func main() {
	app, _, err := NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	appPort := viper.GetString("APP_PORT")
	log.Printf("Starting server on port %s", appPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(appPort); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Error during Fiber shutdown: %v", err)
	}
	log.Println("Server gracefully stopped")
}

// seedProducts populates the in-memory catalog for local development.
func seedProducts(repo repositories.ProductRepository) {
	products := []models.Product{
		{Name: "Laptop", Description: "High performance laptop", Price: 1200.00, Stock: 10},
		{Name: "Keyboard", Description: "Mechanical keyboard", Price: 75.00, Stock: 25},
		{Name: "Mouse", Description: "Ergonomic wireless mouse", Price: 25.00, Stock: 50},
	}
	for i := range products {
		if err := repo.Create(&products[i]); err != nil {
			log.Printf("Error seeding product %s: %v", products[i].Name, err)
		}
	}
}
