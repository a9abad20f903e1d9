package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"api_negotiations/internal/discount"
	"api_negotiations/internal/listing"
	"api_negotiations/internal/negotiation"
	"api_negotiations/internal/policy"
	"api_negotiations/internal/sweeper"
)

// InitRoutes registers all negotiation engine endpoints on the given Gin
// engine. It initializes storage (MySQL when MYSQL_HOST is set, in-memory
// otherwise), the services and the handler, binds each HTTP method and
// path, and starts the background expiry sweeper.
func InitRoutes(e *gin.Engine) {
	listingServiceURL := os.Getenv("LISTING_SERVICE_URL")
	if listingServiceURL == "" {
		listingServiceURL = "http://localhost:8080/listings"
	}
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	negotiationStorage, codeStorage := initStorage(logger)

	// Inicialización de la lógica de negociación
	issuer := discount.NewIssuer(codeStorage, logger)
	scanner := policyScanner()
	service := negotiation.NewService(negotiationStorage, listing.NewClient(listingServiceURL), issuer, scanner, logger)
	handler := NewNegotiationHandler(service, issuer, logger)

	sw := sweeper.New(service, issuer, logger, 0)
	go sw.Run(context.Background())

	bindRoutes(e, handler, sw)
}

// InitRoutes2 wires everything against in-memory storage and a caller
// supplied listing service URL. The sweeper is created for the health
// endpoint but not started; tests drive sweeps themselves.
func InitRoutes2(e *gin.Engine, listingServiceURL string) {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Inicialización de la lógica de negociación
	issuer := discount.NewIssuer(discount.NewLocalStorage(), logger)
	scanner := policyScanner()
	service := negotiation.NewService(negotiation.NewLocalStorage(), listing.NewClient(listingServiceURL), issuer, scanner, logger)
	handler := NewNegotiationHandler(service, issuer, logger)

	sw := sweeper.New(service, issuer, logger, 0)

	bindRoutes(e, handler, sw)
}

func bindRoutes(e *gin.Engine, handler *negotiationHandler, sw *sweeper.Sweeper) {
	e.POST("/negotiations", handler.handleCreateNegotiation)
	e.POST("/negotiations/:id/offers", handler.handleSubmitOffer)
	e.POST("/negotiations/:id/accept", handler.AcceptNegotiationHandler(handler.service))
	e.POST("/negotiations/:id/reject", handler.handleRejectNegotiation)
	e.POST("/negotiations/:id/cancel", handler.handleCancelNegotiation)
	e.GET("/negotiations/:id", handler.handleGetNegotiation)
	e.GET("/negotiations", handler.handleListNegotiations)
	e.POST("/discount-codes/:code/redeem", handler.handleRedeemCode)

	e.GET("/healthz", func(c *gin.Context) {
		if !sw.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "sweeper cannot reach storage"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	e.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
}

// policyScanner builds the scanner with the platform's own hosts allowed,
// so links back into the marketplace are not flagged as redirects.
func policyScanner() *policy.Scanner {
	hosts := os.Getenv("PLATFORM_HOSTS")
	if hosts == "" {
		return policy.NewScanner("marketplace.local")
	}
	return policy.NewScanner(hosts)
}

// initStorage picks MySQL when MYSQL_HOST is set, in-memory otherwise.
func initStorage(logger *zap.Logger) (negotiation.Storage, discount.Storage) {
	host := os.Getenv("MYSQL_HOST")
	if host == "" {
		return negotiation.NewLocalStorage(), discount.NewLocalStorage()
	}

	user := os.Getenv("MYSQL_USER")
	if user == "" {
		user = "user"
	}
	pwd := os.Getenv("MYSQL_PWD")
	if pwd == "" {
		pwd = "password"
	}
	dbName := os.Getenv("MYSQL_DATABASE")
	if dbName == "" {
		dbName = "negotiations_db"
	}

	dsn := fmt.Sprintf("%s:%s@%s/%s?parseTime=true&loc=Local", user, pwd, host, dbName)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		logger.Fatal("failed to open MySQL connection", zap.Error(err))
	}
	if err := db.Ping(); err != nil {
		logger.Fatal("failed to connect to MySQL", zap.Error(err))
	}

	negotiationStorage := negotiation.NewMySQLStorage(db)
	codeStorage := discount.NewMySQLStorage(db)
	if err := negotiationStorage.EnsureSchema(); err != nil {
		logger.Fatal("failed to create negotiations table", zap.Error(err))
	}
	if err := codeStorage.EnsureSchema(); err != nil {
		logger.Fatal("failed to create discount_codes table", zap.Error(err))
	}
	return negotiationStorage, codeStorage
}
