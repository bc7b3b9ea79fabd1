package main

import (
	"flag"
	"os"
	"time"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/valutatrade/valutatrade-hub/internal/config"
	"github.com/valutatrade/valutatrade-hub/internal/engine"
	"github.com/valutatrade/valutatrade-hub/internal/handlers"
	"github.com/valutatrade/valutatrade-hub/internal/rates"
	"github.com/valutatrade/valutatrade-hub/internal/storages"
	"github.com/valutatrade/valutatrade-hub/internal/storages/jsonfile"
	"github.com/valutatrade/valutatrade-hub/internal/storages/postgres"
)

var logger = logrus.New()

func init() {
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

func main() {
	configPath := flag.String("c", "config.env", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	logger.WithField("config", cfg).Info("configuration loaded")

	var store storages.Storage
	switch cfg.StorageDriver {
	case "postgres":
		store, err = postgres.NewStorage(cfg.DBConfig)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to database")
		}
	case "json":
		store, err = jsonfile.NewStore(cfg.DataDir)
		if err != nil {
			logger.WithError(err).Fatal("failed to open ledger store")
		}
	default:
		logger.WithField("driver", cfg.StorageDriver).Fatal("unknown storage driver")
	}
	logger.WithField("driver", cfg.StorageDriver).Info("ledger storage ready")

	table := rates.DefaultTable()
	oracle := rates.NewCached(table, 5*time.Minute)
	eng := engine.New(store, oracle, cfg.ReferenceCurrency)

	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(loggingMiddleware())

	h := handlers.NewHandler(store, eng, table, cfg)

	api := router.Group("/api/v1")
	{
		api.POST("/register", h.Register)
		api.POST("/login", h.Login)

		auth := api.Group("", h.AuthMiddleware())
		{
			auth.GET("/portfolio", h.GetPortfolio)
			auth.POST("/wallet/deposit", h.Deposit)
			auth.POST("/trade/buy", h.Buy)
			auth.POST("/trade/sell", h.Sell)
			auth.GET("/exchange/rates", h.GetRates)
			auth.GET("/exchange/rate", h.GetRate)
		}
	}

	logger.WithField("port", cfg.HTTPPort).Info("starting HTTP server")
	if err := router.Run(cfg.HTTPPort); err != nil {
		logger.WithError(err).Fatal("failed to run server")
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   path,
		}).Info("request received")

		c.Next()

		duration := time.Since(start)
		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": duration,
		}

		if len(c.Errors) > 0 {
			logger.WithFields(fields).WithError(c.Errors.Last()).Error("request failed")
		} else {
			logger.WithFields(fields).Info("request completed")
		}
	}
}
