package main

import (
	"context"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"gamevault/internal/authsrv"
	"gamevault/internal/config"
	"gamevault/internal/httpapi"
	"gamevault/internal/ingest"
	"gamevault/internal/ingestworker"
	"gamevault/internal/queue"
	"gamevault/internal/steamenrich"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	q, err := queue.New(db)
	if err != nil {
		log.Fatalf("init queue: %v", err)
	}

	users := authsrv.NewStore(filepath.Join(cfg.BaseDir, "users.yaml"))
	if err := users.Load(); err != nil {
		log.Fatalf("load users: %v", err)
	}

	publisher := &ingest.Publisher{BaseDir: cfg.BaseDir, Enricher: steamenrich.New()}
	worker := &ingestworker.Worker{BaseDir: cfg.BaseDir, Queue: q, Publisher: publisher}

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	go worker.Run(workerCtx, 5*time.Second)

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-API-Key", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	server := &httpapi.Server{BaseDir: cfg.BaseDir, Users: users, Queue: q, SignSecret: []byte(cfg.SignSecret)}
	server.Register(router)

	if err := router.Run("0.0.0.0:" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
