package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"sheetServer/backend/internal/cache"
	"sheetServer/backend/internal/httpapi/handlers"
	"sheetServer/backend/internal/sheet"
	"sheetServer/backend/internal/store"
	"sheetServer/backend/internal/ws"
)

type SheetConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Buffer struct {
		FlushIntervalMinutes int `mapstructure:"flushIntervalMinutes"`
	} `mapstructure:"Buffer"`
	Template struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"Template"`
	Cleanup struct {
		MaxAgeDays int `mapstructure:"maxAgeDays"`
	} `mapstructure:"Cleanup"`
}

func initConfig() (*SheetConfig, error) {
	cfg := &SheetConfig{}
	v := viper.New()
	v.SetConfigName("sheetConfig")
	v.SetConfigType("yaml")
	// works whether started from the project root or from backend/
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.Buffer.FlushIntervalMinutes <= 0 {
		cfg.Buffer.FlushIntervalMinutes = 5
	}
	if cfg.Cleanup.MaxAgeDays <= 0 {
		cfg.Cleanup.MaxAgeDays = 30
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	db, err := sql.Open("mysql", cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	kafkaCfg := sarama.NewConfig()
	// SyncProducer requires Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("failed to connect kafka: %v", err)
	}
	defer producer.Close()

	dispatcher := sheet.NewEventDispatcher(
		producer,
		cfg.Kafka.Topic,
		sheet.NewSemaphore(100),
		sheet.EventDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		},
	)

	sheetStore := store.NewSheetStore(db)
	templates := sheet.NewFileTemplateLoader(cfg.Template.Path)
	buffer := sheet.NewBuffer(sheetStore, templates, dispatcher)
	presence := cache.NewRedisPresence(rdb)
	hub := ws.NewHub(buffer, presence)
	manager := ws.NewManager(hub, buffer)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.GET("/ws", manager.WebSocketConnect)
	r.POST("/upload", handlers.Upload(buffer))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// periodic write-back of dirty sheets, independent of edit rate
	flushInterval := time.Duration(cfg.Buffer.FlushIntervalMinutes) * time.Minute
	go func() {
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				buffer.FlushAll(context.Background())
			}
		}
	}()
	log.Printf("buffer flush interval started: every %d minutes", cfg.Buffer.FlushIntervalMinutes)

	// retention sweep: once at startup, then daily
	sweep := func() {
		cutoff := time.Now().AddDate(0, 0, -cfg.Cleanup.MaxAgeDays)
		n, err := sheetStore.DeleteStale(context.Background(), cutoff)
		if err != nil {
			log.Printf("cleanup error: %v", err)
			return
		}
		if n > 0 {
			log.Printf("cleanup: deleted %d sheets not accessed since %s", n, cutoff.Format(time.RFC3339))
		}
	}
	go func() {
		sweep()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()
	log.Printf("cleanup scheduled: threshold %d days", cfg.Cleanup.MaxAgeDays)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}
	go func() {
		log.Printf("sheet server running at http://localhost:%d", cfg.Running.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// unsaved edits must reach the store before the process exits
	buffer.FlushAll(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
}
