package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/Ashish1022/proctor-sub000/internal/app"
	"github.com/Ashish1022/proctor-sub000/internal/db"
)

func main() {
	cfg := app.LoadConfig()

	dbConn, err := db.OpenWithConfig(context.Background(), cfg.DBDSN, db.Config{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
	})
	if err != nil {
		log.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := db.RunMigrations(dbConn); err != nil {
		log.Printf("migration error: %v", err)
		os.Exit(1)
	}

	r := app.NewRouter(cfg, dbConn)

	log.Printf("proctor web listening on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
