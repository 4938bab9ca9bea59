package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"doppa/internal/api"
	"doppa/internal/logger"
	"doppa/internal/postgres"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the release catalog over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfiguration()
			if err != nil {
				return err
			}
			log := logger.For("server")

			db, err := postgres.Open(cfg.DBUrl, logger.For("postgres"))
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			r := gin.Default()

			// Configure API routes
			config := map[string]string{
				"port":     cfg.Port,
				"dbUrl":    cfg.DBUrl,
				"redisUrl": cfg.RedisUrl,
			}
			api.SetupRouter(r, config, postgres.NewCatalog(db, logger.For("catalog")), log)

			srv := &http.Server{Addr: cfg.Port, Handler: r}
			go func() {
				<-cmd.Context().Done()
				log.Info("Shutdown signal received, stopping server")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()

			log.Infof("Listening on %s", cfg.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().String("port", ":8080", "Listen address")
	bindFlags(cmd, map[string]string{"PORT": "port"})

	return cmd
}
