package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/niktheblak/web-common/pkg/auth"

	"github.com/niktheblak/tidegauge-uplink-api/internal/ingest"
	"github.com/niktheblak/tidegauge-uplink-api/internal/server"
	"github.com/niktheblak/tidegauge-uplink-api/internal/service"
	"github.com/niktheblak/tidegauge-uplink-api/internal/ttn"
	"github.com/niktheblak/tidegauge-uplink-api/pkg/store"
)

var serverCmd = &cobra.Command{
	Use:          "server",
	Short:        "Start tide gauge API server",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			accessToken  = viper.GetStringSlice("server.token")
			psqlHost     = viper.GetString("postgres.host")
			psqlPort     = viper.GetInt("postgres.port")
			psqlUsername = viper.GetString("postgres.username")
			psqlPassword = viper.GetString("postgres.password")
			psqlDatabase = viper.GetString("postgres.database")
			psqlTable    = viper.GetString("postgres.table")
			mqttBroker   = viper.GetString("mqtt.broker")
		)
		psqlInfo := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			psqlHost,
			psqlPort,
			psqlUsername,
			psqlPassword,
			psqlDatabase,
		)
		logger.LogAttrs(
			cmd.Context(),
			slog.LevelInfo,
			"Connecting to TimescaleDB",
			slog.String("host", psqlHost),
			slog.Int("port", psqlPort),
			slog.String("database", psqlDatabase),
			slog.String("table", psqlTable),
		)
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()
		st, err := store.New(ctx, store.Config{
			ConnString:  psqlInfo,
			Table:       psqlTable,
			CreateTable: viper.GetBool("postgres.create_table"),
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		svc, err := service.New(service.Config{
			Store:  st,
			FPort:  viper.GetInt("uplink.f_port"),
			Logger: logger,
		})
		if err != nil {
			st.Close()
			return err
		}
		var authenticator auth.Authenticator
		if len(accessToken) > 0 {
			logger.Info("Using authentication", "tokens", len(accessToken))
			authenticator = auth.Static(accessToken...)
		} else {
			logger.Info("Not using authentication")
			authenticator = auth.AlwaysAllow()
		}
		var subscriber *ingest.Subscriber
		if mqttBroker != "" {
			subscriber, err = newSubscriber(ctx, svc)
			if err != nil {
				st.Close()
				return err
			}
			connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
			err = subscriber.Connect(connectCtx)
			connectCancel()
			if err != nil {
				st.Close()
				return err
			}
		} else {
			logger.Info("MQTT broker not configured; receiving uplinks via webhook only")
		}
		httpServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", viper.GetInt("server.port")),
			Handler: server.New(svc, authenticator, logger),
		}
		go func() {
			logger.LogAttrs(ctx, slog.LevelInfo, "Starting server", slog.Int("port", viper.GetInt("server.port")))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "err", err)
				cancel()
			}
		}()
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			logger.Info("Shutting down service")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if subscriber != nil {
				subscriber.Disconnect()
			}
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to shut down HTTP server", "err", err)
			}
			if err := st.Close(); err != nil {
				logger.Error("Failed to shut down store", "err", err)
			}
		}()
		wg.Wait()
		return nil
	},
}

func newSubscriber(ctx context.Context, svc service.Service) (*ingest.Subscriber, error) {
	appID := viper.GetString("mqtt.application_id")
	if appID == "" {
		return nil, fmt.Errorf("mqtt.application_id is required when mqtt.broker is set")
	}
	topic := ttn.UplinkTopic(appID, viper.GetString("mqtt.tenant"))
	logger.LogAttrs(
		ctx,
		slog.LevelInfo,
		"Connecting to MQTT broker",
		slog.String("broker", viper.GetString("mqtt.broker")),
		slog.String("topic", topic),
	)
	return ingest.NewSubscriber(ingest.Config{
		Broker:   viper.GetString("mqtt.broker"),
		Username: viper.GetString("mqtt.username"),
		Password: viper.GetString("mqtt.password"),
		ClientID: viper.GetString("mqtt.client_id"),
		Topic:    topic,
		Logger:   logger,
	}, func(ctx context.Context, up ttn.Uplink) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err := svc.Ingest(ctx, up)
		if errors.Is(err, service.ErrIgnoredPort) {
			return nil
		}
		return err
	})
}

func init() {
	serverCmd.Flags().String("postgres.host", "", "host")
	serverCmd.Flags().Int("postgres.port", 0, "port")
	serverCmd.Flags().String("postgres.username", "", "username")
	serverCmd.Flags().String("postgres.password", "", "password")
	serverCmd.Flags().String("postgres.database", "", "database name")
	serverCmd.Flags().String("postgres.table", "", "tide reading table name")
	serverCmd.Flags().Bool("postgres.create_table", false, "create the reading table if it does not exist")
	serverCmd.Flags().Int("server.port", 0, "Server port")
	serverCmd.Flags().StringSlice("server.token", nil, "Allowed API access tokens")
	serverCmd.Flags().String("mqtt.broker", "", "MQTT broker URL, e.g. ssl://eu1.cloud.thethings.network:8883")
	serverCmd.Flags().String("mqtt.username", "", "MQTT username")
	serverCmd.Flags().String("mqtt.password", "", "MQTT password (TTN API key)")
	serverCmd.Flags().String("mqtt.client_id", "", "MQTT client ID")
	serverCmd.Flags().String("mqtt.application_id", "", "TTN application ID")
	serverCmd.Flags().String("mqtt.tenant", "", "TTN tenant (default ttn)")
	serverCmd.Flags().Int("uplink.f_port", 0, "only ingest uplinks on this FPort (0 accepts all)")

	cobra.CheckErr(viper.BindPFlags(serverCmd.Flags()))

	viper.SetDefault("postgres.port", "5432")
	viper.SetDefault("postgres.table", "tide_readings")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mqtt.client_id", "tidegauge-api")

	rootCmd.AddCommand(serverCmd)
}
