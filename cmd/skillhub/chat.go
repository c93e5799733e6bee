package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"skillhub/internal/core/domain"
	"skillhub/internal/core/services"
	httphandler "skillhub/internal/handlers/http"
	"skillhub/internal/handlers/tui"
	"skillhub/internal/infrastructure/api"
	"skillhub/internal/infrastructure/monitoring"
	"skillhub/internal/infrastructure/signal"
	"skillhub/internal/infrastructure/webrtc"
	"skillhub/pkg/circuitbreaker"
	apperrors "skillhub/pkg/errors"
	"skillhub/pkg/validation"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	pionwebrtc "github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func chatCmd(a *app) *cobra.Command {
	var peerID, peerName string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open a chat with another user",
		Long:  "Open the chat view with another user. Calls are started and answered from inside the view.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateUserID(peerID); err != nil {
				return err
			}
			if cmd.Flags().Changed("peer-name") {
				if err := validation.ValidateDisplayName(peerName); err != nil {
					return fmt.Errorf("--peer-name: %w", err)
				}
				peerName = strings.TrimSpace(peerName)
			}
			if err := a.setup(filepath.Join(os.TempDir(), "skillhub.log")); err != nil {
				return err
			}
			defer a.close()
			return runChat(cmd.Context(), a, domain.UserID(peerID), peerName)
		},
	}

	cmd.Flags().StringVar(&peerID, "peer-id", "", "ID of the user to chat with")
	cmd.Flags().StringVar(&peerName, "peer-name", "", "display name of the user (looked up when omitted)")
	_ = cmd.MarkFlagRequired("peer-id")
	return cmd
}

func runChat(parent context.Context, a *app, peerID domain.UserID, peerName string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := ossignal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	log := a.logger.Sugar()

	stored, err := a.loadSession()
	if err != nil {
		return err
	}
	self := stored.User
	if self.ID == peerID {
		return apperrors.NewInvalidInputError("cannot chat with yourself")
	}

	client := a.apiClient(stored.Token)
	peer := resolvePeer(ctx, client, self.ID, peerID, peerName)

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewPrometheusCollector(registry)

	iceServers := make([]pionwebrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, pionwebrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	peerCfg := webrtc.Config{ICEServers: iceServers}
	peerCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	peerCfg.PortRange.Max = cfg.WebRTC.PortRange.Max

	peers, err := webrtc.NewPeerFactory(peerCfg, log.Named("webrtc"))
	if err != nil {
		return err
	}

	dialer := signal.NewDialer(signal.Config{
		ConnectTimeout: cfg.Relay.ConnectTimeout,
		PingInterval:   cfg.Relay.PingInterval,
		PongTimeout:    cfg.Relay.PongTimeout,
		WriteTimeout:   cfg.Relay.WriteTimeout,
		MaxMessageSize: cfg.Relay.MaxMessageSizeBytes,
	}, log.Named("relay"))

	notifier := tui.NewNotifier()

	session := services.NewSession(services.SessionConfig{
		ServerAddress:     cfg.Relay.URL,
		HistoryTimeout:    cfg.API.HistoryTimeout,
		ConnectTimeout:    cfg.Relay.ConnectTimeout,
		MaxMessageLength:  cfg.Chat.MaxMessageLength,
		MessagesPerSecond: cfg.Chat.MessagesPerSecond,
		Burst:             cfg.Chat.Burst,
		VideoEnabled:      cfg.Media.VideoEnabled,
		AudioEnabled:      cfg.Media.AudioEnabled,
	}, services.SessionDeps{
		Dialer:  dialer,
		History: client,
		Media: webrtc.NewFileMediaDevices(webrtc.MediaConfig{
			VideoFile: cfg.Media.VideoFile,
			AudioFile: cfg.Media.AudioFile,
		}, log.Named("media")),
		Peers:    peers,
		Notifier: notifier,
		Metrics:  metrics,
		Logger:   log.Named("session"),
	}, self, peer)
	defer session.Close()

	if err := session.Open(ctx); err != nil {
		if !apperrors.IsCode(err, apperrors.ErrCodeConnectivity) {
			return err
		}
		log.Warnw("chat opened without relay connection", "error", err)
	}

	go func() {
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("session stopped", "error", err)
		}
	}()

	if cfg.Monitoring.Enabled {
		health := monitoring.NewHealthChecker()
		health.AddRelayCheck(func() bool { return session.Snapshot().Connected })
		health.AddCheck("api", func(ctx context.Context) (bool, error) {
			if !client.Available() {
				return false, circuitbreaker.ErrOpen
			}
			return true, nil
		}, time.Second)

		gin.SetMode(gin.ReleaseMode)
		router := httphandler.NewRouter(
			httphandler.NewStatusHandler(session, health, registry),
			log.Named("status"),
			cfg.Monitoring.RateLimit.RequestsPerSecond,
			cfg.Monitoring.RateLimit.Burst,
		)
		go serveStatus(ctx, cfg.Monitoring.Address, router, log.Named("status"))
	}

	program := tea.NewProgram(
		tui.NewModel(ctx, session, notifier.Notifications()),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat view failed: %w", err)
	}
	return nil
}

// resolvePeer fills in the peer's profile from the user directory. A failed
// lookup falls back to the name given on the command line.
func resolvePeer(ctx context.Context, users *api.Client, self, peerID domain.UserID, peerName string) domain.User {
	peer := domain.User{ID: peerID, Name: peerName}

	list, err := users.ListUsers(ctx, self)
	if err != nil {
		return peer
	}
	for _, u := range list {
		if u.ID == peerID {
			if peerName != "" {
				u.Name = peerName
			}
			return u
		}
	}
	return peer
}
