package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"telehealth_chat/common/log"
	"telehealth_chat/devserver/api"
	"telehealth_chat/devserver/domain"
	"telehealth_chat/devserver/service"
)

type Server struct {
	HTTPServer *http.Server
	Store      *service.Store
	Hub        *service.Hub
}

func NewServer(cfg Config) (*Server, error) {
	store, err := service.NewStore(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	files, err := service.NewFileService(cfg.UploadDir, "/files")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initialize file service: %w", err)
	}

	hub := service.NewHub(store)
	h := api.NewHandler(store, hub, files, cfg.JWTSecret, cfg.JWTTTLMinutes)

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	h.RegisterRoutes(r, cfg.UploadDir)

	if cfg.SeedDemoUsers {
		seedDemoUsers(store)
	}

	return &Server{
		HTTPServer: &http.Server{Addr: ":" + cfg.Port, Handler: r},
		Store:      store,
		Hub:        hub,
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	if closeErr := s.Store.Close(); err == nil {
		err = closeErr
	}
	return err
}

func seedDemoUsers(store *service.Store) {
	existing, err := store.ListUsers()
	if err != nil || len(existing) > 0 {
		return
	}
	demo := []domain.User{
		{ID: "1", Name: "Pat Morgan", Email: "pat@example.com", UserType: "p"},
		{ID: "2", Name: "Nina Reyes", Email: "nina@example.com", UserType: "n"},
		{ID: "3", Name: "Dr. Sofia Alvarez", Email: "sofia@example.com", UserType: "s"},
	}
	for _, user := range demo {
		if _, err := store.CreateUser(user); err != nil {
			log.Warnf("event=seed_users status=failed user_id=%s error=%v", user.ID, err)
			return
		}
	}
	log.Infof("event=seed_users status=ok count=%d", len(demo))
}
