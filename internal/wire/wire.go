package wire

import (
	"Courier/internal/api"
	"Courier/internal/api/config"
	"Courier/internal/api/handler"
	"Courier/internal/model"
	"Courier/internal/pkg/credential"
	"Courier/internal/pkg/portal"
	"Courier/internal/pkg/ws"
	"Courier/internal/service"
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router *gin.Engine
	Sync   *service.SyncService
	Creds  *credential.Store
}

func BuildApplication(cfg *config.Config, creds *credential.Store) *ApplicationContainer {
	portalClient := portal.NewClient(
		cfg.Backend.BaseURL,
		time.Duration(cfg.Backend.Timeout)*time.Second,
		creds.Token,
	)

	dialer := ws.NewDialer(cfg.Backend.WsURL, millis(cfg.Reconnect.OpenTimeout))
	channelDialer := service.DialerFunc(func(ctx context.Context, token string) service.Channel {
		return dialer.Open(ctx, token)
	})

	syncService := service.NewSyncService(portalClient, channelDialer, creds, service.Options{
		Audience:        model.Role(cfg.Client.Audience),
		InitialInterval: millis(cfg.Reconnect.InitialInterval),
		MaxInterval:     millis(cfg.Reconnect.MaxInterval),
		Multiplier:      cfg.Reconnect.Multiplier,
	})

	handlers := &api.HandlersGroup{
		IMHandler: handler.NewIMHandler(syncService),
		Session:   syncService,
	}

	router := api.SetupRouter(handlers, cfg.Logstash.Index, cfg.Logstash.Token)

	return &ApplicationContainer{
		Router: router,
		Sync:   syncService,
		Creds:  creds,
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
