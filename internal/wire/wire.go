package wire

import (
	"Meetstreet/internal/api"
	"Meetstreet/internal/api/config"
	"Meetstreet/internal/api/handler"
	"Meetstreet/internal/job"
	"Meetstreet/internal/pkg/cron"
	"Meetstreet/internal/pkg/kafka"
	pkgmongo "Meetstreet/internal/pkg/mongo"
	"Meetstreet/internal/realtime"
	"Meetstreet/internal/repository"
	"Meetstreet/internal/service"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router        *gin.Engine
	DB            *gorm.DB
	CronMgr       *cron.Manager
	CallService   service.CallService
	AuditProducer *kafka.AuditProducer
}

func BuildApplication(db *gorm.DB, mongoDB *mongo.Database, cfg *config.Config) (*ApplicationContainer, error) {
	convRepo := repository.NewConversationRepo(db)
	messageRepo := pkgmongo.NewMessageRepo(mongoDB)

	// 进程级单例：房间路由与在线注册表，生命周期随进程
	router := realtime.NewRouter()
	presence := realtime.NewPresence(router)

	auditProducer, err := kafka.NewAuditProducer(cfg)
	if err != nil {
		return nil, err
	}

	chatService := service.NewChatService(
		convRepo,
		messageRepo,
		router,
		presence,
		service.NewRedisIdempotencyStore(),
	)
	callService := service.NewCallService(
		router,
		auditProducer,
		time.Duration(cfg.Call.RingTimeout)*time.Second,
	)

	handlers := &api.HandlersGroup{
		ChatHandler: handler.NewChatHandler(chatService),
		CallHandler: handler.NewCallHandler(callService),
		WSHandler:   handler.NewWsHandler(router, presence, chatService, callService),
	}

	engine := api.SetupRouter(handlers)

	cronMgr := cron.NewCronManager(job.NewUnreadCalibrationJob(convRepo, messageRepo))

	return &ApplicationContainer{
		Router:        engine,
		DB:            db,
		CronMgr:       cronMgr,
		CallService:   callService,
		AuditProducer: auditProducer,
	}, nil
}
