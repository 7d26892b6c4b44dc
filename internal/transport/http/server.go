package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"kbring/internal/ai"
	appsvc "kbring/internal/app"
	"kbring/internal/bootstrap"
	"kbring/internal/cache"
	"kbring/internal/platform/rabbitmq"
	"kbring/internal/repository"
	"kbring/internal/retrieval"
	"kbring/internal/transport/http/handler"
	"kbring/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.MySQL)
	sessionRepo := repository.NewSessionRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)
	docRepo := repository.NewDocumentRepository(app.MySQL)
	jobRepo := repository.NewJobRepository(app.MySQL)
	chunkRepo := repository.NewChunkRepository(app.MySQL)
	embeddingRepo := repository.NewEmbeddingRepository(app.MySQL)

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	docService := appsvc.NewDocumentService(docRepo, jobRepo)

	retriever := retrieval.NewRetriever(
		chunkRepo,
		embeddingRepo,
		chunkRepo,
		app.Embeddings,
		app.Config.Retrieval.LexicalWeight,
		app.Config.Retrieval.VectorWeight,
		app.Config.Retrieval.CandidateLimit,
	)
	searchService := appsvc.NewSearchService(
		retriever,
		app.Reranker,
		app.Config.Rerank.Depth,
		app.Config.Rerank.TopM,
		app.Config.Rerank.MaxPassageChars,
	)

	publisher := rabbitmq.NewMessagePublisher(app.MQConn, app.Config.RabbitMQ.MessagePersistQueue)
	historyCache := cache.NewHistoryCache(
		app.Redis,
		time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(app.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	chatService := appsvc.NewChatService(
		sessionRepo,
		messageRepo,
		publisher,
		historyCache,
		searchService,
		ai.ChatConfig{
			BaseURL:   app.Config.LLM.BaseURL,
			APIKey:    app.Config.LLM.APIKey,
			Model:     app.Config.LLM.Model,
			MaxTokens: app.Config.LLM.MaxTokens,
		},
		20,
	)

	authHandler := handler.NewAuthHandler(authService)
	docHandler := handler.NewDocumentHandler(docService)
	jobHandler := handler.NewJobHandler(docService)
	searchHandler := handler.NewSearchHandler(searchService)
	chatHandler := handler.NewChatHandler(chatService)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	authed := v1.Group("")
	authed.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))

	authed.POST("/documents", docHandler.Ingest)
	authed.POST("/documents/upload", docHandler.UploadPDF)
	authed.GET("/documents", docHandler.List)
	authed.GET("/documents/:id", docHandler.Get)
	authed.DELETE("/documents/:id", docHandler.Delete)

	authed.GET("/jobs", jobHandler.List)
	authed.GET("/jobs/:id", jobHandler.Get)

	authed.POST("/search", searchHandler.Search)

	authed.POST("/chat/sessions", chatHandler.CreateSession)
	authed.GET("/chat/sessions", chatHandler.ListSessions)
	authed.DELETE("/chat/sessions/:id", chatHandler.DeleteSession)
	authed.POST("/chat/messages", chatHandler.SendMessage)
	authed.GET("/chat/history", chatHandler.GetHistory)
	authed.GET("/chat/messages/:id/citations", chatHandler.ListCitations)

	return router
}
