package di

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ziwei-chat/internal/adapter/chat_http"
	"ziwei-chat/internal/adapter/embedding"
	"ziwei-chat/internal/adapter/gateway"
	"ziwei-chat/internal/adapter/repository"
	"ziwei-chat/internal/domain"
	"ziwei-chat/internal/infra/config"
	"ziwei-chat/internal/infra/httpclient"
	"ziwei-chat/internal/usecase"
	"ziwei-chat/internal/worker"
)

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	PassageRepo      domain.PassageRepository
	ConversationRepo domain.ConversationRepository

	RetrieveUsecase usecase.RetrievePassagesUsecase
	ChatUsecase     usecase.ChatUsecase

	Recorder *worker.ConversationLogger
	Handler  *chat_http.Handler
}

// NewApplicationComponents wires all dependencies from config and database pool.
func NewApplicationComponents(cfg *config.Config, pool *pgxpool.Pool, log *slog.Logger) (*ApplicationComponents, error) {
	// Repositories
	passageRepo := repository.NewPassageRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)

	// Shared HTTP clients with connection pooling. The gateway client gets
	// no client-side timeout: streams are bounded by context deadlines.
	embedderHTTP := httpclient.NewPooledClient(time.Duration(cfg.EmbedderTimeout) * time.Second)
	gatewayHTTP := httpclient.NewPooledClient(0)

	// External clients
	encoder := embedding.NewHTTPEncoder(cfg.EmbedderURL, cfg.EmbedderModel, embedderHTTP)
	cachedEncoder, err := embedding.NewCachedEncoder(encoder, cfg.EmbedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding cache: %w", err)
	}

	llm := gateway.NewOpenAIClient(
		cfg.GatewayURL,
		cfg.GatewayAPIKey,
		cfg.GatewayModel,
		gateway.FallbackPolicy{
			Models:         cfg.GatewayFallbackModels,
			AttemptTimeout: time.Duration(cfg.GatewayAttemptTimeout) * time.Second,
		},
		cfg.GatewayRPS,
		log,
		gatewayHTTP,
	)

	// Persona profiles
	profiles, err := usecase.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		return nil, err
	}
	registry, err := usecase.NewProfileRegistry(profiles, cfg.DefaultProfile)
	if err != nil {
		return nil, err
	}

	// Usecases
	retrieveUsecase := usecase.NewRetrievePassagesUsecase(
		passageRepo,
		cachedEncoder,
		cfg.HybridAlpha,
		cfg.RetrievalCount,
		float32(cfg.RetrievalThreshold),
		log,
	)

	recorder := worker.NewConversationLogger(conversationRepo, log)

	composer := usecase.NewPromptComposer(cfg.HistoryWindow, cfg.ExcerptRunes)
	chatUsecase := usecase.NewChatUsecase(
		retrieveUsecase,
		composer,
		llm,
		registry,
		recorder,
		cfg.GatewayModel,
		cfg.Temperature,
		cfg.AnswerMaxTokens,
		domain.SearchMode(cfg.RetrievalMode),
		time.Duration(cfg.GatewayTimeout)*time.Second,
		log,
	)

	handler := chat_http.NewHandler(chatUsecase, retrieveUsecase)

	return &ApplicationComponents{
		PassageRepo:      passageRepo,
		ConversationRepo: conversationRepo,
		RetrieveUsecase:  retrieveUsecase,
		ChatUsecase:      chatUsecase,
		Recorder:         recorder,
		Handler:          handler,
	}, nil
}
