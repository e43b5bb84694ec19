package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"npc-dialogue-agent/handler"
	"npc-dialogue-agent/internal/integrations/openai"
	"npc-dialogue-agent/internal/integrations/paramstore"
	"npc-dialogue-agent/internal/repository"
	"npc-dialogue-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	maxHistoryTurns := envInt("MAX_HISTORY_TURNS", 20)
	limits := usecase.Limits{
		Greeting:   envInt("GREETING_MAX_LENGTH", 250),
		Reply:      envInt("REPLY_MAX_LENGTH", 300),
		Option:     envInt("OPTION_MAX_LENGTH", 150),
		PlayerLine: envInt("MAX_PLAYER_LINE_LENGTH", 200),
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	stateClient, err := repository.New(dynamoClient, stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	dialogueService, err := usecase.NewDialogueService(ssmClient, openaiClient, stateClient, paramPrefix, maxHistoryTurns, limits)
	if err != nil {
		slog.Error("failed to create dialogue service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(dialogueService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
