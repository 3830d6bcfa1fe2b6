package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/tatianab/trainer-tales/internal/config"
	"github.com/tatianab/trainer-tales/internal/encounter"
	"github.com/tatianab/trainer-tales/internal/engine"
	"github.com/tatianab/trainer-tales/internal/logging"
	"github.com/tatianab/trainer-tales/internal/orchestrator"
	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/storage/file"
)

func main() {
	turns := flag.Int("turns", 10, "number of player turns")
	persona := flag.String("persona", "a curious new trainer who likes to explore and battle wild Pokémon", "player persona")
	seed := flag.Uint64("seed", 0, "random seed for encounters and rolls (0 = random)")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, "console", false)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	saveDir, err := os.MkdirTemp("", "trainer-tales-sim-")
	if err != nil {
		log.Fatalf("Failed to create save dir: %v", err)
	}
	v, err := schema.Default()
	if err != nil {
		log.Fatalf("Failed to load schema: %v", err)
	}
	store, err := file.Open(saveDir, v, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	gemini, err := engine.NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model, logger)
	if err != nil {
		log.Fatalf("Failed to create generator: %v", err)
	}
	defer gemini.Close()
	gen := engine.WithRetry(gemini, engine.RetryPolicy{MaxAttempts: cfg.RetryMaxAttempts, Initial: cfg.RetryInitial}, logger)

	// The game master and the player share one generator.
	eng, err := engine.New(gen, logger)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	catalog, err := encounter.DefaultCatalog()
	if err != nil {
		log.Fatalf("Failed to load encounter catalog: %v", err)
	}
	orch, err := orchestrator.New(&orchestrator.Config{
		Store:     store,
		Validator: v,
		Agents:    eng,
		Encounter: encounter.New(catalog),
		Logger:    logger,
		Seed:      *seed,
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	fmt.Println("--- Setup ---")
	resp, err := orch.Turn(ctx, "", string(orchestrator.ActionGetStarted))
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	sessionID := resp.SessionID
	fmt.Printf("Session: %s (saved under %s)\n", sessionID, saveDir)
	printResponse(resp)

	for turn := 1; turn <= *turns; turn++ {
		fmt.Printf("--- Turn %d ---\n", turn)

		input, err := eng.NextPlayerInput(ctx, *persona, resp.Narration, resp.Choices)
		if err != nil || input == "" {
			logger.Warn("player generation failed, taking the safe default", zap.Error(err))
			input = safeDefaultLabel(resp)
		}
		fmt.Printf("Player: %s\n", input)

		next, err := orch.Turn(ctx, sessionID, input)
		if err != nil {
			fmt.Printf("Error processing turn: %v\n", err)
			continue
		}
		resp = next
		printResponse(resp)
	}

	recap, err := orch.Turn(ctx, sessionID, string(orchestrator.ActionRecap))
	if err != nil {
		log.Fatalf("Failed to recap: %v", err)
	}
	fmt.Println("--- Recap ---")
	fmt.Println(recap.Narration)
}

func printResponse(resp *orchestrator.Response) {
	label := string(resp.Intent)
	if resp.QuickAction != "" {
		label = string(resp.QuickAction)
	}
	fmt.Printf("GM [%s]: %s\n", label, resp.Narration)
	for _, c := range resp.Choices {
		marker := " "
		if c.ChoiceID == resp.SafeDefault {
			marker = "*"
		}
		fmt.Printf("  %s %s (%s)\n", marker, c.Label, c.Risk)
	}
	if len(resp.Warnings) > 0 {
		fmt.Printf("Warnings: %s\n", strings.Join(resp.Warnings, "; "))
	}
	fmt.Println()
}

func safeDefaultLabel(resp *orchestrator.Response) string {
	for _, c := range resp.Choices {
		if c.ChoiceID == resp.SafeDefault {
			return c.Label
		}
	}
	return "continue"
}
