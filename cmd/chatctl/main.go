package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/spf13/cobra"

	"ziwei-chat/internal/adapter/embedding"
	"ziwei-chat/internal/infra"
	"ziwei-chat/internal/infra/config"
	"ziwei-chat/internal/infra/httpclient"
	"ziwei-chat/internal/infra/logger"
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Operator CLI for the ziwei chat service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9020", "base URL of the chat service")

	root.AddCommand(newSearchCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newIngestCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newSearchCmd() *cobra.Command {
	var count int
	var mode string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := json.Marshal(map[string]any{
				"query": args[0],
				"count": count,
				"mode":  mode,
			})
			resp, err := http.Post(serverURL+"/v1/knowledge/search", "application/json", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("search failed: status %d", resp.StatusCode)
			}

			var result struct {
				Passages []struct {
					Title    string  `json:"title"`
					Chapter  string  `json:"chapter"`
					Page     int     `json:"page"`
					Content  string  `json:"content"`
					Combined float64 `json:"combined_score"`
				} `json:"passages"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
				return err
			}
			for i, p := range result.Passages {
				fmt.Printf("[%d] 《%s》 %s 第%d页 (%.2f)\n", i+1, p.Title, p.Chapter, p.Page, p.Combined)
				fmt.Println("   ", p.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 5, "number of passages")
	cmd.Flags().StringVar(&mode, "mode", "hybrid", "search mode: vector, text or hybrid")
	return cmd
}

func newChatCmd() *cobra.Command {
	var profile string
	var noThinking bool

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one chat turn and stream the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := json.Marshal(map[string]any{
				"message":          args[0],
				"profile_id":       profile,
				"thinking_enabled": !noThinking,
			})
			resp, err := http.Post(serverURL+"/v1/chat/stream", "application/json", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("chat failed: status %d", resp.StatusCode)
			}

			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			inThinking := false
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				var event struct {
					Type  string `json:"type"`
					Text  string `json:"text,omitempty"`
					Error string `json:"error,omitempty"`
				}
				if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
					continue
				}
				switch event.Type {
				case "thinking":
					if !inThinking {
						fmt.Print("(thinking) ")
						inThinking = true
					}
					fmt.Print(event.Text)
				case "chunk":
					if inThinking {
						fmt.Println()
						inThinking = false
					}
					fmt.Print(event.Text)
				case "done":
					fmt.Println()
					return nil
				case "error":
					fmt.Println()
					return fmt.Errorf("stream error: %s", event.Error)
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "persona profile id")
	cmd.Flags().BoolVar(&noThinking, "no-thinking", false, "suppress reasoning output")
	return cmd
}

// ingestPassage is one line of the JSONL input file.
type ingestPassage struct {
	Title   string `json:"title"`
	Chapter string `json:"chapter"`
	Section string `json:"section"`
	Page    int    `json:"page"`
	Ordinal int    `json:"ordinal"`
	Content string `json:"content"`
}

func newIngestCmd() *cobra.Command {
	var file string
	var batchSize int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed and load knowledge passages from a JSONL file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			cfg := config.Load()
			log := logger.New()

			ctx := cmd.Context()
			dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
				cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
			pool, err := infra.NewPostgresDB(ctx, dsn)
			if err != nil {
				return fmt.Errorf("failed to connect to db: %w", err)
			}
			defer pool.Close()

			encoder := embedding.NewHTTPEncoder(
				cfg.EmbedderURL,
				cfg.EmbedderModel,
				httpclient.NewPooledClient(time.Duration(cfg.EmbedderTimeout)*time.Second),
			)

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			var batch []ingestPassage
			total := 0
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				var p ingestPassage
				if err := json.Unmarshal([]byte(line), &p); err != nil {
					return fmt.Errorf("malformed passage on line %d: %w", total+len(batch)+1, err)
				}
				batch = append(batch, p)
				if len(batch) >= batchSize {
					if err := ingestBatch(ctx, pool, encoder, batch); err != nil {
						return err
					}
					total += len(batch)
					log.Info("ingested batch", "total", total)
					batch = batch[:0]
				}
			}
			if err := scanner.Err(); err != nil {
				return err
			}
			if len(batch) > 0 {
				if err := ingestBatch(ctx, pool, encoder, batch); err != nil {
					return err
				}
				total += len(batch)
			}
			fmt.Printf("Ingest complete. Total: %d passages\n", total)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSONL file of passages")
	cmd.Flags().IntVar(&batchSize, "batch", 32, "passages per embedding request")
	return cmd
}

func ingestBatch(ctx context.Context, pool *pgxpool.Pool, encoder *embedding.HTTPEncoder, batch []ingestPassage) error {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.Content
	}
	vectors, err := encoder.Encode(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed batch: %w", err)
	}

	sql := `
		INSERT INTO knowledge_passages (id, title, chapter, section, page, ordinal, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (title, chapter, ordinal) DO UPDATE
		SET section = EXCLUDED.section,
		    page = EXCLUDED.page,
		    content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding
	`
	for i, p := range batch {
		_, err := pool.Exec(ctx, sql,
			uuid.New(), p.Title, p.Chapter, p.Section, p.Page, p.Ordinal,
			p.Content, pgvector.NewVector(vectors[i]))
		if err != nil {
			return fmt.Errorf("failed to insert passage %s/%d: %w", p.Title, p.Ordinal, err)
		}
	}
	return nil
}
