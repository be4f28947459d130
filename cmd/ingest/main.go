package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ChatBridge/migrations"
	"ChatBridge/pkg/config"
	"ChatBridge/pkg/database"
	svc "ChatBridge/pkg/services"

	"github.com/google/uuid"
)

var extMime = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
	".htm":  "text/html",
}

type FileResult struct {
	Path          string   `json:"path"`
	Title         string   `json:"title"`
	ChunksCreated int      `json:"chunks_created"`
	ChunksSkipped int      `json:"chunks_skipped"`
	DocumentIDs   []string `json:"document_ids,omitempty"`
	DurationMs    int64    `json:"duration_ms"`
	Error         string   `json:"error,omitempty"`
}

type RunSummary struct {
	RunID      string       `json:"run_id"`
	StartedAt  string       `json:"started_at"`
	EndedAt    string       `json:"ended_at"`
	Dir        string       `json:"dir"`
	Public     bool         `json:"is_public"`
	Tags       []string     `json:"tags,omitempty"`
	TotalFiles int          `json:"total_files"`
	Failed     int          `json:"failed"`
	Chunks     int          `json:"chunks_created"`
	Results    []FileResult `json:"results"`
}

// collectFiles returns the ingestible files under dir in walk order.
func collectFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := extMime[strings.ToLower(filepath.Ext(p))]; ok {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func titleFromPath(p string) string {
	base := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}

func checkFlags(dir string, chunkSize, overlap int) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("-dir or INGEST_DIR is required")
	}
	return svc.ValidateChunking(chunkSize, overlap)
}

func splitTags(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func main() {
	dir := flag.String("dir", os.Getenv("INGEST_DIR"), "directory with .txt, .md and .html files")
	public := flag.Bool("public", false, "mark documents public")
	tags := flag.String("tags", "", "comma separated tags")
	chunkSize := flag.Int("chunk-size", svc.DefaultChunkSize, "approximate characters per chunk (min 100)")
	overlap := flag.Int("overlap", svc.DefaultChunkOverlap, "characters repeated between chunks, below -chunk-size")
	out := flag.String("out", "", "write the run summary as JSON to this file")
	flag.Parse()

	if err := checkFlags(*dir, *chunkSize, *overlap); err != nil {
		fmt.Println("error:", err)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	if cfg.OpenAIAPIKey == "" {
		fmt.Println("[warn] OPENAI_API_KEY is empty – embeddings are required, nothing can be ingested")
		os.Exit(1)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	if err := database.Prepare(db, cfg.DatabaseURL, migrations.FS); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	var storage svc.Storage
	if cfg.StorageBackend == "local" {
		if storage, err = svc.NewLocalStorage(cfg.LocalStorageDir, cfg.PublicBaseURL); err != nil {
			fmt.Println("error:", err)
			os.Exit(1)
		}
	} else if cfg.SupabaseURL != "" {
		storage = svc.NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.StorageBucket, client)
	} else {
		fmt.Println("[warn] no storage configured – originals will not be kept")
	}

	ingestor := &svc.Ingestor{
		DB: db,
		Embedder: svc.NewOpenAIEmbedder(svc.OpenAIOptions{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.EmbeddingModel,
			Client:  client,
		}),
		Storage: storage,
	}

	files, err := collectFiles(*dir)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	summary := RunSummary{
		RunID:      uuid.NewString(),
		StartedAt:  time.Now().UTC().Format(time.RFC3339),
		Dir:        *dir,
		Public:     *public,
		Tags:       splitTags(*tags),
		TotalFiles: len(files),
	}
	fmt.Printf("run %s: %d files in %s\n", summary.RunID, len(files), *dir)

	ctx := context.Background()
	for i, p := range files {
		start := time.Now()
		res := FileResult{Path: p, Title: titleFromPath(p)}
		data, err := os.ReadFile(p)
		if err == nil {
			var r *svc.IngestResult
			r, err = ingestor.Ingest(ctx, svc.IngestRequest{
				Data:         data,
				FileName:     filepath.Base(p),
				Title:        res.Title,
				MimeType:     extMime[strings.ToLower(filepath.Ext(p))],
				Tags:         summary.Tags,
				IsPublic:     *public,
				Metadata:     map[string]any{"source": "cli", "run_id": summary.RunID},
				ChunkSize:    *chunkSize,
				ChunkOverlap: *overlap,
			})
			if r != nil {
				res.ChunksCreated = r.ChunksCreated
				res.ChunksSkipped = r.ChunksSkipped
				res.DocumentIDs = r.DocumentIDs
			}
		}
		res.DurationMs = time.Since(start).Milliseconds()
		if err != nil {
			res.Error = err.Error()
			summary.Failed++
		}
		summary.Chunks += res.ChunksCreated
		summary.Results = append(summary.Results, res)

		status := "ok"
		if res.Error != "" {
			status = "FAILED: " + res.Error
		}
		fmt.Printf("[%d/%d] %s chunks=%d skipped=%d %dms %s\n", i+1, len(files), p, res.ChunksCreated, res.ChunksSkipped, res.DurationMs, status)
	}
	summary.EndedAt = time.Now().UTC().Format(time.RFC3339)

	fmt.Printf("done: %d files, %d failed, %d chunks\n", summary.TotalFiles, summary.Failed, summary.Chunks)
	if *out != "" {
		if err := writeJSON(*out, summary); err != nil {
			fmt.Println("error writing summary:", err)
			os.Exit(1)
		}
		fmt.Println("summary written to", *out)
	}
	if summary.Failed > 0 {
		os.Exit(1)
	}
}
