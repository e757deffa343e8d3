// Package main is the Kotae CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/answer"
	"github.com/hyperjump/kotae/internal/artifact"
	"github.com/hyperjump/kotae/internal/blobstore"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/docstore"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/internal/provider"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/splitter"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. A missing default file falls back to built-in defaults so the
// server can run without any config at all.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg, defErr := config.Default()
			if defErr != nil {
				return nil, "", defErr
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// Optional .env for the provider API key and overrides.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "index":
		runIndex()
	case "upload":
		runUpload()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds the wired service graph for the server.
type Components struct {
	Blobs     blobstore.Store
	Docs      *docstore.Store
	Artifacts *artifact.Manager
	Client    *provider.Client
	Pipeline  *pipeline.Pipeline
	Queue     *pipeline.Queue
	Answers   *answer.Service
}

// Close releases component resources.
func (c *Components) Close() {
	if c.Queue != nil {
		c.Queue.Stop()
	}
	if c.Docs != nil {
		_ = c.Docs.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	blobs, err := blobstore.NewFSStore(cfg.Storage.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	docs, err := docstore.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document registry: %w", err)
	}
	artifacts := artifact.NewManager(blobs, cfg.Storage.IndexPrefix)

	client, err := provider.NewClient(cfg.Provider)
	if err != nil {
		_ = docs.Close()
		return nil, fmt.Errorf("failed to initialize model provider: %w", err)
	}

	split, err := splitter.New(cfg.Split.ChunkSize, cfg.Split.ChunkOverlap)
	if err != nil {
		_ = docs.Close()
		return nil, fmt.Errorf("failed to initialize splitter: %w", err)
	}

	pipe := pipeline.New(blobs, artifacts, client, split, logger, pipeline.WithDocstore(docs))
	queue := pipeline.NewQueue(pipe, 0, logger)

	retriever := retrieval.New(artifacts, client, cfg.Search, logger)
	answers := answer.NewService(retriever, client, logger)

	return &Components{
		Blobs:     blobs,
		Docs:      docs,
		Artifacts: artifacts,
		Client:    client,
		Pipeline:  pipe,
		Queue:     queue,
		Answers:   answers,
	}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	queueCtx, queueCancel := context.WithCancel(context.Background())
	defer queueCancel()
	components.Queue.Start(queueCtx)

	var inbox *watcher.Watcher
	if cfg.Storage.InboxDir != "" {
		inbox = watcher.New(cfg.Storage.InboxDir, func(path string) {
			if err := ingestInboxFile(context.Background(), components, cfg, path); err != nil {
				logger.Warn("inbox ingest failed", zap.String("path", path), zap.Error(err))
			}
		}, logger)
		if err := inbox.Start(queueCtx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		defer inbox.Stop()
	}

	srv := server.NewServer(
		components.Answers,
		components.Queue,
		components.Docs,
		components.Blobs,
		components.Artifacts,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// ingestInboxFile uploads a PDF dropped into the inbox and queues it for
// indexing. The inbox file is removed once it is safely in the blob store.
func ingestInboxFile(ctx context.Context, c *Components, cfg *config.Config, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	record, err := registerDocument(ctx, c, cfg, filepath.Base(path), "", content)
	if err != nil {
		return err
	}
	if err := c.Queue.Submit(models.IndexJob{DocumentID: record.ID, BlobKey: record.BlobKey}); err != nil {
		_ = c.Docs.SetResult(ctx, record.ID, models.StateFailed, 0, "indexing queue full")
		return err
	}
	return os.Remove(path)
}

// registerDocument stores the document bytes and its registry record.
func registerDocument(ctx context.Context, c *Components, cfg *config.Config, filename, ownerID string, content []byte) (*models.DocumentRecord, error) {
	docID := models.NewDocumentID()
	blobKey := strings.TrimSuffix(cfg.Storage.DocumentsPrefix, "/") + "/" + docID + "_" + filename
	now := time.Now().UTC()
	record := &models.DocumentRecord{
		ID:        docID,
		Filename:  filename,
		OwnerID:   ownerID,
		BlobKey:   blobKey,
		Size:      int64(len(content)),
		Status:    models.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.Docs.CreateDocument(ctx, record); err != nil {
		return nil, err
	}
	if err := c.Blobs.Put(ctx, blobKey, content); err != nil {
		// The record is useless without its bytes in the blob store.
		_ = c.Docs.DeleteDocument(ctx, docID)
		return nil, err
	}
	return record, nil
}

// runIndex indexes a local PDF directly, without a running server.
func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	ownerID := fs.String("owner", "", "owner id recorded on the document")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae index [flags] <file.pdf>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		fmt.Fprintln(os.Stderr, "Only .pdf files are accepted")
		os.Exit(1)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	ctx := context.Background()
	record, err := registerDocument(ctx, components, cfg, filepath.Base(path), *ownerID, content)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register document: %v\n", err)
		os.Exit(1)
	}
	result, err := components.Pipeline.Run(ctx, models.IndexJob{
		DocumentID: record.ID,
		BlobKey:    record.BlobKey,
		OwnerID:    *ownerID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("indexed: %s (%d vectors, index total %d)\n", record.ID, result.VectorsTotal, result.IndexTotal)
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = answer directly from local storage)")
	sessionID := fs.String("session", "", "session id for follow-up questions")
	k := fs.Int("k", 0, "number of context passages (0 = configured default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae ask [flags] <question>")
		os.Exit(1)
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Println("Usage: kotae ask [flags] <question>")
		os.Exit(1)
	}

	req := models.AskRequest{Question: question, SessionID: *sessionID, K: *k}
	var resp *models.AskResponse
	var err error
	if *serverURL != "" {
		resp, err = askViaHTTP(*serverURL, req)
	} else {
		resp, err = askDirect(*configPath, req)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Println(resp.Answer)
		if len(resp.Sources) > 0 {
			fmt.Println("\nSources:")
			for _, src := range resp.Sources {
				fmt.Printf("  %d. page %d (score %.3f)\n", src.Rank, src.Page, src.Score)
			}
		}
		fmt.Printf("\nsession: %s\n", resp.SessionID)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

// askDirect answers against local storage without a running server.
func askDirect(configPath string, req models.AskRequest) (*models.AskResponse, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	return components.Answers.Ask(context.Background(), req)
}

func askViaHTTP(serverURL string, req models.AskRequest) (*models.AskResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/ask", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.AskResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	ownerID := fs.String("owner", "", "owner id recorded on the document")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae upload [flags] <file.pdf>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
		os.Exit(1)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if *ownerID != "" {
		_ = mw.WriteField("owner_id", *ownerID)
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}
	if _, err := fw.Write(content); err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}
	_ = mw.Close()

	resp, err := http.Post(*serverURL+"/api/v1/documents", mw.FormDataContentType(), &buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var accepted map[string]string
	if err := json.Unmarshal(b, &accepted); err == nil {
		fmt.Printf("accepted: %s (%s)\n", accepted["id"], accepted["status"])
	} else {
		fmt.Println(string(b))
	}
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Documents    int64                  `json:"documents"`
	IndexVersion uint64                 `json:"index_version"`
	Config       map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = read storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		blobs, err := blobstore.NewFSStore(cfg.Storage.Root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open blob store: %v\n", err)
			os.Exit(1)
		}
		docs, err := docstore.New(cfg.Storage.DatabasePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open document registry: %v\n", err)
			os.Exit(1)
		}
		defer docs.Close()
		ctx := context.Background()
		docCount, err := docs.CountDocuments(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count documents failed: %v\n", err)
			os.Exit(1)
		}
		idxVersion, err := artifact.NewManager(blobs, cfg.Storage.IndexPrefix).Version(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Artifact version failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{Documents: docCount, IndexVersion: idxVersion}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("documents:      %d   # count of registered documents\n", status.Documents)
		fmt.Printf("index_version:  %d   # persisted index artifact version\n", status.IndexVersion)
		if len(status.Config) > 0 {
			fmt.Println()
			fmt.Println("# configuration")
			for _, key := range []string{"embedding_model", "chat_model", "chunk_size", "chunk_overlap", "search_mode", "search_k", "search_fetch_k"} {
				if v, ok := status.Config[key]; ok {
					fmt.Printf("%-16s%v\n", key+":", v)
				}
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func printUsage() {
	fmt.Println(`kotae - document question answering over your PDFs

Usage:
  kotae server [flags]            Start the HTTP server
  kotae ask [flags] <question>    Ask a question over the indexed documents
  kotae upload [flags] <file>     Upload a PDF to a running server for indexing
  kotae index [flags] <file>      Index a local PDF directly (no server needed)
  kotae status [flags]            Show registry and index status
  kotae version                   Show version
  kotae help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml)
  --debug            Enable debug logging

Ask Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to answer directly from local storage.
  --session string   Session id for follow-up questions
  --k int            Number of context passages (0 = configured default)
  --output string    Output format: text or json (default: text)

Upload Flags:
  --server string    Server URL (default: http://localhost:8080)
  --owner string     Owner id recorded on the document

Index Flags:
  --config string    Config file path
  --owner string     Owner id recorded on the document

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  kotae server
  kotae upload leave-policy.pdf
  kotae index --owner hr leave-policy.pdf
  kotae ask "How many days of annual leave do I get?"
  kotae ask --session 5f2a... "And how many carry over?"
  kotae status --output json`)
}
