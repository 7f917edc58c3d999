/**
 * Structa Worker - Main Entry Point
 *
 * Go worker that turns photographed or scanned document pages into
 * StructuredDocuments.
 *
 * Architecture:
 * - Redis list consumer or Asynq server for the job queue
 * - Pipeline: normalize → recognize (Tesseract) → correct → segment →
 *   tables → align → structure
 * - Layout and table detection: heuristic, MageAgent or Google Document AI,
 *   each falling back to the heuristic
 * - PostgreSQL for jobs and documents, Qdrant for layout fingerprints,
 *   S3 for sources and normalized pages
 * - Optional renderer sink for finished documents
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/api"
	"github.com/Sireeshreddy01/structa-ai/internal/clients"
	"github.com/Sireeshreddy01/structa-ai/internal/config"
	"github.com/Sireeshreddy01/structa-ai/internal/correction"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
	"github.com/Sireeshreddy01/structa-ai/internal/layout"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
	"github.com/Sireeshreddy01/structa-ai/internal/ocr/tesseract"
	"github.com/Sireeshreddy01/structa-ai/internal/processor"
	"github.com/Sireeshreddy01/structa-ai/internal/queue"
	"github.com/Sireeshreddy01/structa-ai/internal/spatial"
	"github.com/Sireeshreddy01/structa-ai/internal/storage"
	"github.com/Sireeshreddy01/structa-ai/internal/structuring"
	"github.com/Sireeshreddy01/structa-ai/internal/tables"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const version = "1.0.0"

// jobConsumer is implemented by both queue backends
type jobConsumer interface {
	api.JobQueue
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	logger := logging.NewLogger("Main")
	if err := run(logger); err != nil {
		logger.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	if err := godotenv.Load(".env.structa"); err != nil {
		logger.Info("No .env.structa found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		logger.Warn("Invalid logging configuration, keeping defaults", "error", err)
	}

	logger.Info("Structa worker starting", "version", version, "environment", cfg.Environment,
		"queue_backend", cfg.QueueBackend, "queue", cfg.QueueName, "workers", cfg.WorkerConcurrency,
		"layout_engine", cfg.LayoutEngine, "table_engine", cfg.TableEngine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("Error during cleanup", "error", err)
			}
		}
	}()

	pipeline, pipelineClosers, err := buildPipeline(ctx, cfg, logger)
	closers = append(closers, pipelineClosers...)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	urlPolicy := &clients.URLPolicy{
		Schemes:      cfg.AllowedURLSchemes,
		Hosts:        cfg.AllowedURLHosts,
		AllowPrivate: cfg.AllowPrivateURLs,
	}

	procCfg := &processor.ProcessorConfig{
		Pipeline:    pipeline,
		MaxFileSize: cfg.MaxFileSize,
		MaxPixels:   cfg.MaxImagePixels,
		URLPolicy:   urlPolicy,
		Defaults:    processor.DefaultOptions(),
	}
	procCfg.Defaults.CorrectText = cfg.CorrectText

	var storageManager *storage.StorageManager
	if cfg.DatabaseURL != "" {
		storageManager, err = openStorage(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		closers = append(closers, storageManager.Close)
		procCfg.Store = storageManager
		if cfg.QdrantURL != "" {
			procCfg.Layouts = storageManager
		}
	} else {
		logger.Warn("DATABASE_URL not set, results are only kept in Redis")
	}

	if cfg.S3Bucket != "" {
		objects, err := storage.NewObjectStore(ctx, storage.ObjectStoreConfig{
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			MaxBytes:  cfg.MaxFileSize,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize object storage: %w", err)
		}
		procCfg.Objects = objects
		logger.Info("Object storage enabled", "bucket", cfg.S3Bucket)
	}

	if cfg.RendererURL != "" {
		renderer := clients.NewRendererClient(cfg.RendererURL)
		if err := renderer.HealthCheck(ctx); err != nil {
			logger.Warn("Renderer health check failed, publishing anyway", "error", err)
		}
		procCfg.Publisher = renderer
	}

	proc, err := processor.NewDocumentProcessor(procCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize document processor: %w", err)
	}

	consumer, err := newConsumer(cfg, proc)
	if err != nil {
		return fmt.Errorf("failed to initialize queue consumer: %w", err)
	}
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}

	serverCfg := &api.ServerConfig{
		Port:         cfg.HTTPPort,
		Mode:         gin.DebugMode,
		Version:      version,
		Queue:        consumer,
		MaxBodyBytes: cfg.MaxRequestBody,
		URLPolicy:    urlPolicy,
	}
	if cfg.Environment == "production" {
		serverCfg.Mode = gin.ReleaseMode
	}
	if storageManager != nil {
		serverCfg.Store = storageManager
	}
	server, err := api.NewServer(serverCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP API: %w", err)
	}
	server.Start()

	logger.Info("Structa worker is ready, waiting for jobs", "http_port", cfg.HTTPPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ProcessingTimeout)*time.Millisecond+10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error stopping HTTP API", "error", err)
	}
	if err := consumer.Stop(shutdownCtx); err != nil {
		logger.Warn("Error stopping queue consumer", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

// buildPipeline wires the recognition, layout and table engines selected
// by configuration. The returned closers release external clients.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*processor.Pipeline, []func() error, error) {
	var closers []func() error

	language := "eng"
	if len(cfg.OCRLanguages) > 0 {
		language = cfg.OCRLanguages[0]
	}

	recognizer := tesseract.NewEngine(tesseract.Config{
		Languages:     cfg.OCRLanguages,
		MinConfidence: cfg.ConfidenceThreshold,
	})
	heuristicTables := tables.NewHeuristicExtractor(recognizer)

	var mage *clients.MageAgentClient
	if cfg.LayoutEngine == config.EngineMageAgent || cfg.TableEngine == config.EngineMageAgent {
		mage = clients.NewMageAgentClient(cfg.MageAgentURL)
		if err := mage.HealthCheck(ctx); err != nil {
			logger.Warn("MageAgent health check failed, heuristic fallback will be used on errors", "error", err)
		}
	}

	var docAI *clients.DocumentAIClient
	if cfg.LayoutEngine == config.EngineDocumentAI || cfg.TableEngine == config.EngineDocumentAI {
		client, err := clients.NewDocumentAIClient(ctx, clients.DocumentAIConfig{
			ProjectID:       cfg.DocumentAIProjectID,
			Location:        cfg.DocumentAILocation,
			ProcessorID:     cfg.DocumentAIProcessorID,
			CredentialsFile: cfg.GoogleCredentialsFile,
		})
		if err != nil {
			return nil, closers, fmt.Errorf("failed to create Document AI client: %w", err)
		}
		docAI = client
		closers = append(closers, docAI.Close)
	}

	var segmenter layout.Segmenter
	switch cfg.LayoutEngine {
	case config.EngineMageAgent:
		segmenter = layout.NewMageAgentSegmenter(mage, language)
	case config.EngineDocumentAI:
		segmenter = layout.NewDocumentAISegmenter(docAI)
	}

	var extractor tables.GridExtractor = heuristicTables
	switch cfg.TableEngine {
	case config.EngineMageAgent:
		extractor = tables.NewMageAgentExtractor(mage, language, heuristicTables)
	case config.EngineDocumentAI:
		extractor = tables.NewDocumentAIExtractor(docAI, heuristicTables)
	}

	var corrector *correction.Corrector
	if cfg.CorrectText {
		dict := correction.DefaultDictionary()
		if cfg.DictionaryPath != "" {
			loaded, err := correction.LoadDictionary(cfg.DictionaryPath)
			if err != nil {
				return nil, closers, fmt.Errorf("failed to load dictionary: %w", err)
			}
			dict = loaded
		}
		corrector = correction.NewCorrector(dict)
	}

	normalizerCfg := imaging.DefaultNormalizerConfig()
	if cfg.MaxImageSize > 0 {
		normalizerCfg.MaxSize = cfg.MaxImageSize
	}
	if cfg.DenoiseBudget != 0 {
		normalizerCfg.DenoiseBudget = cfg.DenoiseBudget
	}

	organizer := spatial.NewOrganizer(spatial.OrganizerConfig{
		LineThreshold:   cfg.LineThreshold,
		ReferenceHeight: cfg.LineReferenceHeight,
	})

	pipeline := processor.NewPipeline(processor.PipelineConfig{
		Normalizer: imaging.NewNormalizer(normalizerCfg),
		Recognizer: recognizer,
		Corrector:  corrector,
		Layout:     layout.NewAnalyzer(segmenter),
		Tables:     extractor,
		Aligner:    tables.NewAligner(),
		Organizer:  organizer,
		Engine:     structuring.NewEngine(organizer),
	})
	return pipeline, closers, nil
}

// openStorage connects PostgreSQL and, when configured, Qdrant
func openStorage(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*storage.StorageManager, error) {
	pg, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, err
	}

	var qc *storage.QdrantClient
	if cfg.QdrantURL != "" {
		qc, err = storage.NewQdrantClient(cfg.QdrantURL, cfg.QdrantCollection, processor.FingerprintSize)
		if err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info("Layout fingerprint index enabled", "collection", cfg.QdrantCollection)
	}

	return storage.NewStorageManager(pg, qc)
}

func newConsumer(cfg *config.Config, proc processor.DocumentProcessorInterface) (jobConsumer, error) {
	if cfg.QueueBackend == config.QueueBackendAsynq {
		return queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
		})
	}
	return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
}
