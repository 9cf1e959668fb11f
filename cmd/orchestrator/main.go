/**
 * OCR Orchestrator - Main Entry Point
 *
 * Single-node document-to-text pipeline worker:
 * - Format conversion (libreoffice + pdftoppm) into page images
 * - Configurable image enhancement per page
 * - Pluggable recognition engines (local tesseract, remote model inference)
 * - Full artifact and history lineage per run
 *
 * Documents passed on the command line are submitted directly; the
 * process then drains in-flight runs and exits, or waits for a signal
 * when started without arguments (library mode behind a routing layer).
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/docpipe/ocr-orchestrator/internal/artifact"
	"github.com/docpipe/ocr-orchestrator/internal/config"
	"github.com/docpipe/ocr-orchestrator/internal/convert"
	"github.com/docpipe/ocr-orchestrator/internal/engine"
	"github.com/docpipe/ocr-orchestrator/internal/history"
	"github.com/docpipe/ocr-orchestrator/internal/orchestrator"
	"github.com/docpipe/ocr-orchestrator/internal/preprocess"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("OCR orchestrator starting...")
	log.Printf("Configuration loaded: DataDir=%s, DPI=%d, TesseractWorkers=%d, InferenceWorkers=%d",
		cfg.DataDir, cfg.PDFDPI, cfg.TesseractWorkers, cfg.InferenceWorkers)

	// History store: PostgreSQL when configured, in-memory otherwise
	var store history.Store
	if cfg.DatabaseURL != "" {
		log.Printf("Connecting to PostgreSQL history store...")
		store, err = history.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize history store: %v", err)
		}
	} else {
		log.Printf("No OCR_DATABASE_URL configured, using in-memory history store")
		store = history.NewMemoryStore()
	}
	defer store.Close()

	artifacts, err := artifact.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to initialize artifact store: %v", err)
	}

	converter, err := convert.NewConverter(&convert.ConverterConfig{
		LibreOfficePath: cfg.LibreOfficePath,
		PdftoppmPath:    cfg.PdftoppmPath,
		DPI:             cfg.PDFDPI,
		Artifacts:       artifacts,
	})
	if err != nil {
		log.Fatalf("Failed to initialize converter: %v", err)
	}

	preprocessor := preprocess.NewPreprocessor(preprocess.Options{
		Grayscale: cfg.EnableGrayscale,
		Contrast:  cfg.EnableContrast,
		Denoise:   cfg.EnableDenoise,
		Binarize:  cfg.EnableBinarize,
	})

	// Engine adapters. A bad dictionary degrades the inference engine to
	// its built-in default instead of blocking startup.
	tesseract := engine.NewTesseractEngine(&engine.TesseractConfig{
		DefaultLanguage: cfg.TesseractLanguage,
		Timeout:         time.Duration(cfg.TesseractTimeoutSec) * time.Second,
	})
	inference, err := engine.NewInferenceEngine(&engine.InferenceConfig{
		Endpoint:          cfg.InferenceURL,
		DefaultLanguage:   cfg.InferenceLanguage,
		Timeout:           time.Duration(cfg.InferenceTimeoutSec) * time.Second,
		DictionaryPath:    cfg.DictionaryPath,
		DictionarySymbols: cfg.DictionarySymbols,
	})
	if err != nil {
		log.Fatalf("Failed to initialize inference engine: %v", err)
	}
	log.Printf("Engines ready: tesseract (lang=%s), inference (lang=%s, customDict=%v)",
		cfg.TesseractLanguage, cfg.InferenceLanguage, inference.UsingCustomDictionary())

	orch, err := orchestrator.NewOrchestrator(&orchestrator.OrchestratorConfig{
		Config:       cfg,
		History:      store,
		Artifacts:    artifacts,
		Converter:    converter,
		Preprocessor: preprocessor,
		Engines:      []engine.Engine{tesseract, inference},
	})
	if err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("OCR orchestrator is READY")
	log.Printf("===========================================")

	// Direct submission mode: each argument is a document to process.
	if len(os.Args) > 1 {
		ctx := context.Background()
		for _, path := range os.Args[1:] {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Printf("Skipping %s: %v", path, err)
				continue
			}
			runID, err := orch.SubmitRun(ctx, data, filepath.Base(path), engine.VariantTesseract, "")
			if err != nil {
				log.Printf("Submission rejected for %s: %v", path, err)
				continue
			}
			log.Printf("Submitted %s as run %s", path, runID)
		}
		orch.Drain()
		printSummary(ctx, orch)
		return
	}

	// Signal mode: wait for shutdown, then drain in-flight runs.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	log.Printf("Received signal %v, draining in-flight runs...", sig)
	orch.Drain()
	log.Printf("Shutdown complete")
}

func printSummary(ctx context.Context, orch *orchestrator.Orchestrator) {
	runs, err := orch.ListRuns(ctx)
	if err != nil {
		log.Printf("Failed to list runs: %v", err)
		return
	}
	for _, run := range runs {
		log.Printf("Run %s: status=%s confidence=%.4f failedStage=%s",
			run.ID, run.Status, run.BestConfidence, run.FailedStage)
	}
}
