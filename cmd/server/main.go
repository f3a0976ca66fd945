package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transcribe-orchestrator/api/rest/routes"
	"transcribe-orchestrator/config"
	"transcribe-orchestrator/core/coordinator"
	"transcribe-orchestrator/core/diarize"
	"transcribe-orchestrator/core/pipeline"
	"transcribe-orchestrator/core/punctuate"
	"transcribe-orchestrator/core/recognize"
	"transcribe-orchestrator/core/repository"
	"transcribe-orchestrator/core/scheduler"
	"transcribe-orchestrator/logging"
	"transcribe-orchestrator/storage"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}
	log.Info("database connected")

	jobRepo := repository.NewJobRepository(db)
	coord := coordinator.New(jobRepo, log.WithField("app", "transcribe"))

	// Jobs that were in flight when the previous process died can never
	// resume; settle them before accepting new work.
	if swept, err := coord.SweepOrphans(); err != nil {
		log.WithError(err).Fatal("failed to sweep orphaned jobs")
	} else if swept > 0 {
		log.WithField("count", swept).Warn("failed orphaned jobs from previous run")
	}
	go coord.SweepOrphanedWorkers(ctx, cfg.WorkerSweepInterval, cfg.WorkerKillGrace)

	recognizers := buildRecognizers(cfg, coord)

	var restorer punctuate.Restorer
	if len(cfg.OpenAIAPIKeys) > 0 {
		chain, err := punctuate.NewChain(cfg.OpenAIAPIKeys, cfg.PunctuationModels, log.WithField("app", "transcribe"))
		if err != nil {
			log.WithError(err).Fatal("failed to build punctuation chain")
		}
		restorer = chain
	}

	var diarizers pipeline.DiarizerSource
	if cfg.DiarizerPath != "" {
		diarizers = func(jobID string) diarize.Diarizer {
			d := diarize.NewExec(cfg.DiarizerPath)
			d.Register = func(proc *os.Process) func() {
				return coord.RegisterWorker(jobID, proc)
			}
			return d
		}
	}

	audio, err := buildAudioStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to build audio store")
	}

	media := pipeline.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)
	chunker := pipeline.NewChunkCoordinator(media, cfg.ChunkWorkers, log.WithField("app", "transcribe"))
	exec := pipeline.NewExecutor(coord, media, chunker, recognizers, restorer, diarizers, audio, cfg.ResultsDir, log.WithField("app", "transcribe"))

	sched := scheduler.NewScheduler(coord, exec, cfg.MaxConcurrentJobs, log.WithField("app", "transcribe"))
	go sched.Start(ctx)
	defer sched.Stop()

	r := mux.NewRouter()
	routes.SetupRoutes(r, coord, jobRepo, sched, cfg.UploadDir, log.WithField("app", "transcribe"))

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.WithField("port", cfg.ServerPort).Info("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed to start")
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	log.Info("server exited")
}

// buildRecognizers binds recognizer construction to a job, so spawned
// worker processes are registered against the job that owns them.
func buildRecognizers(cfg *config.Config, coord *coordinator.Coordinator) pipeline.RecognizerSource {
	if cfg.RecognitionProvider == "openai" {
		key := cfg.OpenAIAPIKeys[0]
		return func(jobID string) recognize.Factory {
			return func() (recognize.Recognizer, error) {
				return recognize.NewOpenAI(key, cfg.OpenAIModel), nil
			}
		}
	}
	return func(jobID string) recognize.Factory {
		return func() (recognize.Recognizer, error) {
			w := recognize.NewWhisper(cfg.WhisperPath, cfg.WhisperModelPath)
			w.Register = func(proc *os.Process) func() {
				return coord.RegisterWorker(jobID, proc)
			}
			return w, nil
		}
	}
}

func buildAudioStore(ctx context.Context, cfg *config.Config) (storage.AudioStore, error) {
	if cfg.AudioStore == "s3" {
		return storage.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix)
	}
	return storage.NewLocalStore(cfg.AudioDir)
}
