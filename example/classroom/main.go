/*
Example code showing how to keep a stable identity for every student in a
classroom camera feed and stream the annotated video to a browser
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	idtrack "github.com/thaqib/go-idtrack"
	"github.com/thaqib/go-idtrack/detect"
	"github.com/thaqib/go-idtrack/facemesh"
	"github.com/thaqib/go-idtrack/reid"
	"github.com/thaqib/go-idtrack/render"
)

var (
	configFile string
	source     string
	addr       string
	ttfFont    string
	selectIDs  []int

	rootCmd = &cobra.Command{
		Use:   "classroom",
		Short: "Track and re-identify students in a classroom camera feed",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline on the camera and stream annotated video over HTTP",
		RunE:  runServe,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Validate the configuration file and print the effective settings",
		RunE:  runConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"YAML configuration file, defaults are used when empty")

	serveCmd.Flags().StringVarP(&source, "source", "s", "",
		"Camera device index, video file or stream URL overriding the configuration")
	serveCmd.Flags().StringVarP(&addr, "addr", "a", "localhost:8080",
		"HTTP address to serve the video stream on")
	serveCmd.Flags().StringVarP(&ttfFont, "font", "f", "",
		"TTF font used for labels, the Hershey font is used when empty")
	serveCmd.Flags().IntSliceVar(&selectIDs, "select", nil,
		"Identities to monitor from the start")

	rootCmd.AddCommand(serveCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration file given on the command line
func loadConfig() (idtrack.Config, error) {

	if configFile == "" {
		return idtrack.DefaultConfig(), nil
	}

	return idtrack.LoadConfig(configFile)
}

func runConfig(cmd *cobra.Command, _ []string) error {

	cfg, err := loadConfig()

	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", cfg)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {

	cfg, err := loadConfig()

	if err != nil {
		return err
	}

	if source != "" {
		cfg.Camera.Source = source
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector, err := detect.NewYOLOv8(cfg.Models.Detector, detect.YOLOv8Params{
		BoxThreshold:    float32(cfg.Detection.Confidence),
		NMSThreshold:    float32(cfg.Detection.NMSThreshold),
		ObjectClassNum:  80,
		MaxObjectNumber: 64,
		InputSize:       cfg.Detection.InputSize,
	})

	if err != nil {
		return fmt.Errorf("error loading detector: %w", err)
	}

	defer detector.Close()

	opts := idtrack.Options{
		Detector: detector,
		Logger:   logger,
	}

	if cfg.Detection.SliceSize > 0 {
		opts.Detector = detect.NewSliced(detector, cfg.Detection.SliceSize,
			cfg.Detection.SliceOverlap, cfg.Detection.NMSThreshold)
	}

	opts.Meshes, err = openMeshes(cfg, logger)

	if err != nil {
		return err
	}

	opts.Embedder, err = openEmbedder(cfg, logger)

	if err != nil {
		if opts.Meshes != nil {
			opts.Meshes.Close()
		}
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(
		collectors.ProcessCollectorOpts{}))
	opts.Metrics = idtrack.NewMetrics(reg)

	pipeline, err := idtrack.NewPipeline(cfg, opts)

	if err != nil {
		return fmt.Errorf("error creating pipeline: %w", err)
	}

	defer func() {
		if err := pipeline.Close(); err != nil {
			logger.Warn("classroom: pipeline did not close cleanly", "error", err)
		}
	}()

	pipeline.Select(selectIDs...)

	camera, err := idtrack.OpenCamera(cfg.Camera, logger)

	if err != nil {
		return err
	}

	defer camera.Close()

	font := render.DefaultFont()

	if ttfFont != "" {
		font.TTF, err = render.LoadTTFont(ttfFont, 16)

		if err != nil {
			return fmt.Errorf("error loading font: %w", err)
		}

		defer font.TTF.Close()
	}

	if err := pipeline.Start(ctx); err != nil {
		return err
	}

	demo := NewDemo(pipeline, cfg, font, logger)
	go demo.Consume(ctx, pipeline.Run(ctx, camera.Frames(ctx)))

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", demo.Stream)
	mux.HandleFunc("/select", demo.Select)
	mux.HandleFunc("/deselect", demo.Deselect)
	mux.HandleFunc("/clear", demo.Clear)
	mux.HandleFunc("/label", demo.Label)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	logger.Info("classroom: streaming", "url", "http://"+addr+"/stream",
		"session", pipeline.Session(), "tier", pipeline.Tier().String())

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("error serving stream: %w", err)
	}

	return nil
}

// openMeshes opens a pool of face mesh extractors, returning nil when the
// model is not available
func openMeshes(cfg idtrack.Config, logger *slog.Logger) (facemesh.Extractor, error) {

	if cfg.Models.FaceMesh == "" {
		return nil, nil
	}

	ex, err := idtrack.NewPooledExtractor(cfg.Extraction.Workers, func() (facemesh.Extractor, error) {
		return facemesh.NewDNNExtractor(cfg.Models.FaceMesh, facemesh.DefaultDNNOptions())
	})

	if errors.Is(err, idtrack.ErrModelUnavailable) {
		logger.Warn("classroom: face mesh disabled", "error", err)
		return nil, nil
	}

	return ex, err
}

// openEmbedder opens a pool of appearance embedders, returning nil when the
// model is not available so identities are matched by face geometry
func openEmbedder(cfg idtrack.Config, logger *slog.Logger) (reid.Embedder, error) {

	if cfg.Models.Embedder == "" {
		return nil, nil
	}

	em, err := idtrack.NewPooledEmbedder(cfg.Extraction.Workers, func() (reid.Embedder, error) {
		return reid.NewDNNEmbedder(cfg.Models.Embedder)
	})

	if errors.Is(err, idtrack.ErrModelUnavailable) {
		logger.Warn("classroom: appearance embedding disabled", "error", err)
		return nil, nil
	}

	return em, err
}
