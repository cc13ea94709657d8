package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"gamevault/internal/config"
	"gamevault/internal/download"
	"gamevault/internal/install"
	"gamevault/internal/packager"
	"gamevault/internal/status"
)

func main() {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	registry := status.NewRegistry()

	app := &cli.App{
		Name:  "gamevault",
		Usage: "download, verify, and install games from a gamevault server",
		Commands: []*cli.Command{
			installCommand(cfg, registry),
			uninstallCommand(cfg),
			statusCommand(registry),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("gamevault: %v", err)
	}
}

func installCommand(cfg *config.ClientConfig, registry *status.Registry) *cli.Command {
	return &cli.Command{
		Name:      "install",
		Usage:     "download and install a game by id",
		ArgsUsage: "<game-id>",
		Action: func(c *cli.Context) error {
			gameID := c.Args().First()
			if gameID == "" {
				return cli.Exit("missing game id", 1)
			}
			return runInstall(c.Context, cfg, registry, gameID)
		},
	}
}

func uninstallCommand(cfg *config.ClientConfig) *cli.Command {
	return &cli.Command{
		Name:      "uninstall",
		Usage:     "remove an installed game, preserving its save data",
		ArgsUsage: "<game-id>",
		Action: func(c *cli.Context) error {
			gameID := c.Args().First()
			if gameID == "" {
				return cli.Exit("missing game id", 1)
			}
			manifestPath := filepath.Join(cfg.BaseDir, "games", gameID, "manifest.json")
			m, err := packager.LoadManifest(manifestPath)
			if err != nil {
				return fmt.Errorf("load manifest for %s: %w", gameID, err)
			}
			return install.Uninstall(cfg.BaseDir, gameID, m)
		},
	}
}

func statusCommand(registry *status.Registry) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "print the status of every tracked install job",
		Action: func(c *cli.Context) error {
			for _, s := range registry.List() {
				fmt.Printf("%s\tstate=%s\tdownload=%.2f\tprocess=%.2f\n", s.ID, s.State, s.Download, s.Process)
			}
			return nil
		},
	}
}

func runInstall(ctx context.Context, cfg *config.ClientConfig, registry *status.Registry, gameID string) error {
	manifestPath := filepath.Join(cfg.BaseDir, "processes", gameID, "manifest.json")
	configPath := filepath.Join(cfg.BaseDir, "processes", gameID, "config.yaml")

	if err := fetchGameDoc(ctx, cfg, gameID, "manifest.json", manifestPath); err != nil {
		return fmt.Errorf("fetch manifest: %w", err)
	}
	if err := fetchGameDoc(ctx, cfg, gameID, "config.yaml", configPath); err != nil {
		return fmt.Errorf("fetch config: %w", err)
	}

	m, err := packager.LoadManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("load fetched manifest: %w", err)
	}

	pipeline := &install.Pipeline{BaseDir: cfg.BaseDir, Registry: registry}
	fetch := chunkFetcher(cfg, gameID)

	if err := pipeline.Run(ctx, gameID, m, manifestPath, configPath, fetch); err != nil {
		return err
	}

	final := registry.Get(gameID)
	if final.State == status.StateError {
		return fmt.Errorf("install failed: %s", final.Error)
	}
	fmt.Printf("installed %s: %s\n", gameID, final.State)
	return nil
}

// chunkFetcher adapts the server's downloadchunk endpoint into an
// install.ChunkFetcher, carrying the client's API key the same way
// every other authenticated request does.
func chunkFetcher(cfg *config.ClientConfig, gameID string) install.ChunkFetcher {
	return func(ctx context.Context, chunkIndex int, dest string, onBytes download.OnBytes) error {
		url := fmt.Sprintf("%s/games/%s/downloadchunk/%d?api-key=%s", cfg.ServerURL, gameID, chunkIndex, cfg.APIKey)
		return download.Stream(ctx, url, dest, onBytes)
	}
}

func fetchGameDoc(ctx context.Context, cfg *config.ClientConfig, gameID, name, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	url := fmt.Sprintf("%s/games/%s/download/%s?api-key=%s", cfg.ServerURL, gameID, name, cfg.APIKey)
	if err := download.Stream(ctx, url, dest, nil); err != nil {
		return err
	}
	return nil
}
