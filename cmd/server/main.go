// Command memindexd runs one sync pass of the hybrid memory index for a
// single agent workspace and reports the resulting status, or, with
// -search, runs a memory_search call against the current index. It
// exists for operators and local testing; the agent runtime itself
// consumes the library packages directly.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentmemory/memoryindex/internal/config"
	"github.com/agentmemory/memoryindex/internal/indexer"
	"github.com/agentmemory/memoryindex/internal/manager"
	"github.com/agentmemory/memoryindex/internal/toolsurface"
)

type stdoutProgress struct{}

func (stdoutProgress) Report(completed, total int, label string) {
	fmt.Printf("sync: %d/%d %s\n", completed, total, label)
}

func main() {
	var (
		showVersion bool
		agentID     string
		workspace   string
		sessionsDir string
		searchQuery string
		syncOnly    bool
	)
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.StringVar(&agentID, "agent", "default", "agent id owning this workspace")
	flag.StringVar(&workspace, "workspace", ".", "workspace directory containing MEMORY.md / memory/*.md")
	flag.StringVar(&sessionsDir, "sessions", "", "session transcripts directory (<agent_dir>/sessions)")
	flag.StringVar(&searchQuery, "search", "", "run a memory_search query against the index instead of syncing")
	flag.BoolVar(&syncOnly, "sync", false, "run one sync pass, print the status snapshot and exit (the same as running without -search)")
	flag.Parse()

	if showVersion {
		fmt.Println("memindexd dev build")
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mgr, err := manager.New(ctx, cfg, manager.AgentSpec{
		AgentID:      agentID,
		WorkspaceDir: workspace,
		ExtraPaths:   cfg.ExtraPaths,
		SessionsDir:  sessionsDir,
	}, logger)
	if err != nil {
		log.Fatalf("failed to build memory index manager: %v", err)
	}
	defer mgr.Close()

	runCtx, runCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer runCancel()

	if searchQuery != "" {
		runSearch(runCtx, mgr, searchQuery)
		return
	}

	if err := mgr.Sync(runCtx, "manual", stdoutProgress{}); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("sync failed: %v", err)
	}

	status, err := mgr.Status(runCtx)
	if err != nil {
		log.Fatalf("status failed: %v", err)
	}
	printStatus(status)

	if syncOnly {
		return
	}
}

func runSearch(ctx context.Context, mgr *manager.Manager, query string) {
	env := mgr.Tools.Search(ctx, toolsurface.SearchParams{Query: query, MaxResults: 10}, toolsurface.AmbientContext{ChatType: "direct"})
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		log.Fatalf("encode search result: %v", err)
	}
}

func printStatus(status indexer.Status) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		log.Fatalf("encode status: %v", err)
	}
}
