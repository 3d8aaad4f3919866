//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

// Command dipeo runs, converts, and serves diagrams from the command line.
//
//	dipeo run <diagram>      compile and execute a diagram, streaming progress
//	dipeo convert <in> <out> rewrite a diagram between formats
//	dipeo serve              expose the HTTP API with SSE event streams
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"

	"github.com/dipeo/dipeo-go/apikey"
	"github.com/dipeo/dipeo-go/compiler"
	"github.com/dipeo/dipeo-go/condition"
	"github.com/dipeo/dipeo-go/conversation"
	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/execution"
	"github.com/dipeo/dipeo-go/fileio"
	"github.com/dipeo/dipeo-go/handlers"
	"github.com/dipeo/dipeo-go/llm/openai"
	"github.com/dipeo/dipeo-go/log"
	"github.com/dipeo/dipeo-go/observer"
	"github.com/dipeo/dipeo-go/server"
	"github.com/dipeo/dipeo-go/service"
	"github.com/dipeo/dipeo-go/state"
	statefile "github.com/dipeo/dipeo-go/state/file"
	"github.com/dipeo/dipeo-go/state/inmemory"
	"github.com/dipeo/dipeo-go/storage"
)

func main() {
	// Missing .env files are fine; environment variables win either way.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "convert":
		err = convertCmd(os.Args[2:])
	case "serve":
		err = serveCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "dipeo:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  dipeo run <diagram-file-or-id> [flags]
  dipeo convert <in-file> <out-file> [flags]
  dipeo serve [flags]`)
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	debug := fs.Bool("debug", false, "enable debug logging")
	timeout := fs.Duration("timeout", 10*time.Minute, "overall execution timeout")
	diagramsDir := fs.String("diagrams", "files/diagrams", "diagram lookup directory")
	filesDir := fs.String("files", "files", "base directory for file node operations")
	stateDir := fs.String("state", "", "persist execution state under this directory")
	keysFile := fs.String("keys", "files/apikeys.json", "API key file")
	continueOnError := fs.Bool("continue-on-error", false, "keep executing unaffected branches after a node failure")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("run takes exactly one diagram file or id")
	}
	if *debug {
		log.SetLevel(log.LevelDebug)
	}

	domain, err := loadDiagram(fs.Arg(0), *diagramsDir)
	if err != nil {
		return err
	}
	compiled, err := compiler.New().Compile(domain)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	registry, err := buildServices(*keysFile, *filesDir)
	if err != nil {
		return err
	}

	var store state.Store = inmemory.NewStore()
	if *stateDir != "" {
		store, err = statefile.NewStore(*stateDir)
		if err != nil {
			return err
		}
	}
	service.StateStore.Register(registry, store)

	manager := execution.NewManager()
	streaming := observer.NewStreamingObserver()
	service.MessageRouter.Register(registry, streaming)
	bus := observer.NewBus(
		observer.NewStateStoreObserver(store, manager),
		streaming,
		consoleObserver{debug: *debug},
	)

	policy := engine.FailFast
	if *continueOnError {
		policy = engine.ContinueOnError
	}
	eng := engine.New(handlers.All(),
		engine.WithServices(registry),
		engine.WithBus(bus),
		engine.WithManager(manager),
		engine.WithConversation(conversation.NewManager()),
		engine.WithInteractive(stdinPrompt()),
		engine.WithErrorPolicy(policy),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	executionID := execution.ID(ulid.Make().String())
	started := time.Now()
	snap, runErr := eng.Run(ctx, compiled, executionID)

	if snap != nil {
		fmt.Printf("execution %s: %s in %s\n", snap.ExecutionID, snap.Status, time.Since(started).Round(time.Millisecond))
		totals := snap.TokenTotals
		if totals.Input > 0 || totals.Output > 0 {
			fmt.Printf("tokens: %d in / %d out", totals.Input, totals.Output)
			if totals.Cached > 0 {
				fmt.Printf(" (%d cached)", totals.Cached)
			}
			fmt.Println()
		}
	}
	return runErr
}

func convertCmd(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	to := fs.String("to", "", "target format: native, light, or readable (default: inferred from output extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("convert takes an input file and an output file")
	}
	in, out := fs.Arg(0), fs.Arg(1)

	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	d, from, err := storage.Decode(in, data)
	if err != nil {
		return err
	}

	target := storage.Format(*to)
	if target == "" {
		if strings.EqualFold(filepath.Ext(out), ".json") {
			target = storage.FormatNative
		} else {
			target = storage.FormatLight
		}
	}
	codec, err := storage.CodecFor(target)
	if err != nil {
		return err
	}
	encoded, err := codec.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode as %s: %w", target, err)
	}
	if err := os.WriteFile(out, encoded, 0o644); err != nil {
		return err
	}
	log.Infof("converted %s (%s) to %s (%s)", in, from, out, target)
	return nil
}

func serveCmd(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "listen address")
	debug := fs.Bool("debug", false, "enable debug logging")
	diagramsDir := fs.String("diagrams", "files/diagrams", "diagram directory")
	filesDir := fs.String("files", "files", "base directory for file node operations")
	stateDir := fs.String("state", "files/state", "execution state directory")
	keysFile := fs.String("keys", "files/apikeys.json", "API key file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *debug {
		log.SetLevel(log.LevelDebug)
	}

	registry, err := buildServices(*keysFile, *filesDir)
	if err != nil {
		return err
	}
	store, err := statefile.NewStore(*stateDir)
	if err != nil {
		return err
	}
	service.StateStore.Register(registry, store)
	diagrams, err := storage.NewFileStore(*diagramsDir)
	if err != nil {
		return err
	}

	manager := execution.NewManager()
	streaming := observer.NewStreamingObserver()
	service.MessageRouter.Register(registry, streaming)
	bus := observer.NewBus(observer.NewStateStoreObserver(store, manager), streaming)

	eng := engine.New(handlers.All(),
		engine.WithServices(registry),
		engine.WithBus(bus),
		engine.WithManager(manager),
		engine.WithConversation(conversation.NewManager()),
	)

	srv := server.New(eng, compiler.New(), diagrams, store, streaming)
	log.Infof("listening on %s", *addr)
	return http.ListenAndServe(*addr, srv.Router())
}

// buildServices binds the standard runtime services handlers resolve by key.
func buildServices(keysFile, filesDir string) (*service.Registry, error) {
	registry := service.NewRegistry()

	var keys apikey.Service
	fileKeys, err := apikey.NewFileStore(keysFile)
	if err != nil {
		return nil, err
	}
	keys = fileKeys
	if infos, _ := fileKeys.ListKeys(context.Background()); len(infos) == 0 {
		keys = &apikey.EnvStore{}
	}
	service.APIKeyService.Register(registry, keys)
	service.LLMService.Register(registry, openai.New(keys))

	files, err := fileio.NewLocal(filesDir)
	if err != nil {
		return nil, err
	}
	service.FileService.Register(registry, files)
	service.ConditionEvaluation.Register(registry, condition.NewExprEvaluator())
	return registry, nil
}

// loadDiagram resolves the argument as a file path first, then as an id in
// the diagram directory.
func loadDiagram(arg, dir string) (*diagram.DomainDiagram, error) {
	if _, err := os.Stat(arg); err == nil {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, err
		}
		d, _, err := storage.Decode(arg, data)
		return d, err
	}
	diagrams, err := storage.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	return diagrams.Load(context.Background(), arg)
}
