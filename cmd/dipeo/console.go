//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dipeo/dipeo-go/diagram"
	"github.com/dipeo/dipeo-go/engine"
	"github.com/dipeo/dipeo-go/events"
	"github.com/dipeo/dipeo-go/log"
)

// consoleObserver prints execution progress to the terminal. Node-level
// detail only appears with --debug.
type consoleObserver struct {
	debug bool
}

func (o consoleObserver) OnEvent(_ context.Context, evt *events.Event) error {
	switch evt.Type {
	case events.TypeExecutionStart:
		log.Infof("execution %s started (diagram %s)", evt.ExecutionID, evt.DiagramID)
	case events.TypeNodeUpdate:
		if !o.debug {
			return nil
		}
		if evt.SkipReason != "" {
			log.Debugf("node %s: %s (%s)", evt.NodeID, evt.State, evt.SkipReason)
		} else {
			log.Debugf("node %s: %s", evt.NodeID, evt.State)
		}
	case events.TypeNodeError:
		log.Warnf("node %s failed: %s", evt.NodeID, evt.Error)
	case events.TypeExecutionComplete:
		log.Infof("execution %s %s", evt.ExecutionID, evt.Status)
	case events.TypeExecutionError:
		log.Errorf("execution %s failed: %s", evt.ExecutionID, evt.Error)
	}
	return nil
}

// stdinPrompt answers user_response nodes from the terminal.
func stdinPrompt() engine.InteractiveFunc {
	reader := bufio.NewReader(os.Stdin)
	return func(ctx context.Context, nodeID diagram.NodeID, prompt string, _ map[string]any) (string, error) {
		fmt.Printf("\n[%s] %s\n> ", nodeID, prompt)

		type result struct {
			line string
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			line, err := reader.ReadString('\n')
			ch <- result{line, err}
		}()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case r := <-ch:
			if r.err != nil {
				return "", r.err
			}
			return strings.TrimRight(r.line, "\r\n"), nil
		}
	}
}
