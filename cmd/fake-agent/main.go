// ABOUTME: Fake agent for demos and E2E testing; emits scripted hook events
// ABOUTME: Usage: fake-agent [-socket PATH] [-scenario lifecycle|permission|loop|burst]

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/watchtower/internal/config"
	"github.com/2389/watchtower/internal/event"
)

func main() {
	socket := flag.String("socket", config.Default().SocketPath, "Intake socket path")
	scenario := flag.String("scenario", "lifecycle", "Scenario: lifecycle, permission, loop, burst")
	pane := flag.String("pane", "%fake-0", "Pane identity to report")
	project := flag.String("project", "demo-project", "Project name to report")
	agents := flag.Int("agents", 3, "Agent count for the burst scenario")
	iterations := flag.Int("iterations", 5, "Stop cycles for the loop scenario")
	interval := flag.Duration("interval", 400*time.Millisecond, "Pacing between events")
	hold := flag.Duration("hold", 25*time.Second, "How long the permission scenario stays blocked")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	send := sender{socket: *socket}
	log.Printf("scenario %s against %s", *scenario, *socket)

	var err error
	switch *scenario {
	case "lifecycle":
		err = runLifecycle(ctx, send, *pane, *project, *interval)
	case "permission":
		err = runPermission(ctx, send, *pane, *project, *interval, *hold)
	case "loop":
		err = runLoop(ctx, send, *pane, *project, *interval, *iterations)
	case "burst":
		err = runBurst(ctx, send, *project, *interval, *agents)
	default:
		err = fmt.Errorf("unknown scenario %q", *scenario)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

// sender delivers one record per connection, the way one-shot hook scripts do.
type sender struct {
	socket string
}

func (s sender) event(ctx context.Context, w event.WireEvent) error {
	if w.Timestamp == 0 {
		w.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", s.socket)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.socket, err)
	}
	defer conn.Close()

	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// goodbye emits a final SessionEnd even when the run context is already
// cancelled, so the monitored pane leaves the table cleanly.
func (s sender) goodbye(pane, project string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.event(ctx, event.WireEvent{
		PaneID:  pane,
		Event:   string(event.KindSessionEnd),
		Project: project,
		Reason:  "clear",
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// runLifecycle cycles prompt → tool round trips → stop until interrupted.
// Context usage climbs across turns and resets through a PreCompact.
func runLifecycle(ctx context.Context, send sender, pane, project string, interval time.Duration) error {
	defer send.goodbye(pane, project)

	if err := send.event(ctx, event.WireEvent{
		PaneID:  pane,
		Event:   string(event.KindSessionStart),
		Project: project,
		Source:  "startup",
	}); err != nil {
		return err
	}

	tools := []struct {
		name  string
		input string
	}{
		{"Read", `{"file_path":"internal/server/handler.go"}`},
		{"Grep", `{"pattern":"TODO"}`},
		{"Edit", `{"file_path":"internal/server/handler.go"}`},
		{"Bash", `{"command":"make test"}`},
	}

	ctxPct := 8.0
	for turn := 0; ; turn++ {
		if err := sleep(ctx, interval); err != nil {
			return err
		}
		if err := send.event(ctx, event.WireEvent{
			PaneID:     pane,
			Event:      string(event.KindUserPromptSubmit),
			Project:    project,
			UserPrompt: fmt.Sprintf("work on task %d", turn+1),
		}); err != nil {
			return err
		}

		for i, tool := range tools {
			toolUseID := fmt.Sprintf("tu-%s-%d-%d", pane, turn, i)
			if err := sleep(ctx, interval); err != nil {
				return err
			}
			if err := send.event(ctx, event.WireEvent{
				PaneID:    pane,
				Event:     string(event.KindPreToolUse),
				Project:   project,
				ToolName:  tool.name,
				ToolInput: json.RawMessage(tool.input),
				ToolUseID: toolUseID,
			}); err != nil {
				return err
			}
			if err := sleep(ctx, interval); err != nil {
				return err
			}
			if err := send.event(ctx, event.WireEvent{
				PaneID:    pane,
				Event:     string(event.KindPostToolUse),
				Project:   project,
				ToolName:  tool.name,
				ToolUseID: toolUseID,
			}); err != nil {
				return err
			}
		}

		ctxPct += 9
		if ctxPct >= 85 {
			if err := send.event(ctx, event.WireEvent{
				PaneID:  pane,
				Event:   string(event.KindPreCompact),
				Project: project,
				Trigger: "auto",
			}); err != nil {
				return err
			}
			if err := sleep(ctx, 2*interval); err != nil {
				return err
			}
			ctxPct = 20
		}

		if err := sleep(ctx, interval); err != nil {
			return err
		}
		pct := ctxPct
		if err := send.event(ctx, event.WireEvent{
			PaneID:     pane,
			Event:      string(event.KindStop),
			Project:    project,
			Reason:     "end_turn",
			ContextPct: &pct,
		}); err != nil {
			return err
		}

		// Sit idle between turns like a real session waiting for input.
		if err := sleep(ctx, 5*interval); err != nil {
			return err
		}
	}
}

// runPermission parks the agent on a permission request, then resolves it
// after the hold expires.
func runPermission(ctx context.Context, send sender, pane, project string, interval, hold time.Duration) error {
	defer send.goodbye(pane, project)

	steps := []event.WireEvent{
		{PaneID: pane, Event: string(event.KindSessionStart), Project: project, Source: "startup"},
		{PaneID: pane, Event: string(event.KindUserPromptSubmit), Project: project, UserPrompt: "clean up the build artifacts"},
		{PaneID: pane, Event: string(event.KindPreToolUse), Project: project, ToolName: "Bash", ToolInput: json.RawMessage(`{"command":"rm -rf ./dist"}`), ToolUseID: "tu-perm-1"},
		{PaneID: pane, Event: string(event.KindPermissionRequest), Project: project, ToolName: "Bash", Message: "Bash wants to run: rm -rf ./dist", PermissionMode: "default"},
	}
	for _, w := range steps {
		if err := send.event(ctx, w); err != nil {
			return err
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}

	log.Printf("%s blocked on permission for %s (approve it from the TUI, or wait)", pane, hold)
	if err := sleep(ctx, hold); err != nil {
		return err
	}

	if err := send.event(ctx, event.WireEvent{
		PaneID:    pane,
		Event:     string(event.KindPostToolUse),
		Project:   project,
		ToolName:  "Bash",
		ToolUseID: "tu-perm-1",
	}); err != nil {
		return err
	}
	if err := sleep(ctx, interval); err != nil {
		return err
	}
	return send.event(ctx, event.WireEvent{
		PaneID:  pane,
		Event:   string(event.KindStop),
		Project: project,
		Reason:  "end_turn",
	})
}

// runLoop emits a fixed number of stop cycles at loop cadence. Register a
// loop config for the pane to watch breaker decisions fire.
func runLoop(ctx context.Context, send sender, pane, project string, interval time.Duration, iterations int) error {
	defer send.goodbye(pane, project)

	if err := send.event(ctx, event.WireEvent{
		PaneID:  pane,
		Event:   string(event.KindSessionStart),
		Project: project,
		Source:  "startup",
	}); err != nil {
		return err
	}

	for i := 1; i <= iterations; i++ {
		if err := sleep(ctx, interval); err != nil {
			return err
		}
		if err := send.event(ctx, event.WireEvent{
			PaneID:     pane,
			Event:      string(event.KindUserPromptSubmit),
			Project:    project,
			UserPrompt: fmt.Sprintf("continue working (iteration %d)", i),
		}); err != nil {
			return err
		}

		toolUseID := fmt.Sprintf("tu-%s-loop-%d", pane, i)
		if err := sleep(ctx, interval); err != nil {
			return err
		}
		if err := send.event(ctx, event.WireEvent{
			PaneID:    pane,
			Event:     string(event.KindPreToolUse),
			Project:   project,
			ToolName:  "Edit",
			ToolInput: json.RawMessage(`{"file_path":"main.go"}`),
			ToolUseID: toolUseID,
		}); err != nil {
			return err
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
		if err := send.event(ctx, event.WireEvent{
			PaneID:    pane,
			Event:     string(event.KindPostToolUse),
			Project:   project,
			ToolName:  "Edit",
			ToolUseID: toolUseID,
		}); err != nil {
			return err
		}

		if err := sleep(ctx, interval); err != nil {
			return err
		}
		if err := send.event(ctx, event.WireEvent{
			PaneID:  pane,
			Event:   string(event.KindStop),
			Project: project,
			Reason:  "end_turn",
		}); err != nil {
			return err
		}
		log.Printf("%s finished iteration %d/%d", pane, i, iterations)
	}
	return nil
}

// runBurst runs staggered lifecycle agents in parallel to stress the queue.
func runBurst(ctx context.Context, send sender, project string, interval time.Duration, agents int) error {
	if agents < 1 {
		return fmt.Errorf("agents must be at least 1")
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < agents; i++ {
		i := i
		pane := fmt.Sprintf("%%fake-%d", i)
		stagger := time.Duration(i) * interval / 2
		g.Go(func() error {
			if err := sleep(ctx, stagger); err != nil {
				return err
			}
			return runLifecycle(ctx, send, pane, fmt.Sprintf("%s-%d", project, i), interval)
		})
	}
	return g.Wait()
}
