// gatecli - terminal client for the admission funnel
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/challenge"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/domain"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/funnel"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/session"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/status"
	"github.com/Aarush-Dubey/gigachad-ai-gatekeeper/internal/submit"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env")
	}

	baseURL := getEnv("GATE_SERVER_URL", "http://localhost:8080")
	stateDir := getEnv("GATE_STATE_DIR", defaultStateDir())
	token := os.Getenv("GATE_ID_TOKEN")

	if token == "" {
		fmt.Fprintln(os.Stderr, "GATE_ID_TOKEN is not set. Sign in with the identity provider and export the ID token.")
		os.Exit(1)
	}

	durable, err := funnel.OpenFileStorage(filepath.Join(stateDir, "funnel.json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open state storage: %v\n", err)
		os.Exit(1)
	}

	adapter := session.NewAdapter()
	oracle := status.NewClient(baseURL, adapter, nil)
	machine := funnel.New(oracle, durable, funnel.NewMemStorage())

	adapter.OnIdentityChange(machine.SetIdentity)
	adapter.SetToken(token)

	ctx := context.Background()
	machine.Refresh(ctx)

	channel := challenge.NewChannel(challenge.Config{
		BaseURL: baseURL,
		Tokens:  adapter,
	})
	guard := submit.NewGuard(baseURL, adapter, machine, oracle, nil)

	cli := &client{
		in:      bufio.NewScanner(os.Stdin),
		machine: machine,
		adapter: adapter,
		channel: channel,
		guard:   guard,
	}
	cli.run(ctx)
}

type client struct {
	in      *bufio.Scanner
	machine *funnel.Machine
	adapter *session.Adapter
	channel *challenge.Channel
	guard   *submit.Guard
	conv    domain.Conversation
}

func (c *client) run(ctx context.Context) {
	for {
		switch c.machine.Phase() {
		case funnel.PhaseAnonymous:
			fmt.Println("You are signed out. Set GATE_ID_TOKEN and try again.")
			return
		case funnel.PhaseAwaitingChoice:
			if !c.intro() {
				fmt.Println("Very well. The door remains closed.")
				return
			}
			c.machine.EnterChallenge()
		case funnel.PhaseInChallenge:
			if err := c.challengeLoop(ctx); err != nil {
				c.fail(err)
				return
			}
		case funnel.PhaseAdmitted:
			if err := c.submitForm(ctx); err != nil {
				c.fail(err)
				return
			}
		case funnel.PhaseSubmitted:
			fmt.Println()
			fmt.Println("Your submission is on record. The Gatekeeper remembers. There is nothing more to do here.")
			return
		}
	}
}

func (c *client) intro() bool {
	snap := c.machine.Snapshot()
	name := snap.Identity.Name
	if name == "" {
		name = snap.Identity.Email
	}
	fmt.Printf("Welcome, %s.\n", name)
	fmt.Println("Beyond this door sits the Gatekeeper: an AI that admits almost no one.")
	fmt.Println("Impress it and the application form opens. Bore it and you stay outside.")
	fmt.Print("Face the Gatekeeper? [y/N] ")
	if !c.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(c.in.Text()))
	return answer == "y" || answer == "yes"
}

func (c *client) challengeLoop(ctx context.Context) error {
	fmt.Println()
	fmt.Println("The Gatekeeper is listening. Type your words; /quit to give up.")

	for c.machine.Phase() == funnel.PhaseInChallenge {
		fmt.Print("> ")
		if !c.in.Scan() {
			return nil
		}
		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			fmt.Println("The Gatekeeper does not say goodbye.")
			os.Exit(0)
		}

		c.conv.Append(domain.RoleUser, line)

		fmt.Print("\nGatekeeper: ")
		out, err := c.channel.Converse(ctx, c.conv.Messages, func(chunk string) {
			fmt.Print(chunk)
		})
		fmt.Println()
		fmt.Println()

		switch {
		case errors.Is(err, challenge.ErrStreamFailed):
			fmt.Println("(the connection to the Gatekeeper faltered; try again)")
			continue
		case err != nil:
			return err
		}

		c.conv.Append(domain.RoleAssistant, out.Reply)
		if out.Granted {
			fmt.Println("*** The door creaks open. You have been deemed worthy. ***")
			c.machine.MarkAdmitted()
		}
	}
	return nil
}

func (c *client) submitForm(ctx context.Context) error {
	fmt.Println()
	fmt.Println("-- Application form (one submission per identity) --")

	sub := domain.Submission{
		Name:        c.prompt("Full name"),
		StudentID:   c.prompt("Student ID (e.g. 2023A7PS0042P)"),
		Skills:      c.prompt("Skills"),
		Commitments: c.prompt("Other commitments"),
		Notes:       c.prompt("Anything else (optional)"),
		ChatHistory: c.conv.Messages,
	}
	for _, p := range strings.Split(c.prompt("Preferences (comma separated: projects, events, research)"), ",") {
		if p = strings.TrimSpace(p); p != "" {
			sub.Preference = append(sub.Preference, p)
		}
	}

	err := c.guard.Submit(ctx, sub)
	var vErr *submit.ValidationError
	var rej *submit.RejectedError
	switch {
	case err == nil:
		fmt.Println("Submission accepted.")
	case errors.As(err, &vErr):
		fmt.Printf("Fix and retry: %v\n", vErr)
	case errors.As(err, &rej):
		fmt.Printf("The collaborator rejected it: %s\n", rej.Reason)
	case errors.Is(err, submit.ErrAlreadySubmitted):
		fmt.Println("A submission already exists for this identity.")
	default:
		return err
	}
	return nil
}

func (c *client) prompt(label string) string {
	fmt.Printf("%s: ", label)
	if !c.in.Scan() {
		return ""
	}
	return strings.TrimSpace(c.in.Text())
}

func (c *client) fail(err error) {
	if errors.Is(err, session.ErrAuthExpired) {
		c.adapter.SignOut()
		fmt.Fprintln(os.Stderr, "Your session expired. Refresh GATE_ID_TOKEN and start again.")
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gatecli"
	}
	return filepath.Join(home, ".gatecli")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
