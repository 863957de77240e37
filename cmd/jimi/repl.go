package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	jimi "github.com/jimihq/jimi"
)

// repl reads user input line by line, dispatching slash commands
// locally and everything else through the engine. Ctrl-C during a turn
// cancels the turn, not the process.
func repl(session *jimi.Session, in *bufio.Reader) error {
	renderer := newRenderer(os.Stdout, in)
	sub := session.Bus().Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		renderer.consume(sub)
	}()
	defer func() {
		sub.Close()
		<-done
	}()

	fmt.Println("jimi — type a task, /help for commands, /exit to quit.")
	for {
		fmt.Print("> ")
		line, err := in.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(session, renderer, line); quit {
				return nil
			}
			continue
		}

		runTurn(session, renderer, line)
	}
}

// runTurn executes one engine turn with Ctrl-C wired to cancellation.
func runTurn(session *jimi.Session, r *renderer, input string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := session.Run(ctx, input)
	r.flush()
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		fmt.Println("\n[interrupted]")
	default:
		var maxErr *jimi.ErrMaxSteps
		if errors.As(err, &maxErr) {
			fmt.Printf("\n[turn stopped: %v]\n", err)
			return
		}
		fmt.Printf("\n[error: %v]\n", err)
	}
}
