package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	jimi "github.com/jimihq/jimi"
)

// runCommand handles a slash command. Returns true when the REPL
// should exit.
func runCommand(session *jimi.Session, r *renderer, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/exit", "/quit":
		return true

	case "/help":
		fmt.Print(`commands:
  /history [n]          show the last n history entries (default 20)
  /reset                discard the conversation
  /compact              force a compaction pass now
  /async list           live background subagents
  /async status <id>    one subagent, live or completed
  /async cancel <id>    cancel a live subagent
  /async result <id>    full result of a finished subagent
  /async history [n]    persisted run history for this workdir
  /async history clear  delete the persisted history
  /exit                 quit
`)

	case "/reset":
		if err := session.Reset(); err != nil {
			fmt.Printf("reset failed: %v\n", err)
		} else {
			fmt.Println("conversation reset")
		}

	case "/compact":
		if err := session.Compact(context.Background()); err != nil {
			fmt.Printf("compaction failed: %v\n", err)
		}

	case "/history":
		n := 20
		if len(args) > 0 {
			if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
				n = v
			}
		}
		history := session.Store().History()
		if len(history) > n {
			history = history[len(history)-n:]
		}
		fmt.Printf("%d messages, ~%d tokens used\n", len(session.Store().History()), session.Store().TokenCount())
		for _, m := range history {
			fmt.Printf("  %-9s %s\n", m.Role, trim(m.Text(), 100))
		}

	case "/async":
		asyncCommand(session.Async(), args)

	default:
		fmt.Printf("unknown command %s (try /help)\n", cmd)
	}
	return false
}

func asyncCommand(mgr *jimi.AsyncManager, args []string) {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		live := mgr.List()
		if len(live) == 0 {
			fmt.Println("no live async subagents")
			return
		}
		for _, rec := range live {
			fmt.Printf("  %s  %-10s %-9s %s\n", rec.ID, rec.Name, rec.Status, trim(rec.Prompt, 60))
		}

	case "status":
		if len(args) < 2 {
			fmt.Println("usage: /async status <id>")
			return
		}
		rec, ok := mgr.Get(args[1])
		if !ok {
			rec, ok = mgr.Persistence().Load(mgr.WorkDir(), args[1])
		}
		if !ok {
			fmt.Println("unknown id", args[1])
			return
		}
		fmt.Printf("  %s  %s  %s  started %s", rec.ID, rec.Name, rec.Status,
			rec.StartTime.Format("15:04:05"))
		if rec.EndTime != nil {
			fmt.Printf("  took %s", jimi.FormatDuration(rec.DurationMs))
		}
		fmt.Println()
		if rec.Error != "" {
			fmt.Println("  error:", rec.Error)
		}

	case "cancel":
		if len(args) < 2 {
			fmt.Println("usage: /async cancel <id>")
			return
		}
		if mgr.Cancel(args[1]) {
			fmt.Println("cancelled", args[1])
		} else {
			fmt.Println("not a live subagent:", args[1])
		}

	case "result":
		if len(args) < 2 {
			fmt.Println("usage: /async result <id>")
			return
		}
		rec, ok := mgr.Get(args[1])
		if !ok {
			fmt.Println("unknown id", args[1])
			return
		}
		if rec.Result == "" {
			fmt.Println("(no result yet)")
			return
		}
		fmt.Println(rec.Result)

	case "history":
		store := mgr.Persistence()
		workdir := mgr.WorkDir()
		if len(args) > 1 && args[1] == "clear" {
			n := store.Clear(workdir)
			fmt.Printf("cleared %d records\n", n)
			return
		}
		limit := 10
		if len(args) > 1 {
			if v, err := strconv.Atoi(args[1]); err == nil && v > 0 {
				limit = v
			}
		}
		entries := store.History(workdir, limit)
		if len(entries) == 0 {
			fmt.Println("no persisted async history")
			return
		}
		for _, e := range entries {
			fmt.Printf("  %s  %-10s %-9s %s  %s\n", e.ID, e.Name, e.Status,
				e.StartTime.Format("2006-01-02 15:04"), jimi.FormatDuration(e.DurationMs))
		}

	default:
		fmt.Println("usage: /async list|status <id>|cancel <id>|result <id>|history [n|clear]")
	}
}
