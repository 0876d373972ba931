package main

import (
	"fmt"
	"os"
	"strconv"

	"chatty/internal/durable"
)

// runCLI dispatches subcommands before flag parsing happens in config.Load,
// matching the teacher's RunCLI(args, dbPath) bool pattern in
// _examples/rustyguts-bken/server/cli.go: each subcommand opens what it
// needs directly and exits, never falling through to serve().
func runCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "version":
		fmt.Println("chattyd", version)
		return true
	case "status":
		cmdStatus(args[1:])
		return true
	case "rooms":
		cmdRooms(args[1:])
		return true
	case "audit":
		cmdAudit(args[1:])
		return true
	case "backup":
		cmdBackup(args[1:])
		return true
	case "help", "-h", "--help":
		printUsage()
		return true
	default:
		return false
	}
}

func printUsage() {
	fmt.Println(`chattyd [flags]
  serve (default): run the aggregation server

subcommands:
  version                  print the server version
  status --db PATH         print persisted replay/audit summary
  rooms list --db PATH     list rooms seen in persisted replay state
  audit --db PATH [--limit N]
                           print recent audit log entries
  backup --db PATH DEST    write a consistent backup of the database

flags:
  --config PATH            TOML config file (default chatty.toml)
  --bind quic://host:port  QUIC bind address (default 127.0.0.1:18203)
  --log-json               emit JSON logs`)
}

func openStore(dbPath string) *durable.Store {
	store, err := durable.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chattyd: open store:", err)
		os.Exit(1)
	}
	return store
}

func dbFlag(args []string) string {
	for i, a := range args {
		if a == "--db" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return "chatty.db"
}

func cmdStatus(args []string) {
	store := openStore(dbFlag(args))
	defer store.Close()

	var rows int
	if err := store.DB().QueryRow(`SELECT count(*) FROM replay_events`).Scan(&rows); err != nil {
		fmt.Fprintln(os.Stderr, "chattyd: status query:", err)
		os.Exit(1)
	}
	fmt.Printf("replay events stored: %d\n", rows)
}

func cmdRooms(args []string) {
	if len(args) == 0 || args[0] != "list" {
		printUsage()
		os.Exit(2)
	}
	store := openStore(dbFlag(args[1:]))
	defer store.Close()

	rows, err := store.DB().Query(`SELECT DISTINCT topic FROM replay_events ORDER BY topic`)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chattyd: rooms query:", err)
		os.Exit(1)
	}
	defer rows.Close()
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err == nil {
			fmt.Println(topic)
		}
	}
}

func cmdAudit(args []string) {
	store := openStore(dbFlag(args))
	defer store.Close()

	limit := 50
	for i, a := range args {
		if a == "--limit" && i+1 < len(args) {
			if n, err := strconv.Atoi(args[i+1]); err == nil && n > 0 {
				limit = n
			}
		}
	}
	rows, err := store.DB().Query(`SELECT actor_id, topic, command_kind, target_user_id, target_message_id, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chattyd: audit query:", err)
		os.Exit(1)
	}
	defer rows.Close()
	for rows.Next() {
		var actorID, topic, kind, targetUser, targetMsg, createdAt string
		if err := rows.Scan(&actorID, &topic, &kind, &targetUser, &targetMsg, &createdAt); err != nil {
			continue
		}
		fmt.Printf("%s  %-8s %-30s actor=%s target_user=%s target_msg=%s\n", createdAt, kind, topic, actorID, targetUser, targetMsg)
	}
}

func cmdBackup(args []string) {
	if len(args) < 2 {
		printUsage()
		os.Exit(2)
	}
	store := openStore(dbFlag(args))
	defer store.Close()
	dest := args[len(args)-1]
	if err := store.Backup(dest); err != nil {
		fmt.Fprintln(os.Stderr, "chattyd: backup:", err)
		os.Exit(1)
	}
	fmt.Println("backup written to", dest)
}
