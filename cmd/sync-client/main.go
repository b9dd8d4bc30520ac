package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	synchub "readhub/internal/sync"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7070", "TCP sync server address")
	raw := flag.Bool("raw", false, "print raw JSON lines instead of decoded events")
	flag.Parse()

	for {
		if err := run(*addr, *raw); err != nil {
			log.Printf("[sync-client] disconnected: %v", err)
		}
		time.Sleep(1 * time.Second) // auto reconnect
	}
}

func run(addr string, raw bool) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	log.Printf("[sync-client] connected to %s, waiting for profile events", addr)

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := sc.Bytes()

		if raw {
			fmt.Println(string(line))
			continue
		}

		var ev synchub.ProfileEvent
		if err := json.Unmarshal(line, &ev); err != nil || ev.Type == "" {
			// not a profile event, print as-is
			fmt.Println(string(line))
			continue
		}
		fmt.Println(formatEvent(ev))
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return os.ErrClosed
}

func formatEvent(ev synchub.ProfileEvent) string {
	parts := []string{
		ev.At.Local().Format("15:04:05"),
		ev.Type,
		"user=" + ev.UserID,
	}
	if ev.ProfileID != "" {
		parts = append(parts, "profile="+ev.ProfileID)
	}
	if ev.SeriesID != "" {
		parts = append(parts, "series="+ev.SeriesID)
	}
	if ev.LibraryID != "" {
		parts = append(parts, "library="+ev.LibraryID)
	}
	return strings.Join(parts, " ")
}
