package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/astromechza/textsync/pkg/client"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "127.0.0.1:8080", "the address to connect to")
	docVar := flag.String("doc", "default", "the document to join")
	nameVar := flag.String("name", fmt.Sprintf("client-%d", os.Getpid()), "the display name shown to others")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	u := url.URL{Scheme: "ws", Host: *addrVar, Path: "/ws"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := client.Dial(ctx, u.String(), *docVar, *nameVar, slog.Default())
	if err != nil {
		return err
	}
	defer s.Close()
	s.OnChange(func(text string, revision int) {
		slog.Info("remote change", "revision", revision, "text", text)
	})

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := s.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("connection lost", "err", err)
		}
	}()

	// The stdin reader is not joined on exit since a blocked read cannot be interrupted.
	go func() {
		defer cancel()
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := handleLine(s, scanner.Text()); err != nil {
				slog.Error("failed to handle input", "err", err)
			}
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()

	wg.Wait()

	fmt.Print(s.Text())
	return nil
}

// handleLine appends a line of input to the document. A few slash commands inspect and restore
// history instead.
func handleLine(s *client.Session, line string) error {
	switch {
	case line == "/history":
		// Prints the list from the previous request; the answer to this one arrives asynchronously.
		for i, text := range s.History() {
			fmt.Printf("%d: %q\n", i, text)
		}
		return s.RequestHistory()
	case strings.HasPrefix(line, "/restore "):
		index, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/restore ")))
		if err != nil {
			return fmt.Errorf("invalid snapshot index: %w", err)
		}
		return s.RestoreVersion(index)
	case line == "/who":
		for _, p := range s.Participants() {
			fmt.Printf("%s %s\n", p.ParticipantID, p.DisplayName)
		}
		return nil
	default:
		return s.Update(func(text string) string { return text + line + "\n" })
	}
}
