package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ssafy13th-common/glml-chat/internal/chat"
	"github.com/ssafy13th-common/glml-chat/internal/config"
	"github.com/ssafy13th-common/glml-chat/internal/livelocation"
	"github.com/ssafy13th-common/glml-chat/internal/logger"
	"github.com/ssafy13th-common/glml-chat/internal/model"
	"github.com/ssafy13th-common/glml-chat/internal/rest"
)

func main() {
	logger.SetPrefix("chatcli")
	room := flag.String("room", "", "room id to join")
	user := flag.String("user", "", "user email (sender identity)")
	token := flag.String("token", "", "bearer token for REST calls")
	locToken := flag.String("location-token", "", "access token for the live-location socket")
	flag.Parse()

	if *room == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "usage: chatcli -room <id> -user <email> [-token <jwt>] [-location-token <jwt>]")
		os.Exit(2)
	}

	cfg := config.Load()
	cc := cfg.Client

	var restOpts []rest.Option
	if *token != "" {
		restOpts = append(restOpts, rest.WithAuthToken(*token))
	}
	backend := rest.New(cc.RestBaseURL, restOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := chat.EnterRoom(ctx, chat.SessionConfig{
		RoomID:          *room,
		SelfID:          *user,
		PageSize:        cc.PageSize,
		WSURL:           cc.ChatWSURL,
		WSFallbackURL:   cc.ChatWSFallbackURL,
		Backend:         backend,
		ReportInterval:  cc.ReportInterval(),
		RefreshInterval: cc.RefreshInterval(),
		SendTimeout:     cc.SendTimeout(),
		InitialBackoff:  cc.BackoffInitial(),
		MaxBackoff:      cc.BackoffMax(),
		MaxRetries:      cc.MaxRetries,
		OnUpdate:        printUpdate(*user),
	})
	if err != nil {
		logger.Errorf("enter room %s: %v", *room, err)
		os.Exit(1)
	}
	defer session.Leave()

	var loc *livelocation.Client
	if *locToken != "" && cc.LocationWSURL != "" {
		loc = livelocation.New(livelocation.Options{
			URL:         cc.LocationWSURL,
			AccessToken: *locToken,
		})
		loc.Connect()
		defer loc.Close()
		go func() {
			for upd := range loc.Updates() {
				fmt.Printf("[location] %s at (%.5f, %.5f) fee=%d\n",
					upd.MemberEmail, upd.Latitude, upd.Longitude, upd.LateFee)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	fmt.Println("connected; type a message, /older for history, /quit to leave")
	for {
		select {
		case <-quit:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit":
				return
			case line == "/older":
				if err := session.LoadOlder(ctx); err != nil {
					logger.Errorf("load older: %v", err)
				}
			default:
				if _, err := session.SendMessage(line); err != nil {
					logger.Errorf("send: %v", err)
				}
			}
		}
	}
}

// printUpdate renders the newest message of each snapshot. Snapshots
// arrive on store goroutines, so keep this cheap.
func printUpdate(self string) func(model.RoomSnapshot) {
	var lastID string
	return func(s model.RoomSnapshot) {
		m := s.LatestMessage()
		if m == nil || m.ID == lastID {
			return
		}
		lastID = m.ID
		who := m.SenderID
		if m.SenderNickname != nil {
			who = *m.SenderNickname
		}
		marker := ""
		if m.SenderID == self {
			marker = " (you)"
		}
		fmt.Printf("[%s] %s%s: %s (read by %d)\n", m.CreatedAt, who, marker, m.Content, m.ReadCount)
	}
}
