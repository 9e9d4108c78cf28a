// Command chat is a minimal terminal client used to exercise the client
// core against a running server. It logs in (or registers), opens one
// conversation and relays stdin lines as messages.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"chatcore/internal/auth"
	"chatcore/internal/channel"
	"chatcore/internal/chat"
	"chatcore/internal/config"
	"chatcore/internal/domain"
	"chatcore/internal/rest"
)

func main() {
	var (
		email    = flag.String("email", "", "account email")
		password = flag.String("password", "", "account password")
		name     = flag.String("name", "", "display name (register if the account does not exist)")
		peerID   = flag.String("peer", "", "user ID to open a conversation with")
	)
	flag.Parse()

	if err := run(*email, *password, *name, *peerID); err != nil {
		log.Fatal(err)
	}
}

func run(email, password, name, peerID string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	base, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("cookie jar: %w", err)
	}
	httpClient := &http.Client{Jar: jar, Timeout: 15 * time.Second}

	manager := auth.NewManager(auth.Options{
		Store:            auth.NewFileStore(cfg.StateDir),
		Jar:              jar,
		BaseURL:          base,
		RefreshThreshold: cfg.RefreshThreshold,
		WatchdogInterval: cfg.WatchdogInterval,
		WarningThreshold: cfg.WarningThreshold,
		LogoutGrace:      cfg.LogoutGrace,
		OnForceLogout: func() {
			fmt.Println("\nsession expired, exiting")
			os.Exit(1)
		},
	})
	api := rest.NewClient(cfg.ServerURL, httpClient, manager, nil)
	manager.SetRefresher(api)

	manager.On(auth.NotifyExpirationWarning, func(payload any) {
		if w, ok := payload.(auth.ExpirationWarning); ok {
			fmt.Printf("\n[session expires in %ds]\n", w.SecondsRemaining)
		}
	})
	manager.On(auth.NotifySessionExtended, func(any) {
		fmt.Println("\n[session extended]")
	})

	ctx := context.Background()
	if err := signIn(ctx, manager, api, email, password, name); err != nil {
		return err
	}
	self := manager.Identity()
	fmt.Printf("signed in as %s (%s)\n", self.DisplayName, self.ID)

	conv, err := pickConversation(ctx, api, peerID)
	if err != nil {
		return err
	}

	ch := channel.NewManager(cfg.WSBaseURL(), manager,
		channel.WithBackoff(cfg.ReconnectBackoff))
	if err := ch.Connect(ctx, conv.ID); err != nil {
		return fmt.Errorf("connect channel: %w", err)
	}

	sync := chat.New(api, ch, conv.ID, self.ID,
		chat.WithPageSize(cfg.PageSize),
		chat.WithTypingTimeout(cfg.TypingTimeout))
	defer sync.Close()

	if err := sync.Load(ctx); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	for _, m := range sync.Messages() {
		printMessage(self.ID, m)
	}

	ch.On(domain.EventMessage, func(payload any) {
		if f, ok := payload.(*domain.Frame); ok && f.Message != nil && f.Message.SenderID != self.ID {
			printMessage(self.ID, *f.Message)
		}
	})
	ch.On(domain.EventTyping, func(any) {
		if users := sync.TypingUsers(); len(users) > 0 {
			fmt.Printf("[%s is typing]\n", strings.Join(users, ", "))
		}
	})

	fmt.Println("type messages, /logout to sign out, /quit to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return nil
		case line == "/logout":
			if err := api.Logout(ctx); err != nil {
				fmt.Printf("logout failed: %v\n", err)
			}
			manager.ClearCredential()
			return nil
		case line == "":
			continue
		default:
			if err := sync.Send(line); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		}
	}
	return scanner.Err()
}

// signIn restores a stored session or exchanges credentials for a new one.
func signIn(ctx context.Context, manager *auth.Manager, api *rest.Client, email, password, name string) error {
	if err := manager.Restore(); err != nil {
		log.Printf("restore session: %v", err)
	}
	if manager.TokenValid() {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("no stored session, pass -email and -password")
	}

	pair, identity, err := api.Login(ctx, email, password)
	if err != nil && name != "" {
		pair, identity, err = api.Register(ctx, email, name, password)
	}
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	cred, err := auth.NewCredential(pair, identity)
	if err != nil {
		return fmt.Errorf("build credential: %w", err)
	}
	return manager.SetCredential(cred)
}

// pickConversation opens the chat with -peer, or falls back to the most
// recently active one.
func pickConversation(ctx context.Context, api *rest.Client, peerID string) (*domain.Conversation, error) {
	if peerID != "" {
		conv, err := api.CreateChat(ctx, peerID)
		if err != nil {
			return nil, fmt.Errorf("open chat: %w", err)
		}
		return conv, nil
	}
	convs, err := api.ListChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	if len(convs) == 0 {
		return nil, fmt.Errorf("no conversations yet, pass -peer <user id>")
	}
	return &convs[0], nil
}

func printMessage(selfID string, m domain.Message) {
	who := m.SenderID
	if m.SenderID == selfID {
		who = "me"
	}
	edited := ""
	if m.Edited {
		edited = " (edited)"
	}
	fmt.Printf("%s %s: %s%s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content, edited)
}
