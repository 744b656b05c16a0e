package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"telehealth_chat/client/chat/controller"
	"telehealth_chat/client/chat/domain"
	"telehealth_chat/client/chat/transport"
	"telehealth_chat/client/session"
	commonauth "telehealth_chat/common/auth"
	cmnenv "telehealth_chat/common/env"
)

func main() {
	apiURL := cmnenv.String("CHAT_API_URL", "http://localhost:8080/api/v1")
	socketURL := cmnenv.String("CHAT_WS_URL", "ws://localhost:8080/ws")
	userID := cmnenv.String("CHAT_USER_ID", "1")
	jwtSecret := cmnenv.String("JWT_SECRET", "change-me-in-production")

	token, err := mintToken(apiURL, userID)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}

	store := session.NewStore(commonauth.NewService(jwtSecret, 1440))
	if err := store.SetToken(token); err != nil {
		log.Fatalf("decode token: %v", err)
	}
	identity, _ := store.Current()

	rest := transport.NewREST(apiURL, token)
	push := transport.NewPush(socketURL, token)
	defer push.Close()

	ctrl := controller.New(rest, push, controller.LoadConfig())
	defer ctrl.Teardown()

	ctx := context.Background()
	ctrl.Initialize(ctx, identity.UserID, string(identity.UserType))
	if err := ctrl.LoadConversations(ctx); err != nil {
		log.Printf("load conversations: %v", err)
	}

	fmt.Printf("signed in as %s (%s)\n", identity.Name, identity.UserID)
	fmt.Println("commands: list | open <n> | send <text> | more | users | search <q> | start <user-id> | close | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		command, arg, _ := strings.Cut(line, " ")
		switch command {
		case "list":
			printConversations(ctrl.Snapshot())
		case "open":
			openByIndex(ctx, ctrl, arg)
		case "send":
			if err := ctrl.SendMessage(ctx, arg); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
			printMessages(ctrl.Snapshot())
		case "more":
			if err := ctrl.LoadMoreMessages(ctx); err != nil {
				fmt.Printf("load more failed: %v\n", err)
			}
			printMessages(ctrl.Snapshot())
		case "users":
			printUsers(ctrl.ListAllUsers(ctx))
		case "search":
			printUsers(ctrl.SearchUsers(ctx, arg))
		case "start":
			if err := ctrl.StartConversation(ctx, "direct", []string{strings.TrimSpace(arg)}, ""); err != nil {
				fmt.Printf("start failed: %v\n", err)
			}
			printMessages(ctrl.Snapshot())
		case "close":
			ctrl.CloseConversation()
		case "quit", "exit":
			store.Logout(ctx, rest)
			return
		case "":
			printMessages(ctrl.Snapshot())
		default:
			fmt.Println("unknown command")
		}
	}
}

func mintToken(apiURL, userID string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(strings.TrimRight(apiURL, "/")+"/auth/token", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func openByIndex(ctx context.Context, ctrl *controller.Controller, arg string) {
	index, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		fmt.Println("open takes a conversation number from `list`")
		return
	}
	snap := ctrl.Snapshot()
	if index < 1 || index > len(snap.Conversations) {
		fmt.Println("no such conversation")
		return
	}
	if err := ctrl.OpenConversation(ctx, snap.Conversations[index-1]); err != nil {
		fmt.Printf("open failed: %v\n", err)
		return
	}
	printMessages(ctrl.Snapshot())
}

func printConversations(snap controller.Snapshot) {
	if len(snap.Conversations) == 0 {
		fmt.Println("no conversations")
		return
	}
	for i, conv := range snap.Conversations {
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", conv.UnreadCount)
		}
		fmt.Printf("%2d. %s — %s%s [%s]\n", i+1, conv.DisplayName, conv.LastMessagePreview, unread, domain.RelativeTime(conv.LastActivityAt))
	}
}

func printMessages(snap controller.Snapshot) {
	if snap.Active == nil {
		return
	}
	fmt.Printf("--- %s ---\n", snap.Active.DisplayName)
	for _, msg := range snap.Messages {
		who := msg.SenderName
		if msg.IsSent {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s\n", msg.DisplayTime, who, msg.Text)
	}
	if len(snap.TypingUsers) > 0 {
		fmt.Printf("typing: %s\n", strings.Join(snap.TypingUsers, ", "))
	}
	if snap.Err != "" {
		fmt.Printf("error: %s\n", snap.Err)
	}
}

func printUsers(users []domain.User) {
	for _, u := range users {
		fmt.Printf("%s  %s <%s> (%s)\n", u.ID, u.Name, u.Email, u.Type)
	}
}
