package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/tictactoe-live/internal/auth"
	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/tttclient"
	"github.com/park285/tictactoe-live/pkg/wire"
)

func main() {
	baseURL := os.Getenv("TTT_BASE_URL")
	wsURL := os.Getenv("TTT_WS_URL")
	token := os.Getenv("TTT_TOKEN")
	secret := os.Getenv("JWT_SECRET")
	userID := os.Getenv("TTT_USER_ID")
	username := os.Getenv("TTT_USERNAME")

	if baseURL == "" {
		log.Fatal("TTT_BASE_URL is required")
	}
	if wsURL == "" {
		wsURL = "ws" + strings.TrimPrefix(strings.TrimRight(baseURL, "/"), "http") + "/ws/lobby"
	}
	if token == "" && secret != "" {
		if userID == "" {
			userID = "tttcheck"
		}
		if username == "" {
			username = userID
		}
		j, err := auth.NewJWT(secret, auth.WithAlgorithm(os.Getenv("JWT_ALGORITHM")), auth.WithIssuer(os.Getenv("JWT_ISSUER")))
		if err != nil {
			log.Fatalf("jwt: %v", err)
		}
		token, err = j.Issue(domain.Principal{ID: userID, Username: username}, time.Hour)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
	}
	if token == "" {
		log.Fatal("TTT_TOKEN or JWT_SECRET is required")
	}

	client := tttclient.NewClient(baseURL,
		tttclient.WithToken(tttclient.StaticToken(token)),
		tttclient.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Println("/healthz ok")
	}
	list, err := client.ListSessions(ctx)
	if err != nil {
		log.Printf("/sessions error: %v", err)
	} else {
		log.Printf("/sessions ok: user=%s waiting=%d", list.UserName, len(list.Sessions))
		for _, s := range list.Sessions {
			fmt.Printf("  %s %q by %s (%s)\n", s.ID, s.Name, s.CreatorName, s.CreatorMarker)
		}
	}

	ws := tttclient.NewSocket(wsURL, tttclient.StaticToken(token))
	ws.OnStateChange(func(state tttclient.State) {
		log.Printf("WS state: %s", state)
	})
	ws.OnMessage(func(typ wire.Type, raw []byte) {
		fmt.Printf("WS %s %s\n", typ, raw)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}
	if p := ws.Principal(); p != nil {
		log.Printf("WS authenticated as %s (%s)", p.Username, p.ID)
	}

	// Observe the lobby for a short window
	t := time.NewTimer(10 * time.Second)
	<-t.C

	_ = ws.Close(context.Background())
}
