package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/core/services"
	"voxlobby/internal/infrastructure/audio"
	redisstore "voxlobby/internal/infrastructure/store/redis"
	"voxlobby/internal/infrastructure/token"
	"voxlobby/pkg/config"
	"voxlobby/pkg/logger"
)

// roomcli joins a voice room from the terminal: it drives the full session
// lifecycle (credential fetch, transport connect, slot reservation) and
// prints presence events as they arrive. `m` toggles the mic, `q` leaves.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	roomID := flag.String("room-id", "", "directory id of the room to join")
	roomName := flag.String("room-name", "", "display name of the room to join")
	create := flag.String("create", "", "create a room with this name and join it")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zlog.Sync()
	sugar := zlog.Sugar()

	if !cfg.Redis.Enabled {
		sugar.Fatalw("roomcli needs the shared directory, enable redis in the config")
	}

	client, err := redisstore.NewRedisClient(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		sugar,
	)
	if err != nil {
		sugar.Fatalw("failed to connect to directory store", "error", err)
	}
	defer redisstore.CloseRedisClient(client)
	dirStore := redisstore.NewStore(client, sugar, nil)

	permanent := cfg.PermanentRoomIDs()
	registry := services.NewRoomRegistry(dirStore, permanent, cfg.Rooms.StaleAfter, nil, sugar)
	counter := services.NewParticipantCounter(dirStore, permanent, sugar)
	presence := services.NewPresence(sugar)

	presence.OnParticipantJoined(func(p domain.Participant) {
		fmt.Printf("-> %s joined\n", p.Identity)
	})
	presence.OnParticipantLeft(func(identity string) {
		fmt.Printf("<- %s left\n", identity)
	})
	presence.OnActiveSpeakers(func(identities []string) {
		if len(identities) > 0 {
			fmt.Printf("speaking: %s\n", strings.Join(identities, ", "))
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := domain.RoomID(*roomID)
	name := *roomName
	if *create != "" {
		room, err := registry.CreateRoom(ctx, *create)
		if err != nil {
			sugar.Fatalw("failed to create room", "error", err)
		}
		fmt.Printf("created room %q (%s)\n", room.Name, room.ID)
		id = room.ID
		name = room.Name
	}
	if id == "" || name == "" {
		sugar.Fatalw("need -room-id and -room-name, or -create")
	}

	tokens := token.NewClient(cfg.Token.URL, cfg.Token.Timeout, sugar)
	transport := audio.NewClient(cfg.Transport.URL, sugar)
	coordinator := services.NewSessionCoordinator(tokens, transport, counter, presence, nil, sugar)

	sess, err := coordinator.Join(ctx, id, name)
	if err != nil {
		sugar.Fatalw("failed to join room", "error", err)
	}
	fmt.Printf("connected to %q as %s (mic on, m=toggle, q=quit)\n", name, sess.Identity())

	dropped := make(chan struct{}, 1)
	presence.OnDisconnected(func() {
		select {
		case dropped <- struct{}{}:
		default:
		}
	})

	input := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input <- strings.TrimSpace(scanner.Text())
		}
		close(input)
	}()

	for {
		select {
		case <-ctx.Done():
			leave(sess)
			return
		case <-dropped:
			fmt.Println("disconnected from room")
			return
		case line, ok := <-input:
			if !ok || line == "q" {
				leave(sess)
				return
			}
			if line == "m" {
				enabled, err := sess.ToggleMic(ctx)
				if err != nil {
					sugar.Warnw("mic toggle failed", "error", err)
					continue
				}
				if enabled {
					fmt.Println("mic on")
				} else {
					fmt.Println("mic muted")
				}
			}
		}
	}
}

func leave(sess *services.Session) {
	if err := sess.Leave(context.Background()); err != nil {
		fmt.Printf("leave failed: %v\n", err)
	}
}
