package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/pulsechat/internal/client/api"
	"github.com/vovakirdan/pulsechat/internal/client/chat"
	"github.com/vovakirdan/pulsechat/internal/client/conn"
	"github.com/vovakirdan/pulsechat/internal/client/session"
	"github.com/vovakirdan/pulsechat/internal/log"
)

type chatOptions struct {
	server   string
	userID   string
	username string
	roomID   string
	title    string
	tags     []string
	lat      float64
	lon      float64
	history  int
	logLevel string
}

func newChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, opts, os.Stdin, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", "http://localhost:3000", "server base URL")
	flags.StringVar(&opts.userID, "user", "", "existing user id (a new anonymous user is created when empty)")
	flags.StringVar(&opts.username, "name", "", "nickname to set for the user")
	flags.StringVar(&opts.roomID, "room", "", "room id to join (a new room is created when empty)")
	flags.StringVar(&opts.title, "title", "Terminal room", "title for a newly created room")
	flags.StringSliceVar(&opts.tags, "tags", nil, "tags for a newly created room")
	flags.Float64Var(&opts.lat, "lat", 0, "latitude")
	flags.Float64Var(&opts.lon, "lon", 0, "longitude")
	flags.IntVar(&opts.history, "history", 50, "number of past messages to load")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "client log level")
	return cmd
}

func runChat(ctx context.Context, opts chatOptions, in io.Reader, out io.Writer) error {
	logger := log.New(opts.logLevel)
	client := api.New(opts.server, nil)

	user, err := resolveUser(ctx, client, opts)
	if err != nil {
		return err
	}

	roomID := opts.roomID
	if roomID == "" {
		room, err := client.CreateRoom(ctx, user.UserID, opts.title, opts.tags, opts.lat, opts.lon)
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		roomID = room.RoomID
		fmt.Fprintf(out, "created room %q (%s), expires %s\n", room.Title, room.RoomID, room.ExpiresAt.Local().Format(time.Kitchen))
	} else if err := client.JoinRoom(ctx, user.UserID, roomID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	history, err := client.History(ctx, roomID, opts.history)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	wsURL, err := websocketURL(opts.server)
	if err != nil {
		return err
	}
	mgrOpts := conn.DefaultOptions()
	mgrOpts.Logger = logger
	mgr := conn.NewManager(conn.WSDialer{URL: wsURL}, mgrOpts)
	defer mgr.Disconnect()

	room := chat.NewRoom(mgr, roomID, user.UserID, user.Username, chat.Options{Logger: logger})
	if err := room.Join(ctx, history); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	defer room.Leave(context.Background())

	fmt.Fprintf(out, "you are %s in room %s; /react <n> <emoji>, /quit\n", user.Username, roomID)

	r := newRenderer(out)
	r.render(room)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			room.Tick(now)
		case <-room.Changes():
			r.render(room)
			if room.Expired() {
				fmt.Fprintln(out, "room expired")
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := handleLine(ctx, room, r, line, out); done {
				return nil
			}
		}
	}
}

func resolveUser(ctx context.Context, client *api.Client, opts chatOptions) (api.User, error) {
	user := api.User{UserID: opts.userID, Username: opts.username}
	if user.UserID == "" {
		created, err := client.CreateAnonymousUser(ctx, opts.lat, opts.lon)
		if err != nil {
			return api.User{}, fmt.Errorf("create user: %w", err)
		}
		user = created
	}
	if opts.username != "" {
		renamed, err := client.UpdateUsername(ctx, user.UserID, opts.username)
		if err != nil {
			return api.User{}, fmt.Errorf("set username: %w", err)
		}
		user = renamed
	}
	if user.Username == "" {
		return api.User{}, errors.New("--name is required with --user")
	}
	return user, nil
}

func handleLine(ctx context.Context, room *chat.Room, r *renderer, line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case strings.HasPrefix(line, "/react "):
		fields := strings.Fields(line)
		if len(fields) != 3 {
			fmt.Fprintln(out, "usage: /react <n> <emoji>")
			return false
		}
		n, err := strconv.Atoi(fields[1])
		messageID, ok := r.messageID(n)
		if err != nil || !ok {
			fmt.Fprintf(out, "no confirmed message #%s\n", fields[1])
			return false
		}
		if err := room.React(ctx, messageID, fields[2]); err != nil {
			fmt.Fprintf(out, "react: %v\n", err)
		}
		return false
	}

	room.Keystroke()
	if _, err := room.Send(ctx, line); err != nil {
		fmt.Fprintf(out, "send: %v\n", err)
	}
	return false
}

func websocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// renderer prints timeline changes incrementally. Entries are numbered once
// confirmed so they can be reacted to.
type renderer struct {
	out      io.Writer
	printed  map[string]string // entry key -> last printed line
	numbers  map[string]int    // server id -> display number
	ids      []string
	lastType string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, printed: make(map[string]string), numbers: make(map[string]int)}
}

func (r *renderer) messageID(n int) (string, bool) {
	if n < 1 || n > len(r.ids) {
		return "", false
	}
	return r.ids[n-1], true
}

func (r *renderer) render(room *chat.Room) {
	for _, e := range room.Timeline().Entries() {
		key := e.ServerID
		if key == "" {
			key = e.LocalID
		}
		if key == "" {
			key = "sys-" + strconv.FormatInt(e.CreatedAt.UnixNano(), 10) + e.Text
		}
		line := r.format(e)
		if r.printed[key] == line {
			continue
		}
		r.printed[key] = line
		fmt.Fprintln(r.out, line)
	}

	typing := strings.Join(room.Typing().Names(), ", ")
	if typing != r.lastType {
		r.lastType = typing
		if typing != "" {
			fmt.Fprintf(r.out, "  ... %s typing\n", typing)
		}
	}
}

func (r *renderer) format(e session.Entry) string {
	if e.Kind == session.KindSystem {
		return "* " + e.Text
	}

	prefix := "   "
	if e.ServerID != "" {
		n, ok := r.numbers[e.ServerID]
		if !ok {
			r.ids = append(r.ids, e.ServerID)
			n = len(r.ids)
			r.numbers[e.ServerID] = n
		}
		prefix = fmt.Sprintf("%2d.", n)
	}

	line := fmt.Sprintf("%s [%s] %s: %s", prefix, e.CreatedAt.Local().Format("15:04"), e.Sender, e.Text)
	switch e.State {
	case session.Pending:
		line += " (sending)"
	case session.Failed:
		line += " (failed)"
	}
	if counts := e.Reactions.Counts(); len(counts) > 0 {
		var parts []string
		for _, emoji := range e.Reactions.Emojis() {
			parts = append(parts, fmt.Sprintf("%s %d", emoji, counts[emoji]))
		}
		line += "  " + strings.Join(parts, " ")
	}
	return line
}
