package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"webchat/domain"
	"webchat/domain/event"
	"webchat/infrastructure/ws"
	"webchat/projection"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerURL string `envconfig:"CHAT_SERVER_URL" default:"ws://localhost:8080/ws"`
	Username  string `envconfig:"CHAT_USERNAME" required:"true"`
	Password  string `envconfig:"CHAT_PASSWORD" required:"true"`
	Register  bool   `envconfig:"CHAT_REGISTER" default:"false"`
	Colours   bool   `envconfig:"CHAT_COLOURS" default:"true"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`
}

func main() {
	// The main function manages the OS exit code based on run()'s return.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run handles the websocket client lifecycle, configuration loading, and the
// interactive loop. This pattern ensures clean resource management and error
// propagation.
func run() (int, error) {
	// 1. Load configuration from environment variables.
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Setup context to handle termination signals (Ctrl+C).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Establish connection to the chat server.
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.ServerURL, nil)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", config.ServerURL, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.Close()
	}()

	// 4. Authenticate. Registration failures are reported by the server and
	// do not abort the session, the account may simply already exist.
	if config.Register {
		if err := send(conn, "register", credentials{config.Username, config.Password}); err != nil {
			return exitRuntime, err
		}
	}
	if err := send(conn, "login", credentials{config.Username, config.Password}); err != nil {
		return exitRuntime, err
	}

	renderer := &renderer{
		timeline: projection.NewTimeline(config.Username),
		colours:  config.Colours,
	}

	// 5. Server frame loop in the background.
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			env, err := ws.DecodeEnvelope(data)
			if err != nil {
				log.Warn("Dropping malformed frame", "error", err)
				continue
			}
			renderer.render(env)
		}
	}()

	renderer.banner(config.ServerURL, config.Username)

	// 6. Interactive loop: every stdin line is a chat message or a command.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping client...")
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return exitOK, nil
		case err := <-readErr:
			if ctx.Err() != nil {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if line == "" {
				continue
			}
			payload := map[string]any{"msg": line, "type": domain.KindText}
			if err := send(conn, event.NameChatMessage, payload); err != nil {
				return exitRuntime, fmt.Errorf("send failed: %w", err)
			}
		}
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func send(conn *websocket.Conn, eventName string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(ws.Envelope{Event: eventName, Payload: raw})
}

// renderer turns server frames into terminal output.
type renderer struct {
	timeline *projection.Timeline
	colours  bool
}

func (r *renderer) banner(url, owner string) {
	line := fmt.Sprintf(">>> Connected to %s as %s (Ctrl+C to quit)", url, owner)
	if r.colours {
		color.Green.Println(line)
		return
	}
	fmt.Println(line)
}

func (r *renderer) render(env ws.Envelope) {
	switch env.Event {
	case event.NameChatMessage:
		var msg event.ChatMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return
		}
		r.timeline.Consume(msg)
		line := fmt.Sprintf("[%s] %s: %s", msg.Time, msg.User, msg.Text)
		if msg.Type == domain.KindImage {
			line = fmt.Sprintf("[%s] %s sent an image (%d bytes)", msg.Time, msg.User, len(msg.Text))
		}
		if r.colours && msg.User == r.timeline.Owner {
			color.Cyan.Println(line)
			return
		}
		fmt.Println(line)

	case event.NameSystem:
		var text string
		if err := json.Unmarshal(env.Payload, &text); err != nil {
			return
		}
		if r.colours {
			color.Yellow.Println("* " + text)
			return
		}
		fmt.Println("* " + text)

	case event.NameUserList:
		var users []string
		if err := json.Unmarshal(env.Payload, &users); err != nil {
			return
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Online"})
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		for _, u := range users {
			table.Append([]string{u})
		}
		table.Render()

	case event.NameRegisterResponse:
		var resp event.RegisterResponse
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			return
		}
		r.outcome(resp.Success, resp.Msg)

	case event.NameLoginResponse:
		var resp event.LoginResponse
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			return
		}
		r.outcome(resp.Success, resp.Msg)
	}
}

func (r *renderer) outcome(success bool, msg string) {
	if msg == "" {
		msg = "ok"
	}
	if !r.colours {
		fmt.Println(msg)
		return
	}
	if success {
		color.Green.Println(msg)
		return
	}
	color.Red.Println(msg)
}
