// parley is a terminal chat client. It connects one duplex session per
// conversation, folds inbound events into the in-memory transcript via
// the reconcile engine, and mirrors finished conversations into the
// archive.
//
// All store mutation happens on a single event loop: transport callbacks
// and user input both post work onto it, so reconcile steps never
// interleave.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/parleylabs/parley/internal/archive"
	"github.com/parleylabs/parley/internal/chat"
	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/interact"
	"github.com/parleylabs/parley/internal/logger"
	"github.com/parleylabs/parley/internal/metrics"
	"github.com/parleylabs/parley/internal/protocol"
	"github.com/parleylabs/parley/internal/reconcile"
	"github.com/parleylabs/parley/internal/stream"
	"github.com/parleylabs/parley/internal/transport"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "history":
			cmdHistory(os.Args[2:])
			return
		case "--version", "-v":
			fmt.Printf("parley %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}

	runChat()
}

func printUsage() {
	fmt.Printf(`Parley %s - Terminal Chat Client

Usage: parley [command] [options]

Commands:
  (default)    Start an interactive chat
  history      List archived conversations

Chat Options:
  --config <path>        Config file (default ~/.parley/parley.jsonc)
  --conversation <id>    Resume an archived conversation
  --http                 Use the chunked-HTTP transport instead of the
                         duplex channel

In-chat commands:
  /new     Start a new conversation
  /quit    Exit
`, Version)
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "config file path")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}

	store, err := archive.NewStore(cfg.Archive.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	summaries, err := store.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.Title, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func runChat() {
	fs := flag.NewFlagSet("parley", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "config file path")
	conversationID := fs.String("conversation", "", "resume an archived conversation")
	useHTTP := fs.Bool("http", false, "use the chunked-HTTP transport")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Dir); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Close() }()

	if err := logger.InitSlog(cfg.Logging.Dir, cfg.Logging.JSON); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.CloseSlog() }()

	if cfg.Metrics.Enabled {
		go func() {
			http.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
				logger.Error("Metrics endpoint failed: %v", err)
			}
		}()
	}

	app, err := newApp(cfg, *useHTTP)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	if err := app.openConversation(*conversationID); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		app.quit()
	}()

	app.run()
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "parley.jsonc"
	}
	return home + "/.parley/parley.jsonc"
}

// app owns the event loop that serializes all store mutation
type app struct {
	cfg     *config.Config
	useHTTP bool

	store       *chat.Store
	manager     *transport.Manager
	coordinator *interact.Coordinator
	archive     *archive.Store
	sweeper     *archive.Sweeper
	opts        reconcile.Options

	conversationID string

	loopCh       chan func()
	lines        chan string
	promptWaiter chan chan string
	done         chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func newApp(cfg *config.Config, useHTTP bool) (*app, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &app{
		cfg:          cfg,
		useHTTP:      useHTTP,
		store:        chat.NewStore(),
		opts: reconcile.Options{
			IntermediateSteps: cfg.Engine.IntermediateSteps,
			StepOverride:      cfg.Engine.StepOverride,
		},
		loopCh:       make(chan func(), 64),
		lines:        make(chan string),
		promptWaiter: make(chan chan string, 1),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}

	a.coordinator = interact.NewCoordinator(
		&systemBrowser{},
		&terminalPrompter{app: a},
		&terminalNotifier{},
	)

	a.manager = transport.NewManager(transport.Config{
		BaseURL:        cfg.Server.DuplexURL,
		Schema:         cfg.Server.Schema,
		AlwaysOn:       cfg.Session.AlwaysOn,
		ConnectTimeout: cfg.Session.ConnectTimeout(),
		ReconnectBase:  cfg.Session.ReconnectBase(),
		MaxReconnects:  cfg.Session.MaxReconnects,
	}, nil, a)

	if cfg.Archive.Enabled {
		store, err := archive.NewStore(cfg.Archive.DataDir)
		if err != nil {
			cancel()
			return nil, err
		}
		a.archive = store
		sweeper, err := archive.NewSweeper(store, cfg.Archive.SweepSchedule, cfg.Archive.Retention())
		if err != nil {
			cancel()
			return nil, err
		}
		a.sweeper = sweeper
		sweeper.Start()
	}

	return a, nil
}

func (a *app) close() {
	a.cancel()
	a.manager.CloseAll()
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.archive != nil {
		a.saveTranscript()
		_ = a.archive.Close()
	}
}

// openConversation starts (or resumes) a conversation and its session
func (a *app) openConversation(id string) error {
	if id != "" && a.archive != nil {
		conv, err := a.archive.Load(id)
		if err != nil {
			return fmt.Errorf("resume %s: %w", id, err)
		}
		a.store.Adopt(conv)
		a.conversationID = conv.ID
		a.renderTranscript(conv)
	} else {
		conv := a.store.Create("")
		a.conversationID = conv.ID
	}

	octx := context.WithValue(a.ctx, logger.ContextKeyConversationID, a.conversationID)
	logger.InfoContext(octx, "conversation opened", "resumed", id != "")

	if a.useHTTP {
		return nil // sessions are opened per prompt on the stream path
	}

	sess, err := a.manager.Open(a.conversationID)
	if err != nil {
		return err
	}
	if err := sess.Connect(); err != nil {
		logger.Error("Initial connect failed: %v", err)
		fmt.Println("(offline - messages will be sent once connected)")
	}
	return nil
}

// run is the hosting event loop: user input and transport callbacks are
// both folded in here, one at a time.
func (a *app) run() {
	go a.readInput()

	fmt.Println("parley - type a message, /new for a new conversation, /quit to exit")
	fmt.Print("> ")

	for {
		select {
		case fn := <-a.loopCh:
			fn()
		case line, ok := <-a.lines:
			if !ok {
				a.quit()
				continue
			}
			// A pending interaction prompt takes the next line
			select {
			case waiter := <-a.promptWaiter:
				waiter <- line
			default:
				a.handleInput(line)
			}
		case <-a.done:
			return
		}
	}
}

func (a *app) readInput() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		a.lines <- scanner.Text()
	}
	close(a.lines)
}

func (a *app) quit() {
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

// post schedules work onto the event loop
func (a *app) post(fn func()) {
	select {
	case a.loopCh <- fn:
	case <-a.done:
	}
}

func (a *app) handleInput(line string) {
	defer fmt.Print("> ")

	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return
	case line == "/quit":
		a.quit()
		return
	case line == "/new":
		a.saveTranscript()
		a.manager.Close(a.conversationID)
		if err := a.openConversation(""); err != nil {
			fmt.Printf("(failed to open conversation: %v)\n", err)
		}
		fmt.Println("(new conversation)")
		return
	}

	a.store.AppendUser(a.conversationID, line)

	if a.useHTTP {
		a.streamPrompt(line)
		return
	}

	event := protocol.NewUserMessage(a.conversationID, line)
	sess, ok := a.manager.Get(a.conversationID)
	if !ok {
		fmt.Println("(no session for conversation)")
		return
	}
	if !sess.Send(event) {
		// Reconnect and retry once after it succeeds
		sess.SendOnReconnect(event)
		if err := sess.Connect(); err != nil {
			fmt.Println("(disconnected - message will be retried on reconnect)")
		}
	}
}

// streamPrompt drives one chunked-HTTP exchange, feeding decoder output
// through the same reconcile path the duplex channel uses.
func (a *app) streamPrompt(prompt string) {
	event := protocol.NewUserMessage(a.conversationID, prompt)
	body, err := event.Encode()
	if err != nil {
		fmt.Printf("(failed to encode message: %v)\n", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, a.cfg.Server.StreamURL, strings.NewReader(string(body)))
	if err != nil {
		fmt.Printf("(failed to build request: %v)\n", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	streamer, err := stream.NewStreamer(a.ctx, nil, req)
	if err != nil {
		fmt.Printf("(stream failed: %v)\n", err)
		return
	}

	go func() {
		for {
			select {
			case text, ok := <-streamer.Text():
				if !ok {
					a.post(func() {
						a.applyEvent(&protocol.Event{Kind: protocol.KindResponse, Status: protocol.StatusComplete})
					})
					return
				}
				fragment := text
				a.post(func() {
					a.applyEvent(&protocol.Event{
						Kind:   protocol.KindResponse,
						Status: protocol.StatusInProgress,
						Text:   fragment,
					})
				})
			case ev, ok := <-streamer.Events():
				if ok && ev != nil {
					embedded := ev
					a.post(func() { a.applyEvent(embedded) })
				}
			case err, ok := <-streamer.Errors():
				if ok && err != nil {
					logger.Error("Stream error: %v", err)
				}
			case <-a.ctx.Done():
				streamer.Abort()
				return
			}
		}
	}()
}

// HandleEvent implements transport.Handler: fold on the event loop
func (a *app) HandleEvent(conversationID string, event *protocol.Event) {
	a.post(func() {
		if conversationID != a.conversationID {
			return // event for a conversation we no longer display
		}
		a.applyEvent(event)
	})
}

// applyEvent runs one reconcile step and acts on its side effects.
// Always called from the event loop.
func (a *app) applyEvent(event *protocol.Event) {
	result := reconcile.Apply(a.store, a.conversationID, event, a.opts)

	if result.OpenRedirect != "" || result.RedirectMissing {
		// An empty target reaches the coordinator's missing-address
		// branch, which notifies the operator and stops.
		if err := a.coordinator.OpenRedirect(a.ctx, result.OpenRedirect); err != nil {
			logger.Error("Redirect flow failed: %v", err)
		}
		return
	}

	if result.Interaction != nil {
		sess, ok := a.manager.Get(a.conversationID)
		if ok {
			request := result.Interaction
			go func() {
				if err := a.coordinator.Respond(a.ctx, a.conversationID, request, sess); err != nil {
					logger.Error("Interaction response failed: %v", err)
				}
			}()
		}
		return
	}

	if event.Kind == protocol.KindResponse && protocol.ShouldAppendContent(event) {
		fmt.Print(event.Text)
	}
	if result.StreamDone {
		fmt.Print("\n> ")
		a.saveTranscript()
	}
}

// HandleStateChange implements transport.Handler
func (a *app) HandleStateChange(conversationID string, state transport.State) {
	logger.Info("Session %s: %s", conversationID, state)
}

// HandleConnectionFailed implements transport.Handler
func (a *app) HandleConnectionFailed(conversationID string, err error) {
	a.post(func() {
		fmt.Printf("\n(connection failed: %v)\n> ", err)
	})
}

func (a *app) saveTranscript() {
	if a.archive == nil {
		return
	}
	conv, ok := a.store.Get(a.conversationID)
	if !ok || len(conv.Messages) == 0 {
		return
	}
	if err := a.archive.Save(conv); err != nil {
		logger.Error("Failed to archive conversation %s: %v", conv.ID, err)
	}
}

func (a *app) renderTranscript(conv *chat.Conversation) {
	for _, msg := range conv.Messages {
		switch msg.Role {
		case chat.RoleUser:
			fmt.Printf("> %s\n", msg.Content)
		case chat.RoleAssistant:
			fmt.Println(msg.Content)
		}
	}
}

// systemBrowser opens redirect targets with the OS default browser. The
// completion signal is the opener process exiting.
type systemBrowser struct{}

type browserWindow struct {
	done chan struct{}
}

func (w *browserWindow) Done() <-chan struct{} { return w.done }
func (w *browserWindow) Close()                {}

func (b *systemBrowser) OpenWindow(address string) (interact.RedirectWindow, error) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", address)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", address)
	default:
		cmd = exec.Command("xdg-open", address)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	window := &browserWindow{done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(window.done)
	}()
	return window, nil
}

// terminalPrompter asks the operator on the terminal; the event loop
// routes the next input line to the pending prompt.
type terminalPrompter struct {
	app *app
}

func (p *terminalPrompter) Prompt(ctx context.Context, request *protocol.Event) (string, error) {
	fmt.Printf("\n(input requested) %s\n> ", request.PromptText)

	respCh := make(chan string, 1)
	select {
	case p.app.promptWaiter <- respCh:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case answer := <-respCh:
		return answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// terminalNotifier prints user-visible notices
type terminalNotifier struct{}

func (n *terminalNotifier) Notify(message string) {
	fmt.Printf("\n(%s)\n> ", message)
}
