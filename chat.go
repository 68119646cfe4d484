package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"secretaria/internal/app"
	"secretaria/internal/config"
	"secretaria/internal/identity"
	"secretaria/internal/models"
	"secretaria/internal/redis"
	"secretaria/internal/selection"
)

const chatHelp = `commands:
  /register <user> <pass>   /login <user> <pass>   /logout
  /list                     /new [title]           /open <id>
  /rename <id> <title>      /delete <id>
  /attach <path>            /detach
  /search on|off            /doc off|md|txt
  /select <msg id>          /toggle <msg id>       /close
  /contacts                 /contact <name> <chat id>
  /uncontact <contact id>   /history
  /forward <contact id>     /download <file id> <path>
  /files [document|image|generated]                /documents
  /attachments              /deleteaccount <pass>
  /show                     /help                  /quit
anything else is sent to the open conversation`

func chat(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	store, closeStore, err := sessionStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	term := app.NewTerminal(out)
	ctl := app.New(app.Options{
		BaseURL:        cfg.Client.BaseURL,
		RequestTimeout: time.Duration(cfg.Client.RequestTimeoutSeconds) * time.Second,
		LongPress:      time.Duration(cfg.Client.LongPressMillis) * time.Millisecond,
	}, store, term)
	defer ctl.Wait()

	if creds, err := ctl.Restore(ctx); err == nil {
		term.Notice("signed in as " + creds.Username)
	} else {
		term.Notice("not signed in; use /login or /register")
	}

	r := &repl{ctl: ctl, term: term, out: out}
	lines := readLines(in)
	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		quit, err := r.handle(ctx, line)
		if err != nil {
			term.Notice("error: " + err.Error())
		}
		if quit {
			return nil
		}
	}
}

func sessionStore(cfg *config.Config) (identity.Store, func(), error) {
	switch cfg.Client.SessionStore {
	case "memory":
		return identity.NewMemoryStore(), func() {}, nil
	case "redis":
		client, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("session store: %w", err)
		}
		return identity.NewRedisStore(client, cfg.Client.Profile), func() { client.Close() }, nil
	case "file", "":
		return identity.NewFileStore(cfg.Client.SessionFile), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", cfg.Client.SessionStore)
	}
}

func readLines(in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

type repl struct {
	ctl  *app.Controller
	term *app.Terminal
	out  io.Writer
	opts app.SendOptions
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, r.send(ctx, line)
	}
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/register", "/login":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: %s <user> <pass>", cmd)
		}
		login := r.ctl.Login
		if cmd == "/register" {
			login = r.ctl.Register
		}
		creds, err := login(ctx, args[0], args[1])
		if err != nil {
			return false, err
		}
		r.term.Notice("signed in as " + creds.Username)
	case "/logout":
		if err := r.ctl.Logout(ctx); err != nil {
			return false, err
		}
		r.term.Notice("signed out")
	case "/list":
		convs, err := r.ctl.Conversations(ctx)
		if err != nil {
			return false, err
		}
		for _, c := range convs {
			mark := " "
			if c.ID == r.ctl.Current() {
				mark = "*"
			}
			fmt.Fprintf(r.out, "%s %4d  %s  (%s)\n", mark, c.ID, c.Title, c.UpdatedAt.Local().Format(time.DateTime))
		}
	case "/new":
		conv, err := r.ctl.NewConversation(ctx, strings.Join(args, " "))
		if err != nil {
			return false, err
		}
		r.term.Notice(fmt.Sprintf("opened #%d %s", conv.ID, conv.Title))
	case "/open":
		id, err := intArg(args, 0)
		if err != nil {
			return false, err
		}
		msgs, err := r.ctl.Open(ctx, id)
		if err != nil {
			return false, err
		}
		r.term.Transcript(msgs, r.ctl.Selection().IsSelected)
	case "/rename":
		id, err := intArg(args, 0)
		if err != nil || len(args) < 2 {
			return false, errors.New("usage: /rename <id> <title>")
		}
		conv, err := r.ctl.Rename(ctx, id, strings.Join(args[1:], " "))
		if err != nil {
			return false, err
		}
		r.term.Notice(fmt.Sprintf("renamed #%d to %s", conv.ID, conv.Title))
	case "/delete":
		id, err := intArg(args, 0)
		if err != nil {
			return false, err
		}
		if err := r.ctl.Delete(ctx, id); err != nil {
			return false, err
		}
		r.term.Notice(fmt.Sprintf("deleted #%d", id))
	case "/attach":
		if len(args) == 0 {
			return false, errors.New("usage: /attach <path>")
		}
		_, err := r.ctl.Attach(ctx, strings.Join(args, " "))
		return false, err
	case "/detach":
		r.ctl.ClearAttachment()
	case "/search":
		r.opts.UseSearch = len(args) > 0 && args[0] == "on"
		r.term.Notice(fmt.Sprintf("web search %s", onOff(r.opts.UseSearch)))
	case "/doc":
		r.opts.GenerateDoc = len(args) > 0 && args[0] != "off"
		r.opts.DocFormat = ""
		if r.opts.GenerateDoc {
			r.opts.DocFormat = args[0]
		}
		r.term.Notice(fmt.Sprintf("document generation %s", onOff(r.opts.GenerateDoc)))
	case "/select":
		id, err := intArg(args, 0)
		if err != nil {
			return false, err
		}
		return false, r.ctl.Select(id)
	case "/toggle":
		id, err := intArg(args, 0)
		if err != nil {
			return false, err
		}
		if err := r.ctl.Toggle(id); err != nil {
			return false, err
		}
		r.term.Notice(fmt.Sprintf("selected %v", r.ctl.Selection().Selected()))
	case "/close":
		r.ctl.Selection().Close()
	case "/show":
		r.term.Transcript(r.ctl.Messages(), r.ctl.Selection().IsSelected)
	case "/contacts":
		contacts, err := r.ctl.Contacts(ctx)
		if err != nil {
			return false, err
		}
		for _, c := range contacts {
			fmt.Fprintf(r.out, "  %4d  %s (%s)\n", c.ID, c.Name, c.ChatID)
		}
	case "/contact":
		if len(args) != 2 {
			return false, errors.New("usage: /contact <name> <chat id>")
		}
		c, err := r.ctl.AddContact(ctx, args[0], args[1])
		if err != nil {
			return false, err
		}
		r.term.Notice(fmt.Sprintf("added contact #%d", c.ID))
	case "/uncontact":
		id, err := intArg(args, 0)
		if err != nil {
			return false, err
		}
		if err := r.ctl.DeleteContact(ctx, id); err != nil {
			return false, err
		}
		r.term.Notice(fmt.Sprintf("removed contact #%d", id))
	case "/history":
		forwards, err := r.ctl.ForwardHistory(ctx)
		if err != nil {
			return false, err
		}
		for _, f := range forwards {
			fmt.Fprintf(r.out, "  %s  msg #%d -> contact #%d  %s %s\n",
				f.CreatedAt.Local().Format(time.DateTime), f.MessageID, f.ContactID, f.Status, f.Detail)
		}
	case "/files", "/documents", "/attachments":
		var (
			files []models.StoredFile
			err   error
		)
		switch {
		case cmd == "/documents":
			files, err = r.ctl.Documents(ctx)
		case cmd == "/attachments":
			files, err = r.ctl.ConversationFiles(ctx)
		case len(args) > 0:
			files, err = r.ctl.Files(ctx, models.FileKind(args[0]))
		default:
			files, err = r.ctl.Files(ctx, "")
		}
		if err != nil {
			return false, err
		}
		r.printFiles(files)
	case "/deleteaccount":
		if len(args) != 1 {
			return false, errors.New("usage: /deleteaccount <password>")
		}
		if err := r.ctl.DeleteAccount(ctx, args[0]); err != nil {
			return false, err
		}
		r.term.Notice("account deleted")
	case "/forward":
		id, err := intArg(args, 0)
		if err != nil {
			return false, err
		}
		// outcomes of the request itself are reported as notices
		_, err = r.ctl.Forward(ctx, id)
		if errors.Is(err, selection.ErrNothingSelected) || errors.Is(err, selection.ErrSendInFlight) || errors.Is(err, app.ErrNotSignedIn) {
			return false, err
		}
	case "/download":
		id, err := intArg(args, 0)
		if err != nil || len(args) < 2 {
			return false, errors.New("usage: /download <file id> <path>")
		}
		if err := r.ctl.Download(ctx, id, strings.Join(args[1:], " ")); err != nil {
			return false, err
		}
		r.term.Notice("saved " + strings.Join(args[1:], " "))
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

func (r *repl) printFiles(files []models.StoredFile) {
	if len(files) == 0 {
		fmt.Fprintln(r.out, "  (no files)")
		return
	}
	for _, f := range files {
		fmt.Fprintf(r.out, "  %4d  %-9s %s  (%d bytes, conversation #%d)\n", f.ID, f.Kind, f.Filename, f.SizeBytes, f.ConversationID)
	}
}

// send blocks until the reply settles; Ctrl-C cancels it through ctx.
func (r *repl) send(ctx context.Context, text string) error {
	s, err := r.ctl.Send(ctx, text, r.opts)
	if err != nil {
		return err
	}
	<-s.Done()
	return nil
}

func intArg(args []string, i int) (int64, error) {
	if len(args) <= i {
		return 0, errors.New("missing id")
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", args[i])
	}
	return id, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
