// ABOUTME: Interactive terminal front end over a chat session
// ABOUTME: Prints store events as they happen and maps slash commands to session intents

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/eagence-chat/internal/audio"
	"github.com/2389/eagence-chat/internal/chat"
	"github.com/2389/eagence-chat/internal/config"
	"github.com/2389/eagence-chat/internal/conversation"
	"github.com/2389/eagence-chat/internal/media"
	"github.com/2389/eagence-chat/internal/message"
	"github.com/2389/eagence-chat/internal/prefs"
	"github.com/2389/eagence-chat/internal/render"
	"github.com/2389/eagence-chat/internal/widget"
)

// ref is a numbered handle on a block the user can act on.
type ref struct {
	messageID string
	blockID   string
	kind      message.Kind
}

type repl struct {
	session *chat.Session
	prefs   *prefs.Store
	md      render.Markdown
	logger  *slog.Logger

	// out serializes terminal writes between the event printer and the
	// input loop.
	out     sync.Mutex
	theme   prefs.Theme
	refs    []ref
	gallery *widget.Gallery

	cancel context.CancelFunc
	done   chan struct{}
}

func newREPL(ctx context.Context, cfg *config.Config, be chat.Backend, ps *prefs.Store, logger *slog.Logger) (*repl, error) {
	theme, err := ps.Theme(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := chat.Open(ctx, chat.Options{
		Config:  cfg,
		Backend: be,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	r := &repl{
		session: sess,
		prefs:   ps,
		md:      render.NewGoldmark(),
		logger:  logger.With("component", "repl"),
		theme:   theme,
		done:    make(chan struct{}),
	}

	sess.OnStatus(func(connected bool) {
		if connected {
			r.println(color.GreenString("● connecté"))
		} else {
			r.println(color.YellowString("○ connexion perdue, nouvelle tentative..."))
		}
	})
	sess.OnWaiting(func(waiting bool) {
		if waiting {
			r.println(color.HiBlackString("  l'assistant écrit..."))
		}
	})
	sess.Audio().OnChange(func(key audio.Key, st audio.State) {
		if st.Phase == audio.Errored {
			r.println(color.RedString("  audio %s indisponible", key))
		}
	})

	evCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.follow(sess.Store().Subscribe(evCtx))

	return r, nil
}

func (r *repl) close() {
	r.session.Close()
	r.cancel()
	<-r.done
}

// follow prints conversation changes until the store or ctx closes.
func (r *repl) follow(events <-chan conversation.Event) {
	defer close(r.done)
	for ev := range events {
		switch ev.Type {
		case conversation.EventAppended:
			if msg, ok := r.session.Store().Get(ev.MessageID); ok {
				r.printMessage(msg)
			}
		case conversation.EventStatus:
			if msg, ok := r.session.Store().Get(ev.MessageID); ok && msg.Status == message.StatusDelivered {
				r.println(color.HiBlackString("  ✓✓ reçu"))
			}
		}
	}
}

func (r *repl) run(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	ident := r.session.Identity()
	cyan.Printf("Bonjour %s (topic %s). /aide pour les commandes, Ctrl+D pour quitter.\n\n", ident.DisplayName(), r.session.Topic())

	if _, err := r.session.Mount(ctx); err != nil {
		r.logger.Warn("pending message not sent", "error", err)
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	for {
		green.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case err := <-scanErr:
			fmt.Println()
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" || line == "/q" {
				return nil
			}
			if err := r.handle(ctx, line); err != nil {
				color.Red("  %v\n", err)
			}
		}
	}
}

// handle runs one input line.
func (r *repl) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		_, err := r.session.SendText(ctx, line)
		return err
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/aide", "/help":
		r.printHelp()
		return nil
	case "/bouton", "/press":
		if len(args) != 2 {
			return errors.New("usage: /bouton N ID")
		}
		rf, err := r.ref(args[0], message.KindButton)
		if err != nil {
			return err
		}
		return r.session.PressButton(rf.messageID, rf.blockID, args[1])
	case "/choisir", "/select":
		if len(args) != 2 {
			return errors.New("usage: /choisir N ID")
		}
		rf, err := r.ref(args[0], message.KindList)
		if err != nil {
			return err
		}
		l, err := r.session.List(rf.messageID, rf.blockID)
		if err != nil {
			return err
		}
		if err := l.Select(args[1]); err != nil {
			return err
		}
		r.printSelection(l)
		return nil
	case "/valider", "/confirm":
		if len(args) != 1 {
			return errors.New("usage: /valider N")
		}
		rf, err := r.ref(args[0], message.KindList)
		if err != nil {
			return err
		}
		return r.session.ConfirmList(rf.messageID, rf.blockID)
	case "/remplir", "/set":
		if len(args) < 2 {
			return errors.New("usage: /remplir N CHAMP VALEUR")
		}
		rf, err := r.ref(args[0], message.KindForm)
		if err != nil {
			return err
		}
		f, err := r.session.Form(rf.messageID, rf.blockID)
		if err != nil {
			return err
		}
		return f.Set(args[1], strings.Join(args[2:], " "))
	case "/envoyer", "/submit":
		if len(args) != 1 {
			return errors.New("usage: /envoyer N")
		}
		return r.submit(args[0])
	case "/ecouter", "/play":
		if len(args) != 1 {
			return errors.New("usage: /ecouter N")
		}
		rf, err := r.ref(args[0], message.KindAudio)
		if err != nil {
			return err
		}
		return r.session.ToggleAudio(rf.messageID, rf.blockID)
	case "/avancer", "/seek":
		if len(args) != 2 {
			return errors.New("usage: /avancer N FRACTION")
		}
		rf, err := r.ref(args[0], message.KindAudio)
		if err != nil {
			return err
		}
		fraction, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("fraction invalide: %w", err)
		}
		return r.session.Audio().SeekFraction(audio.Key{MessageID: rf.messageID, BlockID: rf.blockID}, fraction)
	case "/voir", "/view":
		if len(args) != 1 {
			return errors.New("usage: /voir N")
		}
		return r.view(args[0])
	case "/suivante", "/next":
		return r.step(true)
	case "/precedente", "/prev":
		return r.step(false)
	case "/joindre", "/attach":
		if len(args) != 1 {
			return errors.New("usage: /joindre CHEMIN")
		}
		return r.attach(args[0])
	case "/position", "/locate":
		if len(args) < 2 {
			return errors.New("usage: /position LAT LON")
		}
		return r.locate(ctx, args[0], args[1])
	case "/brouillons", "/drafts":
		r.printDrafts()
		return nil
	case "/retirer", "/drop":
		if len(args) != 1 {
			return errors.New("usage: /retirer I")
		}
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		return r.session.RemoveDraft(i - 1)
	case "/vocal", "/record":
		if err := r.session.StartRecording(ctx); err != nil {
			return r.captureError(err)
		}
		r.println(color.HiBlackString("  enregistrement… /stop pour terminer"))
		return nil
	case "/stop":
		i, err := r.session.StopRecording(ctx)
		if err != nil && i < 0 {
			return r.captureError(err)
		}
		if err != nil {
			r.println(color.YellowString("  pièce jointe %d: %s", i+1, media.UserMessage(err)))
			return nil
		}
		r.println(color.HiBlackString("  message vocal joint (pièce jointe %d)", i+1))
		return nil
	case "/theme":
		return r.toggleTheme(ctx)
	case "/topic":
		if len(args) != 1 {
			return errors.New("usage: /topic NOM")
		}
		return r.session.SwitchTopic(ctx, args[0])
	}
	return fmt.Errorf("commande inconnue: %s", cmd)
}

func (r *repl) submit(n string) error {
	rf, err := r.ref(n, message.KindForm)
	if err != nil {
		return err
	}
	f, err := r.session.Form(rf.messageID, rf.blockID)
	if err != nil {
		return err
	}
	if err := r.session.SubmitForm(rf.messageID, rf.blockID); err != nil {
		if errors.Is(err, widget.ErrInvalid) {
			for id, msg := range f.Errors() {
				color.Red("  %s: %s\n", id, msg)
			}
		}
		return err
	}
	return nil
}

func (r *repl) view(n string) error {
	rf, err := r.ref(n, message.KindImage)
	if err != nil {
		return err
	}
	msg, ok := r.session.Store().Get(rf.messageID)
	if !ok {
		return conversation.ErrNotFound
	}
	g := widget.NewGallery(msg)
	if !g.Open(rf.blockID) {
		return chat.ErrNoBlock
	}
	r.gallery = g
	r.printImage()
	return nil
}

func (r *repl) step(forward bool) error {
	if r.gallery == nil {
		return errors.New("aucune image ouverte")
	}
	if forward {
		r.gallery.Next()
	} else {
		r.gallery.Prev()
	}
	r.printImage()
	return nil
}

func (r *repl) attach(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("lecture de %s: %w", path, err)
	}
	d := media.FromFile(filepath.Base(path), data)
	i := r.session.Drafts().Add(d)
	color.Green("  pièce jointe %d: %s (%s)\n", i+1, d.Block.Name, d.Block.MimeType)
	return nil
}

// fixedLocator reports a position typed by the user.
type fixedLocator struct {
	lat, lon string
}

func (l fixedLocator) Locate(context.Context) (float64, float64, error) {
	lat, err := strconv.ParseFloat(l.lat, 64)
	if err != nil {
		return 0, 0, err
	}
	lon, err := strconv.ParseFloat(l.lon, 64)
	if err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

func (r *repl) locate(ctx context.Context, lat, lon string) error {
	d, err := media.Locate(ctx, fixedLocator{lat: lat, lon: lon})
	if err != nil {
		return err
	}
	r.session.Drafts().Add(d)
	color.Green("  position ajoutée: %s\n", widget.MapsURL(d.Block))
	return nil
}

func (r *repl) toggleTheme(ctx context.Context) error {
	next := r.theme.Toggle()
	if err := r.prefs.SetTheme(ctx, next); err != nil {
		return err
	}
	r.out.Lock()
	r.theme = next
	r.out.Unlock()
	color.Green("  thème %s\n", next)
	return nil
}

// ref resolves a user typed reference number.
func (r *repl) ref(n string, kind message.Kind) (ref, error) {
	i, err := strconv.Atoi(strings.TrimPrefix(n, "#"))
	r.out.Lock()
	defer r.out.Unlock()
	if err != nil || i < 1 || i > len(r.refs) {
		return ref{}, fmt.Errorf("référence inconnue: %s", n)
	}
	rf := r.refs[i-1]
	if rf.kind != kind {
		return ref{}, fmt.Errorf("#%d n'est pas un bloc %s", i, kind)
	}
	return rf, nil
}

func (r *repl) addRef(messageID string, b message.Block) int {
	r.refs = append(r.refs, ref{messageID: messageID, blockID: b.ID, kind: b.Kind})
	return len(r.refs)
}

func (r *repl) println(s string) {
	r.out.Lock()
	defer r.out.Unlock()
	fmt.Println(s)
}

func (r *repl) printMessage(msg message.Message) {
	r.out.Lock()
	defer r.out.Unlock()

	who := color.New(color.FgGreen).Sprint("Vous")
	textColor := color.New(color.Reset)
	if !msg.IsUser {
		who = color.New(color.FgCyan).Sprint("Assistant")
		if r.theme == prefs.ThemeDark {
			textColor = color.New(color.FgHiWhite)
		} else {
			textColor = color.New(color.FgBlue)
		}
	}
	fmt.Printf("\n%s %s\n", who, color.HiBlackString(msg.Timestamp.Local().Format("15:04")))

	for _, b := range msg.Blocks {
		switch b.Kind {
		case message.KindText:
			text := b.Text
			if !msg.IsUser {
				text = r.md.Plain(text)
			}
			textColor.Println(indent(text))
		case message.KindImage:
			n := r.addRef(msg.ID, b)
			fmt.Printf("  [#%d image] %s\n", n, firstNonEmpty(b.Caption, b.Name, b.URL))
		case message.KindAudio:
			if b.Err {
				color.Red("  [audio indisponible]\n")
				continue
			}
			n := r.addRef(msg.ID, b)
			dur := "durée inconnue"
			if b.Duration > 0 {
				dur = strconv.FormatFloat(b.Duration, 'f', 0, 64) + "s"
			}
			fmt.Printf("  [#%d audio] %s\n", n, dur)
		case message.KindPDF, message.KindDoc:
			fmt.Printf("  [document] %s %s\n", firstNonEmpty(b.Name, "fichier"), color.HiBlackString(b.URL))
		case message.KindLocation:
			fmt.Printf("  [position] %s %s\n", b.Label, widget.MapsURL(b))
		case message.KindButton:
			n := r.addRef(msg.ID, b)
			fmt.Printf("  [#%d] ", n)
			for _, btn := range b.Buttons {
				fmt.Printf("(%s) %s  ", btn.ID, btn.Title)
			}
			fmt.Println()
		case message.KindList:
			n := r.addRef(msg.ID, b)
			if b.Body != "" {
				textColor.Println(indent(b.Body))
			}
			mode := "un choix"
			if b.Selector == message.SelectorMultiple {
				mode = "plusieurs choix"
			}
			fmt.Printf("  [#%d liste, %s]\n", n, mode)
			for _, it := range b.ListItems {
				fmt.Printf("    (%s) %s %s\n", it.ID, it.Title, color.HiBlackString(it.Description))
			}
		case message.KindForm:
			n := r.addRef(msg.ID, b)
			fmt.Printf("  [#%d formulaire]\n", n)
			for _, f := range b.FormFields {
				mark := ""
				if f.Required {
					mark = color.RedString("*")
				}
				fmt.Printf("    %s%s (%s)\n", f.Name, mark, f.ID)
			}
		}
	}
}

func (r *repl) printSelection(l *widget.List) {
	var titles []string
	for _, it := range l.Selected() {
		titles = append(titles, it.Title)
	}
	r.println(color.HiBlackString("  sélection: %s", strings.Join(titles, ", ")))
}

func (r *repl) printImage() {
	img, ok := r.gallery.Current()
	if !ok {
		return
	}
	r.println(fmt.Sprintf("  image %s sur %d: %s", img.ID, r.gallery.Len(), firstNonEmpty(img.Name, img.URL)))
}

func (r *repl) printDrafts() {
	ds := r.session.Drafts()
	if ds.Len() == 0 {
		r.println(color.HiBlackString("  aucune pièce jointe"))
		return
	}
	for i := 0; i < ds.Len(); i++ {
		d, ok := ds.Get(i)
		if !ok {
			break
		}
		label := firstNonEmpty(d.Block.Name, string(d.Block.Kind))
		if d.Block.Err {
			label += color.RedString(" (illisible)")
		}
		r.println(fmt.Sprintf("  %d. %s", i+1, label))
	}
}

// captureError turns a recorder error into the text shown to the user.
func (r *repl) captureError(err error) error {
	if errors.Is(err, chat.ErrNoRecorder) {
		return err
	}
	r.logger.Debug("voice capture failed", "error", err)
	return errors.New(media.UserMessage(err))
}

func (r *repl) printHelp() {
	yellow := color.New(color.FgYellow)
	r.out.Lock()
	defer r.out.Unlock()
	yellow.Println("Commandes:")
	fmt.Println("  /bouton N ID             Répondre avec un bouton")
	fmt.Println("  /choisir N ID            (Dé)sélectionner un élément de liste")
	fmt.Println("  /valider N               Envoyer la sélection")
	fmt.Println("  /remplir N CHAMP VALEUR  Remplir un champ de formulaire")
	fmt.Println("  /envoyer N               Envoyer un formulaire")
	fmt.Println("  /ecouter N               Lecture / pause d'un message audio")
	fmt.Println("  /avancer N FRACTION      Se déplacer dans un message audio (0 à 1)")
	fmt.Println("  /voir N                  Ouvrir une image, puis /suivante et /precedente")
	fmt.Println("  /joindre CHEMIN          Joindre un fichier au prochain message")
	fmt.Println("  /position LAT LON        Joindre une position")
	fmt.Println("  /brouillons, /retirer I  Lister ou retirer les pièces jointes")
	fmt.Println("  /vocal, /stop            Enregistrer un message vocal")
	fmt.Println("  /theme                   Basculer clair / sombre")
	fmt.Println("  /topic NOM               Changer de topic")
	fmt.Println("  /quit                    Quitter")
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
