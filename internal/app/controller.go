package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"secretaria/internal/client"
	"secretaria/internal/identity"
	"secretaria/internal/logging"
	"secretaria/internal/models"
	"secretaria/internal/selection"
	"secretaria/internal/session"
	"secretaria/internal/upload"
)

var (
	ErrNotSignedIn      = errors.New("not signed in")
	ErrNoConversation   = errors.New("no conversation selected")
	ErrUploadInProgress = errors.New("attachment is still uploading")
	ErrConversationBusy = errors.New("a reply is still streaming in this conversation")
)

// View receives everything the user should see. Renderer callbacks arrive
// only for the conversation currently open.
type View interface {
	session.Renderer
	Notice(text string)
	AttachmentState(state upload.State, file upload.LocalFile)
}

// Options configures a Controller.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
	LongPress      time.Duration
}

// SendOptions are the per-message toggles.
type SendOptions struct {
	UseSearch   bool
	GenerateDoc bool
	DocFormat   string
}

// Controller is the client application: it owns the signed-in identity, the
// open conversation, and the engine components acting on it.
type Controller struct {
	api       *client.Client
	keeper    *identity.Keeper
	registry  *session.Registry
	slot      *upload.Slot
	selection *selection.Controller
	view      View

	mu      sync.Mutex
	current int64
}

func New(opts Options, store identity.Store, view View) *Controller {
	c := &Controller{
		keeper: identity.NewKeeper(store),
		view:   view,
	}
	c.api = client.New(opts.BaseURL, c.keeper.Token,
		client.WithRequestTimeout(opts.RequestTimeout),
		client.WithUnauthorizedHook(c.authExpired),
	)
	c.registry = session.NewRegistry(c.api, session.WithAuthExpiredHook(c.authExpired))
	c.slot = upload.NewSlot(c.api, upload.WithObserver(func(st upload.State) {
		local, _ := c.slot.File()
		c.view.AttachmentState(st, local)
	}))
	c.selection = selection.New(c.api,
		selection.WithLongPress(opts.LongPress),
		selection.WithBusyCheck(c.sending),
		selection.WithMembership(c.settled),
		selection.WithNotifier(func(n selection.Notice) { c.view.Notice(n.Text) }),
	)
	return c
}

// Selection exposes the gesture controller for the open conversation.
func (c *Controller) Selection() *selection.Controller {
	return c.selection
}

// Attachment exposes the upload slot.
func (c *Controller) Attachment() *upload.Slot {
	return c.slot
}

func (c *Controller) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Messages returns the transcript of the open conversation.
func (c *Controller) Messages() []models.Message {
	id := c.Current()
	if id == 0 {
		return nil
	}
	return c.registry.Transcript(id).Messages()
}

// Identity returns the signed-in user, if any.
func (c *Controller) Identity() (identity.Credentials, bool) {
	return c.keeper.Current()
}

// Restore signs in from stored credentials.
func (c *Controller) Restore(ctx context.Context) (identity.Credentials, error) {
	return c.keeper.Restore(ctx)
}

func (c *Controller) Register(ctx context.Context, username, password string) (identity.Credentials, error) {
	res, err := c.api.Register(ctx, username, password)
	if err != nil {
		return identity.Credentials{}, err
	}
	return c.signIn(ctx, res)
}

func (c *Controller) Login(ctx context.Context, username, password string) (identity.Credentials, error) {
	res, err := c.api.Login(ctx, username, password)
	if err != nil {
		return identity.Credentials{}, err
	}
	return c.signIn(ctx, res)
}

func (c *Controller) signIn(ctx context.Context, res client.AuthResult) (identity.Credentials, error) {
	creds := identity.Credentials{
		Token:     res.Token,
		UserID:    res.UserID,
		Username:  res.Username,
		ExpiresAt: res.ExpiresAt,
	}
	c.resetLocal()
	if err := c.keeper.SignIn(ctx, creds); err != nil {
		return creds, fmt.Errorf("save session: %w", err)
	}
	return creds, nil
}

// Logout revokes the token server side when possible and forgets it locally.
// Running streams are not cancelled.
func (c *Controller) Logout(ctx context.Context) error {
	if _, ok := c.keeper.Current(); ok {
		if err := c.api.Logout(ctx); err != nil {
			logging.Logger().Warn("server logout failed", "error", err)
		}
	}
	c.resetLocal()
	return c.keeper.SignOut(ctx)
}

// DeleteAccount removes the account on the server, then forgets it locally.
func (c *Controller) DeleteAccount(ctx context.Context, password string) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	if c.sending() {
		return ErrConversationBusy
	}
	if err := c.api.DeleteAccount(ctx, password); err != nil {
		return err
	}
	c.resetLocal()
	return c.keeper.SignOut(ctx)
}

func (c *Controller) authExpired() {
	if _, ok := c.keeper.Current(); !ok {
		return
	}
	if err := c.keeper.SignOut(context.Background()); err != nil {
		logging.Logger().Warn("clear expired session", "error", err)
	}
	c.resetLocal()
	c.view.Notice("Session expired, please log in again.")
}

func (c *Controller) resetLocal() {
	c.mu.Lock()
	c.current = 0
	c.mu.Unlock()
	c.selection.Reset()
	c.slot.Clear()
	c.registry.Reset()
}

func (c *Controller) requireIdentity() error {
	if _, ok := c.keeper.Current(); !ok {
		return ErrNotSignedIn
	}
	return nil
}

func (c *Controller) Conversations(ctx context.Context) ([]models.Conversation, error) {
	if err := c.requireIdentity(); err != nil {
		return nil, err
	}
	return c.api.ListConversations(ctx)
}

// NewConversation creates a conversation and opens it.
func (c *Controller) NewConversation(ctx context.Context, title string) (models.Conversation, error) {
	if err := c.requireIdentity(); err != nil {
		return models.Conversation{}, err
	}
	conv, err := c.api.CreateConversation(ctx, title)
	if err != nil {
		return models.Conversation{}, err
	}
	if err := c.registry.Load(conv.ID, nil); err != nil {
		return conv, err
	}
	c.switchTo(conv.ID)
	return conv, nil
}

// Open switches to a conversation. A conversation with a reply still
// streaming keeps its live transcript; otherwise history is reloaded.
func (c *Controller) Open(ctx context.Context, id int64) ([]models.Message, error) {
	if err := c.requireIdentity(); err != nil {
		return nil, err
	}
	if !c.registry.Active(id) {
		history, err := c.api.ListMessages(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := c.registry.Load(id, history); err != nil && !errors.Is(err, session.ErrSessionActive) {
			return nil, err
		}
	}
	c.switchTo(id)
	return c.registry.Transcript(id).Messages(), nil
}

func (c *Controller) switchTo(id int64) {
	c.mu.Lock()
	changed := c.current != id
	c.current = id
	c.mu.Unlock()
	if changed {
		c.selection.Reset()
		c.slot.Clear()
	}
}

func (c *Controller) Rename(ctx context.Context, id int64, title string) (models.Conversation, error) {
	if err := c.requireIdentity(); err != nil {
		return models.Conversation{}, err
	}
	return c.api.RenameConversation(ctx, id, title)
}

// Delete removes a conversation. A reply streaming into it finishes against
// a detached transcript that nothing displays.
func (c *Controller) Delete(ctx context.Context, id int64) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	if err := c.api.DeleteConversation(ctx, id); err != nil {
		return err
	}
	c.registry.Detach(id)
	c.mu.Lock()
	wasCurrent := c.current == id
	if wasCurrent {
		c.current = 0
	}
	c.mu.Unlock()
	if wasCurrent {
		c.selection.Reset()
		c.slot.Clear()
	}
	return nil
}

// Attach picks and uploads a local file into the slot.
func (c *Controller) Attach(ctx context.Context, path string) (models.FileRef, error) {
	if err := c.requireIdentity(); err != nil {
		return models.FileRef{}, err
	}
	convID := c.Current()
	if convID == 0 {
		return models.FileRef{}, ErrNoConversation
	}
	info, err := os.Stat(path)
	if err != nil {
		return models.FileRef{}, err
	}
	if err := c.slot.Pick(filepath.Base(path), info.Size()); err != nil {
		return models.FileRef{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		c.slot.Clear()
		return models.FileRef{}, err
	}
	defer f.Close()
	return c.slot.Upload(ctx, convID, f)
}

// ClearAttachment drops the pending attachment.
func (c *Controller) ClearAttachment() {
	c.slot.Clear()
}

// Send starts a reply in the open conversation. The attachment, when ready,
// goes with the message and the slot is cleared once the send is accepted.
func (c *Controller) Send(ctx context.Context, text string, opts SendOptions) (*session.Session, error) {
	if err := c.requireIdentity(); err != nil {
		return nil, err
	}
	convID := c.Current()
	if convID == 0 {
		return nil, ErrNoConversation
	}
	if c.slot.State() == upload.StateUploading {
		return nil, ErrUploadInProgress
	}
	req := session.SendRequest{
		ConversationID: convID,
		Content:        text,
		UseSearch:      opts.UseSearch,
		GenerateDoc:    opts.GenerateDoc,
		DocFormat:      opts.DocFormat,
		FileIDs:        c.slot.ReadyIDs(),
		Files:          c.slot.ReadyFiles(),
	}
	s, err := c.registry.Start(ctx, req, currentOnly{c: c, id: convID})
	if err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			return nil, ErrConversationBusy
		}
		return nil, err
	}
	c.slot.Clear()
	return s, nil
}

// Select enters selection mode with a settled message of the open
// conversation, as a secondary click would.
func (c *Controller) Select(id int64) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	if c.Current() == 0 {
		return ErrNoConversation
	}
	return c.selection.SecondaryClick(&id)
}

// Toggle adds or removes a message while selecting.
func (c *Controller) Toggle(id int64) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	if c.selection.Mode() != selection.ModeSelecting {
		return c.Select(id)
	}
	if !c.selection.IsSelected(id) && !c.settled(id) {
		return selection.ErrNotSelectable
	}
	c.selection.Click(&id)
	return nil
}

// Forward sends the selected messages to a contact.
func (c *Controller) Forward(ctx context.Context, contactID int64) (selection.Result, error) {
	if err := c.requireIdentity(); err != nil {
		return selection.Result{}, err
	}
	return c.selection.Forward(ctx, contactID)
}

func (c *Controller) Contacts(ctx context.Context) ([]models.Contact, error) {
	if err := c.requireIdentity(); err != nil {
		return nil, err
	}
	return c.api.ListContacts(ctx)
}

func (c *Controller) AddContact(ctx context.Context, name, chatID string) (models.Contact, error) {
	if err := c.requireIdentity(); err != nil {
		return models.Contact{}, err
	}
	return c.api.CreateContact(ctx, name, chatID)
}

func (c *Controller) DeleteContact(ctx context.Context, id int64) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	return c.api.DeleteContact(ctx, id)
}

// ForwardHistory lists past forward attempts with their delivery status.
func (c *Controller) ForwardHistory(ctx context.Context) ([]models.Forward, error) {
	if err := c.requireIdentity(); err != nil {
		return nil, err
	}
	return c.api.ForwardHistory(ctx)
}

// Files lists stored files of one kind, or all of them when kind is empty.
func (c *Controller) Files(ctx context.Context, kind models.FileKind) ([]models.StoredFile, error) {
	if err := c.requireIdentity(); err != nil {
		return nil, err
	}
	return c.api.ListFiles(ctx, kind)
}

func (c *Controller) Documents(ctx context.Context) ([]models.StoredFile, error) {
	if err := c.requireIdentity(); err != nil {
		return nil, err
	}
	return c.api.ListDocuments(ctx)
}

// ConversationFiles lists the files attached to or generated in the open
// conversation.
func (c *Controller) ConversationFiles(ctx context.Context) ([]models.StoredFile, error) {
	if err := c.requireIdentity(); err != nil {
		return nil, err
	}
	conv := c.Current()
	if conv == 0 {
		return nil, ErrNoConversation
	}
	return c.api.ConversationFiles(ctx, conv)
}

// Download writes a stored or generated file to dest.
func (c *Controller) Download(ctx context.Context, fileID int64, dest string) error {
	if err := c.requireIdentity(); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if err := c.api.Download(ctx, fileID, f); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	return f.Close()
}

// Wait blocks until every running reply has finished.
func (c *Controller) Wait() {
	c.registry.Wait()
}

func (c *Controller) settled(id int64) bool {
	conv := c.Current()
	if conv == 0 {
		return false
	}
	_, ok := c.registry.Transcript(conv).Find(id)
	return ok
}

func (c *Controller) sending() bool {
	id := c.Current()
	return id != 0 && c.registry.Active(id)
}

// currentOnly forwards renderer callbacks while their conversation is open.
type currentOnly struct {
	c  *Controller
	id int64
}

func (r currentOnly) visible() bool {
	return r.c.Current() == r.id
}

func (r currentOnly) UserMessage(msg models.Message) {
	if r.visible() {
		r.c.view.UserMessage(msg)
	}
}

func (r currentOnly) AssistantText(msg models.Message) {
	if r.visible() {
		r.c.view.AssistantText(msg)
	}
}

func (r currentOnly) AssistantFile(msg models.Message, file models.FileRef) {
	if r.visible() {
		r.c.view.AssistantFile(msg, file)
	}
}

func (r currentOnly) MessageBound(msg models.Message) {
	if r.visible() {
		r.c.view.MessageBound(msg)
	}
}

func (r currentOnly) Completed(msg models.Message, committed bool) {
	if r.visible() {
		r.c.view.Completed(msg, committed)
	}
}

func (r currentOnly) Failed(msg models.Message, err *session.Error) {
	if r.visible() {
		r.c.view.Failed(msg, err)
		return
	}
	if err.Kind == session.KindAuthExpired {
		r.c.view.Failed(msg, err)
	}
}
