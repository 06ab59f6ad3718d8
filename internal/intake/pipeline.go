// Package intake orchestrates inbound message processing: user resolution,
// ledger deduplication, intent routing, and reply assembly.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/remembot/internal/intent"
	"github.com/kalambet/remembot/internal/media"
	"github.com/kalambet/remembot/internal/memory"
	"github.com/kalambet/remembot/internal/storage"
)

const (
	searchResultLimit = 5
	listReplyLimit    = 5
	listFetchLimit    = 10
	mediaConcurrency  = 4
)

const (
	replyTextSaved = "I've saved your text message as a memory! You can ask me about it later."
	replyEmpty     = "I received your message but couldn't process it. Please send text, images, or voice notes."
	replyBadCmd    = "I don't recognize that command. Use /list to see your memories."
	replyNoResults = "I couldn't find anything matching that. Try different words, or send me something new to remember!"
	replyNoMemos   = "You don't have any memories yet. Send me text, images, or voice notes to create memories!"
	replyNoSched   = "I've saved your message as a memory, but I couldn't schedule a reminder right now. Please try again with a specific time."
)

// IncomingMessage is one inbound channel message, already parsed from the
// transport payload.
type IncomingMessage struct {
	ChannelMessageID string
	From             string // channel address, whatsapp: prefix tolerated
	Body             string
	Media            []MediaItem
}

// MediaItem is one attachment reference on an inbound message.
type MediaItem struct {
	URL         string
	ContentType string
}

// Classifier decides what an inbound text wants.
type Classifier interface {
	Classify(ctx context.Context, text, userID string, nowLocal time.Time) intent.Classification
}

// MemoryService is the dual-store memory collaborator.
type MemoryService interface {
	Create(ctx context.Context, user storage.User, interactionID, content, memType string, tags []string) (storage.Memory, error)
	Search(ctx context.Context, user storage.User, query string, limit int) ([]memory.EnrichedMemory, error)
	List(ctx context.Context, user storage.User, limit int) ([]storage.Memory, error)
}

// ReminderCreator schedules reminders.
type ReminderCreator interface {
	Create(user storage.User, interactionID, message string, scheduledAt time.Time, timezone string) (storage.Reminder, error)
}

// MediaDownloader fetches attachment bytes from the channel.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, url string) ([]byte, string, error)
}

// MediaProcessor classifies payloads and transcribes audio.
type MediaProcessor interface {
	Describe(data []byte, mimeType string) (kind, metadataJSON string)
	Transcribe(ctx context.Context, data []byte, mimeType string) (string, error)
}

// BlobStore persists deduplicated binary payloads.
type BlobStore interface {
	Put(data []byte, kind, mimeType, metadataJSON string) (storage.Blob, error)
}

// Pipeline routes inbound messages through classification, storage, and
// reply assembly.
type Pipeline struct {
	store      *storage.Store
	classifier Classifier
	memories   MemoryService
	reminders  ReminderCreator
	downloader MediaDownloader
	media      MediaProcessor
	blobs      BlobStore
	location   *time.Location
	now        func() time.Time
}

// NewPipeline creates a Pipeline. location is the timezone used to resolve
// relative phrases in reminder requests; nil means UTC.
func NewPipeline(store *storage.Store, classifier Classifier, memories MemoryService,
	reminders ReminderCreator, downloader MediaDownloader, processor MediaProcessor,
	blobs BlobStore, location *time.Location) *Pipeline {
	if location == nil {
		location = time.UTC
	}
	return &Pipeline{
		store:      store,
		classifier: classifier,
		memories:   memories,
		reminders:  reminders,
		downloader: downloader,
		media:      processor,
		blobs:      blobs,
		location:   location,
		now:        time.Now,
	}
}

// HandleMessage processes one inbound message and returns the reply text.
// Redelivery of an already-recorded channel message id acknowledges without
// re-executing side effects.
func (p *Pipeline) HandleMessage(ctx context.Context, msg IncomingMessage) (string, error) {
	channelID := strings.TrimPrefix(msg.From, "whatsapp:")
	if channelID == "" || msg.ChannelMessageID == "" {
		return "", fmt.Errorf("message missing sender or channel message id")
	}

	user, err := p.store.GetOrCreateUser(channelID)
	if err != nil {
		return "", fmt.Errorf("resolving user: %w", err)
	}

	existing, err := p.store.GetInteractionByChannelMessageID(msg.ChannelMessageID)
	if err == nil {
		slog.Info("replayed message", "channel_message_id", msg.ChannelMessageID, "interaction_id", existing.ID)
		return p.replayReply(ctx, user, existing)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("checking ledger: %w", err)
	}

	if len(msg.Media) > 0 {
		return p.handleMedia(ctx, user, msg)
	}

	body := strings.TrimSpace(msg.Body)
	if body == "" {
		return replyEmpty, nil
	}
	if strings.HasPrefix(body, "/") {
		return p.handleCommand(ctx, user, msg, body)
	}
	return p.handleText(ctx, user, msg, body)
}

func (p *Pipeline) handleText(ctx context.Context, user storage.User, msg IncomingMessage, body string) (string, error) {
	c := p.classifier.Classify(ctx, body, user.ID, p.now().In(p.location))
	slog.Info("classified message", "user_id", user.ID, "intent", c.Kind,
		"confidence", c.Confidence, "fallback", c.Fallback)

	interactionType := storage.InteractionText
	if c.Kind == intent.KindSearch {
		interactionType = storage.InteractionSearch
	}

	interaction, created, err := p.recordInteraction(user, msg, interactionType, body, "", "", "{}")
	if err != nil {
		return "", err
	}
	if !created {
		// Lost the idempotency race to a concurrent duplicate delivery.
		return p.replayReply(ctx, user, interaction)
	}

	switch c.Kind {
	case intent.KindSearch:
		query := c.ExtractedQuery
		if query == "" {
			query = body
		}
		return p.searchReply(ctx, user, query)

	case intent.KindReminder:
		if c.Reminder == nil {
			// The fallback path recognizes the intent but cannot produce a
			// schedule. Keep the content as a plain memory instead.
			if _, err := p.memories.Create(ctx, user, interaction.ID, body, "text", nil); err != nil {
				p.rollbackInteraction(interaction.ID)
				return "", fmt.Errorf("saving memory: %w", err)
			}
			return replyNoSched, nil
		}
		r, err := p.reminders.Create(user, interaction.ID, c.Reminder.Message, c.Reminder.ScheduledAt, c.Reminder.Timezone)
		if err != nil {
			p.rollbackInteraction(interaction.ID)
			return "", fmt.Errorf("scheduling reminder: %w", err)
		}
		return reminderReply(r, p.location), nil

	default:
		content := body
		if c.RewrittenContent != "" {
			content = c.RewrittenContent
		}
		if _, err := p.memories.Create(ctx, user, interaction.ID, content, "text", nil); err != nil {
			p.rollbackInteraction(interaction.ID)
			return "", fmt.Errorf("saving memory: %w", err)
		}
		return replyTextSaved, nil
	}
}

func (p *Pipeline) handleCommand(ctx context.Context, user storage.User, msg IncomingMessage, body string) (string, error) {
	if strings.ToLower(body) != "/list" {
		return replyBadCmd, nil
	}

	_, created, err := p.recordInteraction(user, msg, storage.InteractionCommand, body, "", "", "{}")
	if err != nil {
		return "", err
	}
	if !created {
		slog.Info("replayed command", "channel_message_id", msg.ChannelMessageID)
	}
	return p.listReply(ctx, user)
}

type processedMedia struct {
	kind       string
	transcript string
	content    string
	blob       storage.Blob
}

func (p *Pipeline) handleMedia(ctx context.Context, user storage.User, msg IncomingMessage) (string, error) {
	results := make([]processedMedia, len(msg.Media))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mediaConcurrency)
	for i, item := range msg.Media {
		g.Go(func() error {
			pm, err := p.processAttachment(gctx, item)
			if err != nil {
				return fmt.Errorf("attachment %d: %w", i, err)
			}
			results[i] = pm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("processing media: %w", err)
	}

	// The interaction is keyed by the message, not the attachment; the
	// first attachment determines its type and blob reference.
	first := results[0]
	interaction, created, err := p.recordInteraction(user, msg,
		interactionTypeFor(first.kind), strings.TrimSpace(msg.Body), first.transcript,
		first.blob.ID, first.blob.MetadataJSON)
	if err != nil {
		return "", err
	}
	if !created {
		return p.replayReply(ctx, user, interaction)
	}

	for n, pm := range results {
		if _, err := p.memories.Create(ctx, user, interaction.ID, pm.content, pm.kind, nil); err != nil {
			// With no memory saved yet the ledger row would replay as a
			// false acknowledgment; roll it back so the retry re-executes.
			// Once any attachment is saved the row stays.
			if n == 0 {
				p.rollbackInteraction(interaction.ID)
			}
			return "", fmt.Errorf("saving media memory: %w", err)
		}
	}

	reply := fmt.Sprintf("I've saved your %s as a memory!", first.kind)
	if first.kind == media.KindAudio && first.transcript != "" {
		reply += fmt.Sprintf(" I transcribed it as: '%s'", first.transcript)
	}
	return reply, nil
}

func (p *Pipeline) processAttachment(ctx context.Context, item MediaItem) (processedMedia, error) {
	data, mimeType, err := p.downloader.DownloadMedia(ctx, item.URL)
	if err != nil {
		return processedMedia{}, fmt.Errorf("downloading: %w", err)
	}
	if mimeType == "" {
		mimeType = item.ContentType
	}

	kind, metadataJSON := p.media.Describe(data, mimeType)

	var transcript string
	if kind == media.KindAudio {
		transcript, err = p.media.Transcribe(ctx, data, mimeType)
		if err != nil {
			return processedMedia{}, err
		}
	}

	blob, err := p.blobs.Put(data, kind, mimeType, metadataJSON)
	if err != nil {
		return processedMedia{}, fmt.Errorf("storing blob: %w", err)
	}

	return processedMedia{
		kind:       kind,
		transcript: transcript,
		content:    mediaContent(kind, mimeType, transcript),
		blob:       blob,
	}, nil
}

// recordInteraction writes the ledger row. created is false when a row with
// the same channel message id already existed; the returned row is then the
// stored one.
func (p *Pipeline) recordInteraction(user storage.User, msg IncomingMessage,
	typ storage.InteractionType, content, transcript, blobID, metadataJSON string) (storage.Interaction, bool, error) {
	id := uuid.New().String()
	stored, err := p.store.CreateInteraction(storage.Interaction{
		ID:               id,
		UserID:           user.ID,
		ChannelMessageID: msg.ChannelMessageID,
		Type:             typ,
		Content:          content,
		Transcript:       transcript,
		BlobID:           blobID,
		MetadataJSON:     metadataJSON,
		CreatedAt:        p.now().UTC(),
	})
	if err != nil {
		return storage.Interaction{}, false, fmt.Errorf("recording interaction: %w", err)
	}
	return stored, stored.ID == id, nil
}

// rollbackInteraction removes a ledger row whose side effects did not
// complete, so a channel retry re-executes instead of replaying a false
// acknowledgment. A failed rollback is logged and the error path proceeds.
func (p *Pipeline) rollbackInteraction(id string) {
	if err := p.store.DeleteInteraction(id); err != nil {
		slog.Error("rolling back interaction failed", "interaction_id", id, "error", err)
	}
}

// replayReply acknowledges a redelivered message. Reads re-execute (they
// have no side effects); everything else returns the acknowledgment its
// first delivery produced.
func (p *Pipeline) replayReply(ctx context.Context, user storage.User, i storage.Interaction) (string, error) {
	switch i.Type {
	case storage.InteractionSearch:
		return p.searchReply(ctx, user, i.Content)
	case storage.InteractionCommand:
		return p.listReply(ctx, user)
	case storage.InteractionImage, storage.InteractionAudio, storage.InteractionDocument:
		reply := fmt.Sprintf("I've saved your %s as a memory!", i.Type)
		if i.Type == storage.InteractionAudio && i.Transcript != "" {
			reply += fmt.Sprintf(" I transcribed it as: '%s'", i.Transcript)
		}
		return reply, nil
	default:
		return replyTextSaved, nil
	}
}

func (p *Pipeline) searchReply(ctx context.Context, user storage.User, query string) (string, error) {
	results, err := p.memories.Search(ctx, user, query, searchResultLimit)
	if err != nil {
		return "", fmt.Errorf("searching memories: %w", err)
	}
	if len(results) == 0 {
		return replyNoResults, nil
	}

	var b strings.Builder
	b.WriteString("Here's what I remember:\n")
	for i, m := range results {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, truncate(m.Content, 100), m.Type)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (p *Pipeline) listReply(ctx context.Context, user storage.User) (string, error) {
	memories, err := p.memories.List(ctx, user, listFetchLimit)
	if err != nil {
		return "", fmt.Errorf("listing memories: %w", err)
	}
	if len(memories) == 0 {
		return replyNoMemos, nil
	}

	shown := memories
	if len(shown) > listReplyLimit {
		shown = shown[:listReplyLimit]
	}
	var b strings.Builder
	b.WriteString("Your recent memories:\n")
	for i, m := range shown {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, truncate(m.Content, 100), m.Type)
	}
	reply := strings.TrimRight(b.String(), "\n")
	if len(memories) > listReplyLimit {
		reply += fmt.Sprintf("\n\n... and %d more memories", len(memories)-listReplyLimit)
	}
	return reply, nil
}

func reminderReply(r storage.Reminder, loc *time.Location) string {
	if tz, err := time.LoadLocation(r.Timezone); err == nil {
		loc = tz
	}
	when := r.ScheduledAt.In(loc).Format("Mon, Jan 2 at 3:04 PM")
	return fmt.Sprintf("⏰ Got it! I'll remind you on %s: %s", when, r.Message)
}

func interactionTypeFor(kind string) storage.InteractionType {
	switch kind {
	case media.KindImage:
		return storage.InteractionImage
	case media.KindAudio:
		return storage.InteractionAudio
	default:
		return storage.InteractionDocument
	}
}

func mediaContent(kind, mimeType, transcript string) string {
	switch kind {
	case media.KindImage:
		return "Image: " + mimeType
	case media.KindAudio:
		return "Audio transcript: " + transcript
	case media.KindDocument:
		return "Document: " + mimeType
	}
	return "Media file: " + mimeType
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
