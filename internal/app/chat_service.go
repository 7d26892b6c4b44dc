package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kbring/internal/ai"
	"kbring/internal/model"
	"kbring/internal/repository"
	"kbring/internal/retrieval"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageEmpty    = errors.New("message content is empty")
	ErrInvalidMode     = errors.New("unknown chat mode")
	ErrLLMConfig       = errors.New("llm config is invalid")
	ErrMessageEnqueue  = errors.New("message enqueue failed")
)

// Chat modes. Search answers from the index alone; rag and analysis ground
// an LLM completion in retrieved context.
const (
	ModeSearch   = "search"
	ModeRAG      = "rag"
	ModeAnalysis = "analysis"
)

const (
	contextCharCap  = 20000
	excerptChars    = 500
	defaultChatTopK = 5
)

type ChatService struct {
	sessionRepo  *repository.SessionRepository
	messageRepo  *repository.MessageRepository
	publisher    AsyncMessagePublisher
	historyCache HistoryCache
	search       *SearchService
	llmClient    *ai.OpenAICompatibleClient
	defaultLLM   ai.ChatConfig
	maxContext   int
}

// AsyncMessagePublisher hands message envelopes to the persistence queue.
type AsyncMessagePublisher interface {
	Publish(ctx context.Context, env model.MessageEnvelope) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, sessionID uint) error
	MarkDirty(ctx context.Context, sessionID uint) error
	IsDirty(ctx context.Context, sessionID uint) (bool, error)
}

type CreateSessionInput struct {
	UserID uint
	Title  string
}

type SendMessageInput struct {
	UserID    uint
	SessionID uint
	Content   string
	Mode      string
	TopK      int
}

type SendMessageResult struct {
	Messages   []model.Message       `json:"messages"`
	Citations  []model.Citation      `json:"citations,omitempty"`
	Confidence string                `json:"confidence"`
	Sources    []retrieval.Candidate `json:"sources,omitempty"`
}

func NewChatService(
	sessionRepo *repository.SessionRepository,
	messageRepo *repository.MessageRepository,
	publisher AsyncMessagePublisher,
	historyCache HistoryCache,
	search *SearchService,
	defaultLLM ai.ChatConfig,
	maxContext int,
) *ChatService {
	if maxContext <= 0 {
		maxContext = 20
	}
	return &ChatService{
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		publisher:    publisher,
		historyCache: historyCache,
		search:       search,
		llmClient:    ai.NewOpenAICompatibleClient(),
		defaultLLM:   defaultLLM,
		maxContext:   maxContext,
	}
}

func (s *ChatService) CreateSession(input CreateSessionInput) (*model.Session, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "New Chat"
	}

	session := &model.Session{
		UserID: input.UserID,
		Title:  title,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) ListSessions(userID uint) ([]model.Session, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.sessionRepo.ListByUserID(userID)
}

func (s *ChatService) DeleteSession(userID, sessionID uint) error {
	if userID == 0 || sessionID == 0 {
		return ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if err := s.messageRepo.DeleteBySessionID(sessionID); err != nil {
		return err
	}
	if err := s.sessionRepo.DeleteByIDAndUserID(sessionID, userID); err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(context.Background(), sessionID)
	}
	return nil
}

// SendMessage answers one user turn. Retrieval runs first; the search mode
// returns its hits directly, rag and analysis ground a completion in the
// numbered context. Both messages and the answer's citations are persisted
// asynchronously.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (*SendMessageResult, error) {
	if input.UserID == 0 || input.SessionID == 0 {
		return nil, ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}
	mode := strings.TrimSpace(input.Mode)
	if mode == "" {
		mode = ModeRAG
	}
	if mode != ModeSearch && mode != ModeRAG && mode != ModeAnalysis {
		return nil, ErrInvalidMode
	}

	session, err := s.sessionRepo.GetByIDAndUserID(input.SessionID, input.UserID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if s.publisher == nil {
		return nil, ErrMessageEnqueue
	}

	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, input.SessionID)
		_ = s.historyCache.DeleteHistory(ctx, input.SessionID)
	}

	userMessage := model.Message{
		SessionID: input.SessionID,
		UserID:    input.UserID,
		Role:      "user",
		Mode:      mode,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.publisher.Publish(ctx, model.MessageEnvelope{Message: userMessage}); err != nil {
		return nil, ErrMessageEnqueue
	}

	topK := input.TopK
	if topK <= 0 {
		topK = defaultChatTopK
	}
	searchResult, err := s.search.Search(ctx, input.UserID, content, topK)
	if err != nil {
		// Retrieval problems degrade the answer, they do not fail the turn.
		log.Printf("chat retrieval failed: %v", err)
		searchResult = &SearchResult{Query: content, Confidence: retrieval.ConfidenceLow}
	}

	contextBlock, citations, used := buildContextBlock(searchResult.Results)

	var assistantContent string
	switch mode {
	case ModeSearch:
		assistantContent = formatSearchReply(used)
	default:
		assistantContent, err = s.complete(ctx, input.SessionID, mode, content, contextBlock, len(used))
		if err != nil {
			return nil, err
		}
	}

	assistantMessage := model.Message{
		SessionID: input.SessionID,
		UserID:    input.UserID,
		Role:      "assistant",
		Mode:      mode,
		Content:   assistantContent,
		CreatedAt: time.Now(),
	}
	if err := s.publisher.Publish(ctx, model.MessageEnvelope{
		Message:   assistantMessage,
		Citations: citations,
	}); err != nil {
		return nil, ErrMessageEnqueue
	}

	_ = s.sessionRepo.Touch(input.SessionID)

	return &SendMessageResult{
		Messages:   []model.Message{userMessage, assistantMessage},
		Citations:  citations,
		Confidence: searchResult.Confidence,
		Sources:    used,
	}, nil
}

func (s *ChatService) complete(ctx context.Context, sessionID uint, mode, question, contextBlock string, sourceCount int) (string, error) {
	cfg := s.defaultLLM
	if cfg.BaseURL == "" || cfg.Model == "" {
		return "", ErrLLMConfig
	}

	system := ragSystemPrompt
	if mode == ModeAnalysis {
		system = analysisSystemPrompt
	}

	recent, err := s.messageRepo.ListRecentBySessionID(sessionID, s.maxContext)
	if err != nil {
		return "", err
	}

	messages := make([]ai.ChatMessage, 0, len(recent)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: system})
	for _, item := range recent {
		role := item.Role
		if role == "" {
			role = "user"
		}
		messages = append(messages, ai.ChatMessage{Role: role, Content: item.Content})
	}

	userContent := question
	if contextBlock != "" {
		userContent = "Context:\n" + contextBlock + "\nQuestion: " + question
	}
	messages = append(messages, ai.ChatMessage{Role: "user", Content: userContent})

	answer, err := s.llmClient.Complete(ctx, cfg, messages)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = "The model returned an empty response."
	}
	if sourceCount > 0 && !strings.Contains(answer, "[1]") && !strings.Contains(strings.ToLower(answer), "sources") {
		answer += "\n\n(Answered from " + fmt.Sprintf("%d", sourceCount) + " indexed sources.)"
	}
	return answer, nil
}

const ragSystemPrompt = "You are a retrieval-grounded assistant. Answer using only the numbered " +
	"context entries. Cite the entries you used as [n]. If the context does not " +
	"contain the answer, say so plainly. Finish with a 'Sources:' line listing the " +
	"cited entry numbers."

const analysisSystemPrompt = "You are an analyst. Compare and synthesize the numbered context " +
	"entries: note agreements, contradictions, and gaps. Cite entries as [n] and " +
	"finish with a 'Sources:' line listing the cited entry numbers."

// buildContextBlock renders numbered context entries up to the character cap
// and returns the citations for the entries that made it in.
func buildContextBlock(results []retrieval.Candidate) (string, []model.Citation, []retrieval.Candidate) {
	var b strings.Builder
	var citations []model.Citation
	var used []retrieval.Candidate
	for i, c := range results {
		entry := fmt.Sprintf("[%d] %s", i+1, c.Title)
		if c.URI != "" {
			entry += " (" + c.URI + ")"
		}
		entry += "\n" + excerpt(c.Content, excerptChars) + "\n\n"
		if b.Len()+len(entry) > contextCharCap {
			break
		}
		b.WriteString(entry)
		citations = append(citations, model.Citation{ChunkID: c.ChunkID, Score: c.Score})
		used = append(used, c)
	}
	return b.String(), citations, used
}

func formatSearchReply(used []retrieval.Candidate) string {
	if len(used) == 0 {
		return "No matching content found in your documents."
	}
	var b strings.Builder
	b.WriteString("Top matches:\n")
	for i, c := range used {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, c.Title, excerpt(c.Content, 160))
	}
	return strings.TrimRight(b.String(), "\n")
}

func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

func (s *ChatService) GetHistory(userID, sessionID uint, limit int) ([]model.Message, error) {
	if userID == 0 || sessionID == 0 {
		return nil, ErrInvalidInput
	}

	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	ctx := context.Background()
	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return trimMessages(cached, limit), nil
			}
		}
	}

	messages, err := s.messageRepo.ListBySessionID(sessionID, limit)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, sessionID, messages)
		}
	}
	return messages, nil
}

// ListCitations returns the citations recorded for one assistant message,
// after checking the session belongs to the caller. The repository query is
// itself session-scoped, so a message id from another user's session yields
// nothing.
func (s *ChatService) ListCitations(userID, sessionID, messageID uint) ([]model.Citation, error) {
	if userID == 0 || sessionID == 0 || messageID == 0 {
		return nil, ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return s.messageRepo.ListCitationsForMessage(sessionID, messageID)
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
