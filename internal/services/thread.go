package services

import (
	"sort"
	"strings"
	"time"

	"hostline/internal/repo"
	"hostline/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ThreadService assembles conversation timelines from the raw inbound and
// outbound tables
type ThreadService struct {
	conversations *repo.ConversationRepository
	messages      *repo.MessageRepository
}

// NewThreadService creates a thread service
func NewThreadService(conversations *repo.ConversationRepository, messages *repo.MessageRepository) *ThreadService {
	return &ThreadService{
		conversations: conversations,
		messages:      messages,
	}
}

// AssembleByConversation loads and assembles the timeline for one
// conversation, property scoped
func (s *ThreadService) AssembleByConversation(conversationID, propertyID uuid.UUID) ([]models.ThreadEntry, error) {
	if _, err := s.conversations.GetByIDAndProperty(conversationID, propertyID); err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}

	inbound, err := s.messages.ListInboundByConversation(conversationID)
	if err != nil {
		return nil, err
	}

	outbound, err := s.messages.ListOutboundByConversation(conversationID)
	if err != nil {
		return nil, err
	}

	return BuildTimeline(inbound, outbound), nil
}

// outboundGroup collapses repeated send attempts with the same normalized
// body into one visible entry plus its superseded attempts
type outboundGroup struct {
	latest models.OutboundMessage
	older  []models.OutboundMessage
}

// BuildTimeline merges inbound and outbound rows into one ordered,
// deduplicated view. Outbound attempts with identical normalized bodies
// (typically retries of a failed send) collapse to the most recent attempt,
// with earlier attempts retained newest-first. Inbound rows never collapse.
// The result is ascending by created_at, ties broken by id, so repeated
// assembly over unchanged rows yields identical output.
func BuildTimeline(inbound []models.InboundMessage, outbound []models.OutboundMessage) []models.ThreadEntry {
	groups := make(map[string]*outboundGroup)
	order := make([]string, 0, len(outbound))

	for _, row := range outbound {
		key := NormalizeBody(row.Body)
		group, ok := groups[key]
		if !ok {
			groups[key] = &outboundGroup{latest: row}
			order = append(order, key)
			continue
		}

		if !olderThan(row.CreatedAt, row.ID, group.latest.CreatedAt, group.latest.ID) {
			group.older = append(group.older, group.latest)
			group.latest = row
		} else {
			group.older = append(group.older, row)
		}
	}

	entries := make([]models.ThreadEntry, 0, len(inbound)+len(order))

	for _, m := range inbound {
		entries = append(entries, models.ThreadEntry{
			Kind:      models.ThreadEntryInbound,
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			Body:      m.Body,
		})
	}

	for _, key := range order {
		group := groups[key]

		sort.SliceStable(group.older, func(i, j int) bool {
			// newest first
			return olderThan(group.older[j].CreatedAt, group.older[j].ID, group.older[i].CreatedAt, group.older[i].ID)
		})

		attempts := make([]models.OutboundAttempt, 0, len(group.older))
		for _, a := range group.older {
			attempts = append(attempts, models.OutboundAttempt{
				ID:        a.ID,
				CreatedAt: a.CreatedAt,
				Status:    a.Status,
				Error:     a.Error,
			})
		}

		entries = append(entries, models.ThreadEntry{
			Kind:          models.ThreadEntryOutbound,
			ID:            group.latest.ID,
			CreatedAt:     group.latest.CreatedAt,
			Body:          group.latest.Body,
			Status:        group.latest.Status,
			Error:         group.latest.Error,
			OlderAttempts: attempts,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return olderThan(entries[i].CreatedAt, entries[i].ID, entries[j].CreatedAt, entries[j].ID)
	})

	return entries
}

// NormalizeBody trims a body and collapses internal whitespace so retries
// of the same text group together
func NormalizeBody(body string) string {
	return strings.Join(strings.Fields(body), " ")
}

// olderThan is the total order over timeline rows: created_at ascending,
// ties broken by id so the ordering is deterministic
func olderThan(aTime time.Time, aID uuid.UUID, bTime time.Time, bID uuid.UUID) bool {
	if !aTime.Equal(bTime) {
		return aTime.Before(bTime)
	}
	return aID.String() < bID.String()
}
