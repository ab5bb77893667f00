package store

import (
	"context"
	"fmt"

	"github.com/HMasataka/chathub/pkg/domain"
)

// Append implements domain.MessageStore
func (s *Store) Append(ctx context.Context, msg *domain.Message) (int64, error) {
	rec := Message{
		SenderID:  msg.SenderID,
		Kind:      string(msg.Kind),
		Body:      msg.Body,
		MediaURL:  msg.MediaURL,
		FileName:  msg.FileName,
		CreatedAt: msg.Timestamp,
	}

	switch msg.Context.Kind {
	case domain.ContextChannel:
		channelID := msg.Context.ChannelID
		rec.ChannelID = &channelID
	case domain.ContextDirect:
		if msg.RecipientID == 0 {
			return 0, fmt.Errorf("direct message without recipient id")
		}
		recipientID := msg.RecipientID
		rec.RecipientID = &recipientID
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// Find implements domain.MessageStore
func (s *Store) Find(ctx context.Context, id int64) (*domain.Message, error) {
	var rec Message
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err)
	}

	messages, err := s.hydrate(ctx, []Message{rec})
	if err != nil {
		return nil, err
	}
	return messages[0], nil
}

// Remove implements domain.MessageStore
func (s *Store) Remove(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&Message{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// RecentForChannel implements domain.MessageStore
func (s *Store) RecentForChannel(ctx context.Context, channelID int64, limit int) ([]*domain.Message, error) {
	var recs []Message
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	return s.hydrate(ctx, oldestFirst(recs))
}

// ConversationBetween implements domain.MessageStore
func (s *Store) ConversationBetween(ctx context.Context, userA, userB string, limit int) ([]*domain.Message, error) {
	a, err := s.FindByUsername(ctx, userA)
	if err != nil {
		return nil, err
	}
	b, err := s.FindByUsername(ctx, userB)
	if err != nil {
		return nil, err
	}

	var recs []Message
	err = s.db.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)", a.ID, b.ID, b.ID, a.ID).
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	return s.hydrate(ctx, oldestFirst(recs))
}

func oldestFirst(recs []Message) []Message {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs
}

// hydrate resolves sender and recipient names of recs in one query
func (s *Store) hydrate(ctx context.Context, recs []Message) ([]*domain.Message, error) {
	ids := make([]int64, 0, len(recs)*2)
	for _, r := range recs {
		ids = append(ids, r.SenderID)
		if r.RecipientID != nil {
			ids = append(ids, *r.RecipientID)
		}
	}

	names, err := s.usernames(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Message, 0, len(recs))
	for _, r := range recs {
		m := &domain.Message{
			ID:             r.ID,
			SenderID:       r.SenderID,
			SenderUsername: names[r.SenderID],
			Kind:           domain.MessageKind(r.Kind),
			Body:           r.Body,
			MediaURL:       r.MediaURL,
			FileName:       r.FileName,
			Timestamp:      r.CreatedAt.UTC(),
			Context:        domain.BroadcastMessageContext(),
		}

		switch {
		case r.ChannelID != nil:
			m.Context = domain.ChannelMessageContext(*r.ChannelID)
		case r.RecipientID != nil:
			m.RecipientID = *r.RecipientID
			m.Context = domain.DirectMessageContext(names[*r.RecipientID])
		}

		out = append(out, m)
	}
	return out, nil
}
