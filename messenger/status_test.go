package messenger

import (
	"context"
	"math/rand"
	"testing"

	"gig-messenger/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statuses(t *testing.T, f *fixture, conversationID uint) map[uint]model.Status {
	t.Helper()
	var messages []model.Message
	require.NoError(t, f.db.Where("conversation_id = ?", conversationID).Find(&messages).Error)
	out := make(map[uint]model.Status, len(messages))
	for _, m := range messages {
		out[m.ID] = m.Status
	}
	return out
}

func TestMarkReadScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sent := f.send(t, user1, artist1, event1, "Interested in your event!")

	updated, err := f.svc.MarkRead(ctx, user2, sent.ConversationID, event1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated)
	assert.Equal(t, model.StatusRead, statuses(t, f, sent.ConversationID)[sent.Message.ID])

	read := f.broadcaster.named(EventMessagesRead)
	require.Len(t, read, 1)
	assert.Equal(t, MessagesReadPayload{ConversationID: sent.ConversationID, ReaderEntityID: event1.ID, Count: 1}, read[0].Payload)

	updated, err = f.svc.MarkRead(ctx, user2, sent.ConversationID, event1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, updated)
	assert.Len(t, f.broadcaster.named(EventMessagesRead), 1)
}

func TestMarkReadSkipsOwnMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sent := f.send(t, user1, artist1, event1, "mine")

	updated, err := f.svc.MarkRead(ctx, user1, sent.ConversationID, artist1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, updated)
	assert.Equal(t, model.StatusSent, statuses(t, f, sent.ConversationID)[sent.Message.ID])
}

func TestMarkReadAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sent := f.send(t, user1, artist1, event1, "hi")

	// user1 does not control event1
	_, err := f.svc.MarkRead(ctx, user1, sent.ConversationID, event1)
	assert.ErrorIs(t, err, ErrNotOwner)

	// artist2 belongs to user2 but is not in this conversation
	_, err = f.svc.MarkRead(ctx, user2, sent.ConversationID, artist2)
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.svc.MarkRead(ctx, user2, 999, event1)
	assert.ErrorIs(t, err, ErrConversationGone)
}

func TestStatusNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.send(t, user1, artist1, event1, "one")

	_, err := f.svc.MarkRead(ctx, user2, first.ConversationID, event1)
	require.NoError(t, err)

	second := f.send(t, user1, artist1, event1, "two")

	updated, err := f.svc.MarkDelivered(ctx, user2, first.ConversationID, event1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated)

	got := statuses(t, f, first.ConversationID)
	assert.Equal(t, model.StatusRead, got[first.Message.ID])
	assert.Equal(t, model.StatusDelivered, got[second.Message.ID])

	delivered := f.broadcaster.named(EventMessagesDelivered)
	require.Len(t, delivered, 1)

	updated, err = f.svc.MarkRead(ctx, user2, first.ConversationID, event1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated)

	// delivered after read changes nothing
	updated, err = f.svc.MarkDelivered(ctx, user2, first.ConversationID, event1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, updated)
	for _, st := range statuses(t, f, first.ConversationID) {
		assert.Equal(t, model.StatusRead, st)
	}
}

func TestUnreadCountRandomInterleavings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	type actor struct {
		user   string
		entity model.EntityRef
		peer   model.EntityRef
	}
	actors := []actor{
		{user1, artist1, event1},
		{user2, event1, artist1},
	}

	var conversationID uint
	for step := 0; step < 200; step++ {
		a := actors[rng.Intn(len(actors))]
		switch op := rng.Intn(10); {
		case op < 6 || conversationID == 0:
			conversationID = f.send(t, a.user, a.entity, a.peer, "ping").ConversationID
		case op < 8:
			_, err := f.svc.MarkRead(ctx, a.user, conversationID, a.entity)
			require.NoError(t, err)
		case op < 9:
			_, err := f.svc.MarkDelivered(ctx, a.user, conversationID, a.entity)
			require.NoError(t, err)
		default:
			var ids []uint
			require.NoError(t, f.db.Model(&model.Message{}).
				Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
				Where("sender_entity_type = ? AND sender_entity_id = ?", a.entity.Type, a.entity.ID).
				Pluck("id", &ids).Error)
			if len(ids) > 0 {
				require.NoError(t, f.svc.SoftDelete(ctx, a.user, ids[rng.Intn(len(ids))]))
			}
		}

		for _, viewer := range actors {
			var messages []model.Message
			require.NoError(t, f.db.Where("conversation_id = ?", conversationID).Find(&messages).Error)
			var want int64
			for _, m := range messages {
				if m.SenderEntity != viewer.entity && m.Status != model.StatusRead && !m.IsDeleted {
					want++
				}
			}

			got, err := f.svc.ConversationUnread(ctx, viewer.user, conversationID, viewer.entity)
			require.NoError(t, err)
			require.Equal(t, want, got, "step %d viewer %s", step, viewer.entity)
		}
	}
}

func TestConversationUnreadChecksAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sent := f.send(t, user1, artist1, event1, "hello")

	unread, err := f.svc.ConversationUnread(ctx, user2, sent.ConversationID, event1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)

	_, err = f.svc.ConversationUnread(ctx, user1, sent.ConversationID, event1)
	assert.ErrorIs(t, err, ErrNotOwner)

	// user2 controls artist2, which is not part of this conversation
	_, err = f.svc.ConversationUnread(ctx, user2, sent.ConversationID, artist2)
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.svc.ConversationUnread(ctx, user2, 999, event1)
	assert.ErrorIs(t, err, ErrConversationGone)
}

func TestUnreadTotalAndConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	withEvent1 := f.send(t, user1, artist1, event1, "to event one")
	f.send(t, user1, artist1, event1, "again")
	withArtist2 := f.send(t, user2, artist2, artist1, "from dj nova")

	total, err := f.svc.UnreadTotal(ctx, user1, artist1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	total, err = f.svc.UnreadTotal(ctx, user2, event1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	_, err = f.svc.UnreadTotal(ctx, user2, artist1)
	assert.ErrorIs(t, err, ErrNotOwner)

	summaries, err := f.svc.Conversations(ctx, user1, artist1)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// most recent first
	assert.Equal(t, withArtist2.ConversationID, summaries[0].ID)
	assert.Equal(t, artist2, summaries[0].OtherEntity.Ref())
	assert.Equal(t, "DJ Nova", summaries[0].OtherEntity.Name)
	assert.EqualValues(t, 1, summaries[0].UnreadCount)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, withArtist2.Message.ID, summaries[0].LastMessage.ID)

	assert.Equal(t, withEvent1.ConversationID, summaries[1].ID)
	assert.EqualValues(t, 0, summaries[1].UnreadCount)
	require.NotNil(t, summaries[1].LastMessage)
	assert.Equal(t, "again", *summaries[1].LastMessage.Content)

	listed, err := f.svc.Conversations(ctx, user2, event1)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.EqualValues(t, 2, listed[0].UnreadCount)
}

func TestConversationsHideDeletedLastMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kept := f.send(t, user1, artist1, event1, "kept")
	gone := f.send(t, user1, artist1, event1, "regretted")
	require.NoError(t, f.svc.SoftDelete(ctx, user1, gone.Message.ID))

	summaries, err := f.svc.Conversations(ctx, user2, event1)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, kept.Message.ID, summaries[0].LastMessage.ID)
	assert.EqualValues(t, 1, summaries[0].UnreadCount)
}
