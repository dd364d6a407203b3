package service

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkresic/strand/internal/domain"
)

type messageFixture struct {
	svc           *MessageService
	chats         *ChatService
	users         *fakeUserRepo
	memberships   *fakeMembershipRepo
	chatRepo      *fakeChatRepo
	notifications *fakeNotificationRepo
	store         *discardStore
	notifier      *recordingNotifier
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()
	users := newFakeUserRepo()
	memberships := newFakeMembershipRepo()
	chatRepo := newFakeChatRepo(memberships)
	messages := newFakeMessageRepo()
	notifications := newFakeNotificationRepo()
	store := &discardStore{}

	svc := NewMessageService(messages, chatRepo, memberships, users, notifications, store)
	chats := NewChatService(chatRepo, memberships, users, notifications)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)

	return &messageFixture{
		svc: svc, chats: chats, users: users, memberships: memberships,
		chatRepo: chatRepo, notifications: notifications, store: store, notifier: notifier,
	}
}

func (f *messageFixture) group(t *testing.T, creator *domain.User, members ...*domain.User) uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	summary, err := f.chats.Create(context.Background(), creator.ID, CreateChatInput{
		Name: "team", Kind: domain.ChatGroup, MemberIDs: ids,
	})
	require.NoError(t, err)
	// Creating the group writes a chat.invite notification per invited
	// member; clear them so tests observe only action-time notifications.
	f.notifications.reset()
	return summary.ID
}

func TestSendRequiresMembership(t *testing.T) {
	f := newMessageFixture(t)
	alice := addUser(t, f.users, "alice")
	mallory := addUser(t, f.users, "mallory")
	chatID := f.group(t, alice)

	_, err := f.svc.Send(context.Background(), mallory.ID, chatID, SendMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestSendHonorsCapabilityFlag(t *testing.T) {
	f := newMessageFixture(t)
	alice := addUser(t, f.users, "alice")
	bob := addUser(t, f.users, "bob")
	chatID := f.group(t, alice, bob)

	// Revoke bob's send capability.
	m, err := f.memberships.Get(context.Background(), chatID, bob.ID)
	require.NoError(t, err)
	m.CanSendMessages = false
	require.NoError(t, f.memberships.Update(context.Background(), m))

	_, err = f.svc.Send(context.Background(), bob.ID, chatID, SendMessageInput{Content: "hi"})
	assert.ErrorIs(t, err, ErrForbidden)

	// Admins bypass capability flags.
	admin, err := f.memberships.Get(context.Background(), chatID, alice.ID)
	require.NoError(t, err)
	admin.CanSendMessages = false
	require.NoError(t, f.memberships.Update(context.Background(), admin))

	_, err = f.svc.Send(context.Background(), alice.ID, chatID, SendMessageInput{Content: "hi"})
	assert.NoError(t, err)
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	f := newMessageFixture(t)
	alice := addUser(t, f.users, "alice")
	chatID := f.group(t, alice)

	_, err := f.svc.Send(context.Background(), alice.ID, chatID, SendMessageInput{Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendRejectsCrossChatReply(t *testing.T) {
	f := newMessageFixture(t)
	alice := addUser(t, f.users, "alice")
	chatA := f.group(t, alice)
	chatB := f.group(t, alice)

	parent, err := f.svc.Send(context.Background(), alice.ID, chatA, SendMessageInput{Content: "root"})
	require.NoError(t, err)

	_, err = f.svc.Send(context.Background(), alice.ID, chatB, SendMessageInput{
		Content:   "reply",
		ReplyToID: &parent.ID,
	})
	assert.ErrorIs(t, err, ErrBadReply)
}

func TestSendWithAttachmentUploadsFirst(t *testing.T) {
	f := newMessageFixture(t)
	alice := addUser(t, f.users, "alice")
	chatID := f.group(t, alice)

	msg, err := f.svc.Send(context.Background(), alice.ID, chatID, SendMessageInput{
		Type:           domain.MessageImage,
		Attachment:     strings.NewReader("fake-bytes"),
		AttachmentName: "photo.png",
	})
	require.NoError(t, err)
	require.NotNil(t, msg.AttachmentRef)
	assert.True(t, strings.HasPrefix(*msg.AttachmentRef, "/media/"))
	assert.Equal(t, "photo.png", *msg.AttachmentName)
	assert.Len(t, f.store.uploads, 1)
}

func TestSendTouchesChatAndFansOut(t *testing.T) {
	f := newMessageFixture(t)
	alice := addUser(t, f.users, "alice")
	bob := addUser(t, f.users, "bob")
	chatID := f.group(t, alice, bob)

	before, err := f.chatRepo.GetByID(context.Background(), chatID)
	require.NoError(t, err)

	msg, err := f.svc.Send(context.Background(), alice.ID, chatID, SendMessageInput{Content: "hello"})
	require.NoError(t, err)

	after, err := f.chatRepo.GetByID(context.Background(), chatID)
	require.NoError(t, err)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))

	// The message delta reaches both members.
	require.NotEmpty(t, f.notifier.messageDeltas)
	last := f.notifier.messageDeltas[len(f.notifier.messageDeltas)-1]
	assert.Equal(t, domain.OpInsert, last.op)
	assert.Equal(t, msg.ID, last.msg.ID)
	assert.ElementsMatch(t, []uuid.UUID{alice.ID, bob.ID}, last.recipients)

	// A feed notification is written for the other member only.
	unread, err := f.notifications.CountUnread(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
	unread, err = f.notifications.CountUnread(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestSendSkipsNotificationsWhenMuted(t *testing.T) {
	f := newMessageFixture(t)
	alice := addUser(t, f.users, "alice")
	bob := addUser(t, f.users, "bob")
	chatID := f.group(t, alice, bob)

	require.NoError(t, f.chats.SetMuted(context.Background(), bob.ID, chatID, true))

	_, err := f.svc.Send(context.Background(), alice.ID, chatID, SendMessageInput{Content: "quiet"})
	require.NoError(t, err)

	unread, err := f.notifications.CountUnread(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestSendMentionUpgradesNotification(t *testing.T) {
	f := newMessageFixture(t)
	alice := addUser(t, f.users, "alice")
	bob := addUser(t, f.users, "bob")
	chatID := f.group(t, alice, bob)

	// The fake membership repo stores no usernames; seed bob's.
	m, err := f.memberships.Get(context.Background(), chatID, bob.ID)
	require.NoError(t, err)
	m.Username = "bob"
	require.NoError(t, f.memberships.Update(context.Background(), m))

	_, err = f.svc.Send(context.Background(), alice.ID, chatID, SendMessageInput{Content: "ping @bob"})
	require.NoError(t, err)

	items, err := f.notifications.ListByUser(context.Background(), bob.ID, 50)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.NotificationMention, items[0].Type)
}

func TestNotificationPreviewKeepsRuneBoundaries(t *testing.T) {
	f := newMessageFixture(t)
	alice := addUser(t, f.users, "alice")
	bob := addUser(t, f.users, "bob")
	chatID := f.group(t, alice, bob)

	// Long multi-byte content; a byte-indexed cut would split a rune.
	content := strings.Repeat("ž", 200)
	_, err := f.svc.Send(context.Background(), alice.ID, chatID, SendMessageInput{Content: content})
	require.NoError(t, err)

	items, err := f.notifications.ListByUser(context.Background(), bob.ID, 50)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, utf8.ValidString(items[0].Body))
	assert.Equal(t, 120, utf8.RuneCountInString(items[0].Body))
}

func TestEditSenderOnly(t *testing.T) {
	f := newMessageFixture(t)
	alice := addUser(t, f.users, "alice")
	bob := addUser(t, f.users, "bob")
	chatID := f.group(t, alice, bob)

	msg, err := f.svc.Send(context.Background(), alice.ID, chatID, SendMessageInput{Content: "original"})
	require.NoError(t, err)

	_, err = f.svc.Edit(context.Background(), bob.ID, msg.ID, EditMessageInput{Content: "hijacked"})
	assert.ErrorIs(t, err, ErrNotMessageOwner)

	edited, err := f.svc.Edit(context.Background(), alice.ID, msg.ID, EditMessageInput{Content: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", *edited.Content)
	assert.True(t, edited.Edited)
	assert.Equal(t, msg.CreatedAt, edited.CreatedAt)
}

func TestDeleteOwnAlwaysOthersByCapability(t *testing.T) {
	f := newMessageFixture(t)
	alice := addUser(t, f.users, "alice")
	bob := addUser(t, f.users, "bob")
	carol := addUser(t, f.users, "carol")
	chatID := f.group(t, alice, bob, carol)

	own, err := f.svc.Send(context.Background(), bob.ID, chatID, SendMessageInput{Content: "mine"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(context.Background(), bob.ID, own.ID))

	// A plain member cannot delete someone else's message.
	theirs, err := f.svc.Send(context.Background(), carol.ID, chatID, SendMessageInput{Content: "hers"})
	require.NoError(t, err)
	err = f.svc.Delete(context.Background(), bob.ID, theirs.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// Granting the capability unlocks it.
	m, err := f.memberships.Get(context.Background(), chatID, bob.ID)
	require.NoError(t, err)
	m.CanDeleteMessages = true
	require.NoError(t, f.memberships.Update(context.Background(), m))
	require.NoError(t, f.svc.Delete(context.Background(), bob.ID, theirs.ID))

	// Admins bypass the flag.
	admins, err := f.svc.Send(context.Background(), carol.ID, chatID, SendMessageInput{Content: "again"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(context.Background(), alice.ID, admins.ID))
}

func TestDeleteMissingMessage(t *testing.T) {
	f := newMessageFixture(t)
	alice := addUser(t, f.users, "alice")
	f.group(t, alice)

	err := f.svc.Delete(context.Background(), alice.ID, uuid.New())
	assert.ErrorIs(t, err, ErrMessageNotFound)
}
