package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkresic/strand/internal/domain"
)

func newChatFixture(t *testing.T) (*ChatService, *fakeUserRepo, *fakeChatRepo, *fakeMembershipRepo, *recordingNotifier) {
	t.Helper()
	users := newFakeUserRepo()
	memberships := newFakeMembershipRepo()
	chats := newFakeChatRepo(memberships)
	notifications := newFakeNotificationRepo()

	svc := NewChatService(chats, memberships, users, notifications)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)
	return svc, users, chats, memberships, notifier
}

func addUser(t *testing.T, users *fakeUserRepo, username string) *domain.User {
	t.Helper()
	u := &domain.User{
		ID:        uuid.New(),
		Email:     username + "@example.com",
		Username:  username,
		FirstName: username,
		Privacy:   domain.DefaultPrivacySettings(),
		Notify:    domain.DefaultNotifySettings(),
	}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func TestFindOrCreatePersonalRejectsSelf(t *testing.T) {
	svc, users, _, _, _ := newChatFixture(t)
	alice := addUser(t, users, "alice")

	_, err := svc.FindOrCreatePersonal(context.Background(), alice.ID, alice.ID)
	assert.ErrorIs(t, err, ErrCannotChatSelf)
}

func TestFindOrCreatePersonalDeduplicates(t *testing.T) {
	svc, users, _, memberships, _ := newChatFixture(t)
	alice := addUser(t, users, "alice")
	bob := addUser(t, users, "bob")

	first, err := svc.FindOrCreatePersonal(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	// The reverse direction resolves to the same chat.
	second, err := svc.FindOrCreatePersonal(context.Background(), bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Exactly two memberships exist.
	ids, err := memberships.ListUserIDs(context.Background(), first)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{alice.ID, bob.ID}, ids)
}

func TestFindOrCreatePersonalConcurrent(t *testing.T) {
	svc, users, _, _, _ := newChatFixture(t)
	alice := addUser(t, users, "alice")
	bob := addUser(t, users, "bob")

	const attempts = 16
	results := make([]uuid.UUID, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			requester, other := alice.ID, bob.ID
			if i%2 == 1 {
				requester, other = other, requester
			}
			results[i], errs[i] = svc.FindOrCreatePersonal(context.Background(), requester, other)
		}(i)
	}
	wg.Wait()

	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestCreateRejectsPersonalKind(t *testing.T) {
	svc, users, _, _, _ := newChatFixture(t)
	alice := addUser(t, users, "alice")

	_, err := svc.Create(context.Background(), alice.ID, CreateChatInput{Name: "x", Kind: domain.ChatPersonal})
	assert.ErrorIs(t, err, ErrPersonalChat)
}

func TestCreateGroupMakesCreatorAdmin(t *testing.T) {
	svc, users, _, memberships, notifier := newChatFixture(t)
	alice := addUser(t, users, "alice")
	bob := addUser(t, users, "bob")

	summary, err := svc.Create(context.Background(), alice.ID, CreateChatInput{
		Name:      "team",
		Kind:      domain.ChatGroup,
		MemberIDs: []uuid.UUID{bob.ID},
	})
	require.NoError(t, err)

	creator, err := memberships.Get(context.Background(), summary.ID, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, creator)
	assert.Equal(t, domain.RoleAdmin, creator.Role)

	member, err := memberships.Get(context.Background(), summary.ID, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, member)
	assert.Equal(t, domain.RoleMember, member.Role)
	assert.True(t, member.CanSendMessages)
	assert.False(t, member.CanAddMembers)

	require.NotEmpty(t, notifier.chatDeltas)
	assert.Equal(t, domain.OpInsert, notifier.chatDeltas[len(notifier.chatDeltas)-1].op)
}

func TestDeleteChatCreatorOnly(t *testing.T) {
	svc, users, _, memberships, _ := newChatFixture(t)
	alice := addUser(t, users, "alice")
	bob := addUser(t, users, "bob")

	summary, err := svc.Create(context.Background(), alice.ID, CreateChatInput{Name: "team", Kind: domain.ChatGroup})
	require.NoError(t, err)

	// Bob becomes an admin, but not the creator.
	require.NoError(t, memberships.Add(context.Background(), &domain.Membership{
		ChatID: summary.ID, UserID: bob.ID, Role: domain.RoleAdmin,
	}))

	err = svc.Delete(context.Background(), bob.ID, summary.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, svc.Delete(context.Background(), alice.ID, summary.ID))

	_, err = svc.Get(context.Background(), alice.ID, summary.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestLeavePersonalChatDeletesIt(t *testing.T) {
	svc, users, chats, memberships, _ := newChatFixture(t)
	alice := addUser(t, users, "alice")
	bob := addUser(t, users, "bob")

	chatID, err := svc.FindOrCreatePersonal(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Leave(context.Background(), bob.ID, chatID))

	chat, err := chats.GetByID(context.Background(), chatID)
	require.NoError(t, err)
	assert.Nil(t, chat)

	ids, err := memberships.ListUserIDs(context.Background(), chatID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLeaveGroupPromotesWhenLastAdminGoes(t *testing.T) {
	svc, users, _, memberships, _ := newChatFixture(t)
	alice := addUser(t, users, "alice")
	bob := addUser(t, users, "bob")

	summary, err := svc.Create(context.Background(), alice.ID, CreateChatInput{
		Name: "team", Kind: domain.ChatGroup, MemberIDs: []uuid.UUID{bob.ID},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Leave(context.Background(), alice.ID, summary.ID))

	m, err := memberships.Get(context.Background(), summary.ID, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, domain.RoleAdmin, m.Role)
}

func TestUpdateMemberLastAdminGuard(t *testing.T) {
	svc, users, _, _, _ := newChatFixture(t)
	alice := addUser(t, users, "alice")
	bob := addUser(t, users, "bob")

	summary, err := svc.Create(context.Background(), alice.ID, CreateChatInput{
		Name: "team", Kind: domain.ChatGroup, MemberIDs: []uuid.UUID{bob.ID},
	})
	require.NoError(t, err)

	member := domain.RoleMember
	_, err = svc.UpdateMember(context.Background(), alice.ID, summary.ID, alice.ID, UpdateMemberInput{Role: &member})
	assert.ErrorIs(t, err, ErrLastAdmin)
}

func TestUpdateInfoRequiresAdmin(t *testing.T) {
	svc, users, _, _, _ := newChatFixture(t)
	alice := addUser(t, users, "alice")
	bob := addUser(t, users, "bob")

	summary, err := svc.Create(context.Background(), alice.ID, CreateChatInput{
		Name: "team", Kind: domain.ChatGroup, MemberIDs: []uuid.UUID{bob.ID},
	})
	require.NoError(t, err)

	name := "renamed"
	_, err = svc.UpdateInfo(context.Background(), bob.ID, summary.ID, UpdateChatInput{Name: &name})
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := svc.UpdateInfo(context.Background(), alice.ID, summary.ID, UpdateChatInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
}

func TestToggleFlagsArePerMemberReachable(t *testing.T) {
	svc, users, chats, _, notifier := newChatFixture(t)
	alice := addUser(t, users, "alice")
	bob := addUser(t, users, "bob")

	summary, err := svc.Create(context.Background(), alice.ID, CreateChatInput{
		Name: "team", Kind: domain.ChatGroup, MemberIDs: []uuid.UUID{bob.ID},
	})
	require.NoError(t, err)

	// Any member may pin, archive, and mute.
	require.NoError(t, svc.SetPinned(context.Background(), bob.ID, summary.ID, true))
	require.NoError(t, svc.SetMuted(context.Background(), bob.ID, summary.ID, true))

	chat, err := chats.GetByID(context.Background(), summary.ID)
	require.NoError(t, err)
	assert.True(t, chat.Pinned)
	assert.True(t, chat.Muted)

	// Non-members may not.
	mallory := addUser(t, users, "mallory")
	err = svc.SetArchived(context.Background(), mallory.ID, summary.ID, true)
	assert.ErrorIs(t, err, ErrNotMember)

	// Toggles broadcast update deltas.
	last := notifier.chatDeltas[len(notifier.chatDeltas)-1]
	assert.Equal(t, domain.OpUpdate, last.op)
}
