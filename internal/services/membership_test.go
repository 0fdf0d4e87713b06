package services

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gatherhq/gather/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestJoin_CreatesPending(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 5)
	user := seedUser(t, db, "alice")

	m, err := svc.RequestJoin(user.ID, group.ID, "hi there")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, m.Status)
	assert.Equal(t, models.RoleMember, m.Role)
	assert.Equal(t, "hi there", m.Message)

	g := reloadGroup(t, db, group.ID)
	assert.Equal(t, 1, g.PendingCount)
	assert.Equal(t, 1, g.ActiveCount)
}

func TestRequestJoin_GroupNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)
	user := seedUser(t, db, "alice")

	_, err := svc.RequestJoin(user.ID, 999, "")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestRequestJoin_InactiveGroup(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 5)
	require.NoError(t, db.Model(group).Update("is_active", false).Error)

	user := seedUser(t, db, "alice")
	_, err := svc.RequestJoin(user.ID, group.ID, "")
	assert.ErrorIs(t, err, ErrGroupNotAccepting)
}

func TestRequestJoin_MessageTooLong(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 5)
	user := seedUser(t, db, "alice")

	_, err := svc.RequestJoin(user.ID, group.ID, strings.Repeat("x", 501))
	require.Error(t, err)

	// Exactly at the limit is fine.
	_, err = svc.RequestJoin(user.ID, group.ID, strings.Repeat("x", 500))
	assert.NoError(t, err)
}

func TestRequestJoin_OneLiveMembershipAcrossGroups(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leaderA := seedUser(t, db, "leader-a")
	leaderB := seedUser(t, db, "leader-b")
	groupA := seedGroup(t, db, leaderA.ID, 5)
	groupB := seedGroup(t, db, leaderB.ID, 5)
	user := seedUser(t, db, "alice")

	_, err := svc.RequestJoin(user.ID, groupA.ID, "")
	require.NoError(t, err)

	// A pending membership elsewhere blocks a second request.
	_, err = svc.RequestJoin(user.ID, groupB.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyMember)

	// So does an active one: a group leader cannot request a join.
	_, err = svc.RequestJoin(leaderA.ID, groupB.ID, "")
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func TestApprove_ActivatesAndCounts(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 5)
	user := seedUser(t, db, "alice")

	m, err := svc.RequestJoin(user.ID, group.ID, "")
	require.NoError(t, err)

	before := m.JoinedAt
	time.Sleep(5 * time.Millisecond)

	approved, err := svc.Approve(leader.ID, group.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, approved.Status)
	assert.True(t, approved.JoinedAt.After(before), "JoinedAt should be reset to approval time")

	g := reloadGroup(t, db, group.ID)
	assert.Equal(t, 2, g.ActiveCount)
	assert.Equal(t, 0, g.PendingCount)
}

func TestApprove_RequiresModerator(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 5)
	user := seedUser(t, db, "alice")
	outsider := seedUser(t, db, "outsider")

	m, err := svc.RequestJoin(user.ID, group.ID, "")
	require.NoError(t, err)

	_, err = svc.Approve(outsider.ID, group.ID, m.ID)
	assert.ErrorIs(t, err, ErrNotGroupModerator)

	// A pending requester has no authority either, including over
	// their own request.
	_, err = svc.Approve(user.ID, group.ID, m.ID)
	assert.ErrorIs(t, err, ErrNotGroupModerator)
}

func TestApprove_CrossGroupMembershipIsNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leaderA := seedUser(t, db, "leader-a")
	leaderB := seedUser(t, db, "leader-b")
	groupA := seedGroup(t, db, leaderA.ID, 5)
	groupB := seedGroup(t, db, leaderB.ID, 5)
	user := seedUser(t, db, "alice")

	m, err := svc.RequestJoin(user.ID, groupA.ID, "")
	require.NoError(t, err)

	// groupB's leader cannot act on groupA's membership through groupB.
	_, err = svc.Approve(leaderB.ID, groupB.ID, m.ID)
	assert.ErrorIs(t, err, ErrMembershipNotFound)
}

// Approval, not the join request, is the hard capacity gate: a group
// with one free slot accepts several pending requests, and the surplus
// fails at approval time.
func TestApprove_LastSlotRace(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 2) // leader occupies 1 of 2

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	mAlice, err := svc.RequestJoin(alice.ID, group.ID, "")
	require.NoError(t, err)
	mBob, err := svc.RequestJoin(bob.ID, group.ID, "")
	require.NoError(t, err)

	_, err = svc.Approve(leader.ID, group.ID, mAlice.ID)
	require.NoError(t, err)

	_, err = svc.Approve(leader.ID, group.ID, mBob.ID)
	assert.ErrorIs(t, err, ErrGroupFull)

	g := reloadGroup(t, db, group.ID)
	assert.Equal(t, 2, g.ActiveCount)
	assert.LessOrEqual(t, g.ActiveCount, g.MemberLimit)

	// Bob's request is still pending; it can be approved once a slot
	// frees up.
	var m models.Membership
	require.NoError(t, db.First(&m, mBob.ID).Error)
	assert.Equal(t, models.StatusPending, m.Status)

	require.NoError(t, svc.Leave(alice.ID, group.ID))
	_, err = svc.Approve(leader.ID, group.ID, mBob.ID)
	assert.NoError(t, err)
}

func TestReject_RetainsRowAndFreesSlot(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 5)
	user := seedUser(t, db, "alice")

	m, err := svc.RequestJoin(user.ID, group.ID, "")
	require.NoError(t, err)

	require.NoError(t, svc.Reject(leader.ID, group.ID, m.ID))

	var rejected models.Membership
	require.NoError(t, db.First(&rejected, m.ID).Error)
	assert.Equal(t, models.StatusRemoved, rejected.Status)

	g := reloadGroup(t, db, group.ID)
	assert.Equal(t, 0, g.PendingCount)

	// Rejecting again is a not-found, with no second counter release.
	err = svc.Reject(leader.ID, group.ID, m.ID)
	assert.ErrorIs(t, err, ErrMembershipNotFound)
	assert.Equal(t, 0, reloadGroup(t, db, group.ID).PendingCount)
}

func TestRejectedUserCanRequestAgain(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 5)
	user := seedUser(t, db, "alice")

	first, err := svc.RequestJoin(user.ID, group.ID, "first try")
	require.NoError(t, err)
	require.NoError(t, svc.Reject(leader.ID, group.ID, first.ID))

	second, err := svc.RequestJoin(user.ID, group.ID, "second try")
	require.NoError(t, err)

	// The unique (group, user) row is recycled, not duplicated.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.StatusPending, second.Status)
	assert.Equal(t, "second try", second.Message)

	var count int64
	require.NoError(t, db.Model(&models.Membership{}).
		Where("group_id = ? AND user_id = ?", group.ID, user.ID).
		Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestLeave(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 5)
	user := seedUser(t, db, "alice")

	m, err := svc.RequestJoin(user.ID, group.ID, "")
	require.NoError(t, err)
	_, err = svc.Approve(leader.ID, group.ID, m.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Leave(user.ID, group.ID))

	var left models.Membership
	require.NoError(t, db.First(&left, m.ID).Error)
	assert.Equal(t, models.StatusInactive, left.Status)
	require.NotNil(t, left.LeftAt)

	g := reloadGroup(t, db, group.ID)
	assert.Equal(t, 1, g.ActiveCount)

	// Leaving twice: the membership is no longer active.
	err = svc.Leave(user.ID, group.ID)
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestLeave_LeaderCannot(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 5)

	err := svc.Leave(leader.ID, group.ID)
	assert.ErrorIs(t, err, ErrLeaderCannotLeave)
}

func TestLeave_PendingIsNotActive(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 5)
	user := seedUser(t, db, "alice")

	_, err := svc.RequestJoin(user.ID, group.ID, "")
	require.NoError(t, err)

	err = svc.Leave(user.ID, group.ID)
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestLeaveAndRejoin_RecyclesRow(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 5)
	user := seedUser(t, db, "alice")

	m, err := svc.RequestJoin(user.ID, group.ID, "")
	require.NoError(t, err)
	_, err = svc.Approve(leader.ID, group.ID, m.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Leave(user.ID, group.ID))

	again, err := svc.RequestJoin(user.ID, group.ID, "back again")
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
	assert.Equal(t, models.StatusPending, again.Status)
	assert.Equal(t, models.RoleMember, again.Role)
	assert.Nil(t, again.LeftAt)
}

func TestListPending_FIFOAndAccess(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 10)

	names := []string{"first", "second", "third"}
	for _, name := range names {
		u := seedUser(t, db, name)
		_, err := svc.RequestJoin(u.ID, group.ID, "")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	pending, err := svc.ListPending(leader.ID, group.ID)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, name := range names {
		assert.Equal(t, name, pending[i].User.Username, "position %d", i)
	}

	outsider := seedUser(t, db, "outsider")
	_, err = svc.ListPending(outsider.ID, group.ID)
	assert.ErrorIs(t, err, ErrNotGroupModerator)
}

func TestPromoteDemoteCoLeader(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 10)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	mAlice, err := svc.RequestJoin(alice.ID, group.ID, "")
	require.NoError(t, err)
	_, err = svc.Approve(leader.ID, group.ID, mAlice.ID)
	require.NoError(t, err)

	promoted, err := svc.PromoteCoLeader(leader.ID, group.ID, mAlice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCoLeader, promoted.Role)

	// Co-leaders can moderate joins.
	mBob, err := svc.RequestJoin(bob.ID, group.ID, "")
	require.NoError(t, err)
	_, err = svc.Approve(alice.ID, group.ID, mBob.ID)
	require.NoError(t, err)

	// But only the leader changes roles.
	_, err = svc.PromoteCoLeader(alice.ID, group.ID, mBob.ID)
	assert.ErrorIs(t, err, ErrNotGroupLeader)

	demoted, err := svc.DemoteCoLeader(leader.ID, group.ID, mAlice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, demoted.Role)

	// Demoting a plain member is a not-found.
	_, err = svc.DemoteCoLeader(leader.ID, group.ID, mBob.ID)
	assert.ErrorIs(t, err, ErrMembershipNotFound)
}

func TestStatusFor(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 5)
	other := seedGroup(t, db, seedUser(t, db, "leader2").ID, 5)
	user := seedUser(t, db, "alice")

	_, err := svc.RequestJoin(user.ID, group.ID, "")
	require.NoError(t, err)

	statuses, err := svc.StatusFor(user.ID, []uint{group.ID, other.ID})
	require.NoError(t, err)
	require.Contains(t, statuses, group.ID)
	assert.Equal(t, models.StatusPending, statuses[group.ID].Status)
	assert.NotContains(t, statuses, other.ID)

	empty, err := svc.StatusFor(user.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// A burst of concurrent join requests must never push the pending
// backlog past the member limit, and concurrent requests by one user
// against different groups must yield exactly one live membership.
func TestRequestJoin_ConcurrentBurst(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 3)

	const joiners = 8
	users := make([]*models.User, joiners)
	for i := range users {
		users[i] = seedUser(t, db, "joiner"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	errs := make([]error, joiners)
	for i, u := range users {
		wg.Add(1)
		go func(i int, userID uint) {
			defer wg.Done()
			_, errs[i] = svc.RequestJoin(userID, group.ID, "")
		}(i, u.ID)
	}
	wg.Wait()

	var accepted, full int
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrGroupFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 3, accepted)
	assert.Equal(t, joiners-3, full)

	g := reloadGroup(t, db, group.ID)
	assert.Equal(t, 3, g.PendingCount)
	assert.LessOrEqual(t, g.PendingCount, g.MemberLimit)
}

// Two approvals racing for the last slot: exactly one may land, even
// when both run in parallel. active_count never exceeds the limit.
func TestApprove_ConcurrentLastSlot(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	leader := seedUser(t, db, "leader")
	group := seedGroup(t, db, leader.ID, 2)

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	am, err := svc.RequestJoin(alice.ID, group.ID, "")
	require.NoError(t, err)
	bm, err := svc.RequestJoin(bob.ID, group.ID, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uint{am.ID, bm.ID} {
		wg.Add(1)
		go func(i int, membershipID uint) {
			defer wg.Done()
			_, errs[i] = svc.Approve(leader.ID, group.ID, membershipID)
		}(i, id)
	}
	wg.Wait()

	var approved, full int
	for _, err := range errs {
		switch {
		case err == nil:
			approved++
		case errors.Is(err, ErrGroupFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, approved)
	assert.Equal(t, 1, full)

	g := reloadGroup(t, db, group.ID)
	assert.Equal(t, 2, g.ActiveCount)

	var active int64
	require.NoError(t, db.Model(&models.Membership{}).
		Where("group_id = ? AND status = ?", group.ID, models.StatusActive).
		Count(&active).Error)
	assert.EqualValues(t, 2, active)
}

func TestRequestJoin_ConcurrentSameUserTwoGroups(t *testing.T) {
	db := newTestDB(t)
	svc := NewMembershipService(db)

	groupA := seedGroup(t, db, seedUser(t, db, "leader-a").ID, 5)
	groupB := seedGroup(t, db, seedUser(t, db, "leader-b").ID, 5)
	user := seedUser(t, db, "alice")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, gid := range []uint{groupA.ID, groupB.ID} {
		wg.Add(1)
		go func(i int, gid uint) {
			defer wg.Done()
			_, errs[i] = svc.RequestJoin(user.ID, gid, "")
		}(i, gid)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyMember):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflict)

	var live int64
	require.NoError(t, db.Model(&models.Membership{}).
		Where("user_id = ? AND status IN ?", user.ID,
			[]string{models.StatusPending, models.StatusActive}).
		Count(&live).Error)
	assert.EqualValues(t, 1, live)
}
