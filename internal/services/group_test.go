package services

import (
	"testing"

	"github.com/gatherhq/gather/backend/internal/config"
	"github.com/gatherhq/gather/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newGroupService(db *gorm.DB) (*GroupService, *MembershipService, *ProximityIndex) {
	memberships := NewMembershipService(db)
	index := NewProximityIndex(&config.DiscoveryConfig{DefaultRadiusKm: 5, MaxRadiusKm: 10})
	return NewGroupService(db, memberships, index), memberships, index
}

func TestGroupCreate(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newGroupService(db)
	leader := seedUser(t, db, "leader")

	group, err := svc.Create(leader.ID, &CreateGroupRequest{
		Name:        "  Morning Runners  ",
		Description: "early birds",
		MemberLimit: 10,
		Address:     "Hauptstraße 5, Berlin",
	})
	require.NoError(t, err)
	assert.Equal(t, "Morning Runners", group.Name)
	assert.Equal(t, leader.ID, group.LeaderID)
	assert.True(t, group.IsActive)
	assert.True(t, group.IsOpen)
	assert.Equal(t, 1, group.ActiveCount)

	// The leader's active membership exists from the start.
	var m models.Membership
	require.NoError(t, db.Where("group_id = ? AND user_id = ?", group.ID, leader.ID).First(&m).Error)
	assert.Equal(t, models.RoleLeader, m.Role)
	assert.Equal(t, models.StatusActive, m.Status)
}

func TestGroupCreate_Validation(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newGroupService(db)
	leader := seedUser(t, db, "leader")

	_, err := svc.Create(leader.ID, &CreateGroupRequest{Name: "x", MemberLimit: 1})
	assert.Error(t, err, "member_limit below minimum")

	_, err = svc.Create(leader.ID, &CreateGroupRequest{Name: "x", MemberLimit: 101})
	assert.Error(t, err, "member_limit above maximum")

	_, err = svc.Create(leader.ID, &CreateGroupRequest{Name: "   ", MemberLimit: 10})
	assert.Error(t, err, "blank name")
}

func TestGroupCreate_LeaderMustBeFree(t *testing.T) {
	db := newTestDB(t)
	svc, memberships, _ := newGroupService(db)

	leader := seedUser(t, db, "leader")
	_, err := svc.Create(leader.ID, &CreateGroupRequest{Name: "first", MemberLimit: 5})
	require.NoError(t, err)

	// Leading one group is a live membership; no second group.
	_, err = svc.Create(leader.ID, &CreateGroupRequest{Name: "second", MemberLimit: 5})
	assert.ErrorIs(t, err, ErrAlreadyMember)

	// A pending request elsewhere blocks creation too.
	other := seedGroup(t, db, seedUser(t, db, "other-leader").ID, 5)
	alice := seedUser(t, db, "alice")
	_, err = memberships.RequestJoin(alice.ID, other.ID, "")
	require.NoError(t, err)
	_, err = svc.Create(alice.ID, &CreateGroupRequest{Name: "alices", MemberLimit: 5})
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func TestGroupUpdate(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newGroupService(db)

	leader := seedUser(t, db, "leader")
	group, err := svc.Create(leader.ID, &CreateGroupRequest{Name: "runners", MemberLimit: 10})
	require.NoError(t, err)

	name := "trail runners"
	limit := 20
	closed := false
	updated, err := svc.Update(leader.ID, group.ID, &UpdateGroupRequest{
		Name:        &name,
		MemberLimit: &limit,
		IsOpen:      &closed,
	})
	require.NoError(t, err)
	assert.Equal(t, "trail runners", updated.Name)
	assert.Equal(t, 20, updated.MemberLimit)
	assert.False(t, updated.IsOpen)
}

func TestGroupUpdate_Permissions(t *testing.T) {
	db := newTestDB(t)
	svc, memberships, _ := newGroupService(db)

	leader := seedUser(t, db, "leader")
	group, err := svc.Create(leader.ID, &CreateGroupRequest{Name: "runners", MemberLimit: 10})
	require.NoError(t, err)

	outsider := seedUser(t, db, "outsider")
	name := "hijacked"
	_, err = svc.Update(outsider.ID, group.ID, &UpdateGroupRequest{Name: &name})
	assert.ErrorIs(t, err, ErrNotGroupModerator)

	// A plain active member cannot update either.
	alice := seedUser(t, db, "alice")
	m, err := memberships.RequestJoin(alice.ID, group.ID, "")
	require.NoError(t, err)
	_, err = memberships.Approve(leader.ID, group.ID, m.ID)
	require.NoError(t, err)
	_, err = svc.Update(alice.ID, group.ID, &UpdateGroupRequest{Name: &name})
	assert.ErrorIs(t, err, ErrNotGroupModerator)

	// A co-leader can.
	_, err = memberships.PromoteCoLeader(leader.ID, group.ID, m.ID)
	require.NoError(t, err)
	updated, err := svc.Update(alice.ID, group.ID, &UpdateGroupRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "hijacked", updated.Name)
}

func TestGroupUpdate_LimitCannotDropBelowActive(t *testing.T) {
	db := newTestDB(t)
	svc, memberships, _ := newGroupService(db)

	leader := seedUser(t, db, "leader")
	group, err := svc.Create(leader.ID, &CreateGroupRequest{Name: "runners", MemberLimit: 5})
	require.NoError(t, err)

	for _, name := range []string{"alice", "bob"} {
		u := seedUser(t, db, name)
		m, err := memberships.RequestJoin(u.ID, group.ID, "")
		require.NoError(t, err)
		_, err = memberships.Approve(leader.ID, group.ID, m.ID)
		require.NoError(t, err)
	}

	// 3 active members; shrinking to 2 must fail.
	limit := 2
	_, err = svc.Update(leader.ID, group.ID, &UpdateGroupRequest{MemberLimit: &limit})
	require.Error(t, err)

	limit = 3
	_, err = svc.Update(leader.ID, group.ID, &UpdateGroupRequest{MemberLimit: &limit})
	assert.NoError(t, err)
}

func TestGroupDeactivate(t *testing.T) {
	db := newTestDB(t)
	svc, memberships, index := newGroupService(db)

	leader := seedUser(t, db, "leader")
	group, err := svc.Create(leader.ID, &CreateGroupRequest{Name: "runners", MemberLimit: 5})
	require.NoError(t, err)

	lat, lng := 52.52, 13.405
	index.Upsert(group.ID, lat, lng, group.CreatedAt)

	// Only the leader may deactivate.
	outsider := seedUser(t, db, "outsider")
	assert.ErrorIs(t, svc.Deactivate(outsider.ID, group.ID), ErrNotGroupLeader)

	require.NoError(t, svc.Deactivate(leader.ID, group.ID))
	assert.False(t, reloadGroup(t, db, group.ID).IsActive)
	assert.Equal(t, 0, index.Len())

	// No new joins after deactivation.
	alice := seedUser(t, db, "alice")
	_, err = memberships.RequestJoin(alice.ID, group.ID, "")
	assert.ErrorIs(t, err, ErrGroupNotAccepting)

	// The leader's membership ended with the group; the row is retained.
	var m models.Membership
	require.NoError(t, db.Where("group_id = ? AND user_id = ?", group.ID, leader.ID).First(&m).Error)
	assert.Equal(t, models.StatusInactive, m.Status)
	assert.NotNil(t, m.LeftAt)
}

// Deactivation is the group's end of life: everyone with a live
// membership in it gets their slot back and can move on.
func TestGroupDeactivate_ReleasesMembers(t *testing.T) {
	db := newTestDB(t)
	svc, memberships, _ := newGroupService(db)

	leader := seedUser(t, db, "leader")
	group, err := svc.Create(leader.ID, &CreateGroupRequest{Name: "runners", MemberLimit: 5})
	require.NoError(t, err)

	bob := seedUser(t, db, "bob")
	bm, err := memberships.RequestJoin(bob.ID, group.ID, "")
	require.NoError(t, err)
	_, err = memberships.Approve(leader.ID, group.ID, bm.ID)
	require.NoError(t, err)

	carol := seedUser(t, db, "carol")
	_, err = memberships.RequestJoin(carol.ID, group.ID, "")
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(leader.ID, group.ID))

	reloaded := reloadGroup(t, db, group.ID)
	assert.Equal(t, 0, reloaded.ActiveCount)
	assert.Equal(t, 0, reloaded.PendingCount)

	// The leader is free to start over.
	_, err = svc.Create(leader.ID, &CreateGroupRequest{Name: "runners v2", MemberLimit: 5})
	require.NoError(t, err)

	// So are the active member and the pending requester.
	other := seedGroup(t, db, seedUser(t, db, "other-leader").ID, 5)
	_, err = memberships.RequestJoin(bob.ID, other.ID, "")
	assert.NoError(t, err)
	_, err = memberships.RequestJoin(carol.ID, other.ID, "")
	assert.NoError(t, err)

	// Nothing left to leave in the dead group.
	assert.ErrorIs(t, memberships.Leave(bob.ID, group.ID), ErrNotAMember)
}

func TestGroupGet(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newGroupService(db)

	leader := seedUser(t, db, "leader")
	group, err := svc.Create(leader.ID, &CreateGroupRequest{Name: "runners", MemberLimit: 5})
	require.NoError(t, err)

	got, err := svc.Get(group.ID)
	require.NoError(t, err)
	assert.Equal(t, group.ID, got.ID)
	assert.Equal(t, "leader", got.Leader.Username)

	_, err = svc.Get(9999)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}
