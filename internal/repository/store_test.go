package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-demo/liveroom/internal/model"
)

var fixtures = map[string]func(t *testing.T) *storeFixture{
	"memory":   memoryFixture,
	"postgres": postgresFixture,
}

func forEachStore(t *testing.T, fn func(t *testing.T, f *storeFixture)) {
	for name, newFixture := range fixtures {
		newFixture := newFixture
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t))
		})
	}
}

func TestRoomStore_CreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		room, host := createTestRoom(t, f, "create")

		if room.ID == "" {
			t.Error("Expected room ID to be set")
		}
		if room.CreatedAt.IsZero() {
			t.Error("Expected created_at to be set")
		}
		if host.RoomID != room.ID {
			t.Errorf("Expected host room ID %s, got %s", room.ID, host.RoomID)
		}

		found, err := f.rooms.GetRoom(context.Background(), room.ID)
		if err != nil {
			t.Fatalf("Failed to get room: %v", err)
		}
		if found.ChannelName != room.ChannelName {
			t.Errorf("Expected channel %s, got %s", room.ChannelName, found.ChannelName)
		}
		if !found.Settings.CanInviteGuest || !found.Settings.AudienceCanComment {
			t.Errorf("Expected default settings, got %+v", found.Settings)
		}

		member, err := f.rooms.GetMember(context.Background(), room.ID, host.UserID)
		if err != nil {
			t.Fatalf("Failed to get host membership: %v", err)
		}
		if !member.IsHost() || !member.IsJoined() {
			t.Errorf("Expected joined host, got role=%s status=%s", member.Role, member.Status)
		}
	})
}

func TestRoomStore_CreateDuplicateChannel(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		room, _ := createTestRoom(t, f, "dup")

		again := &model.Room{
			ChannelName: room.ChannelName,
			Name:        "again",
			HostID:      f.prefix + "_other",
			Status:      model.RoomStatusActive,
			Settings:    model.DefaultRoomSettings(),
		}
		host := &model.RoomMember{UserID: again.HostID, Role: model.MemberRoleHost, Status: model.MemberStatusJoined}

		err := f.rooms.CreateRoom(context.Background(), again, host)
		if !errors.Is(err, ErrRoomAlreadyExists) {
			t.Errorf("Expected ErrRoomAlreadyExists, got %v", err)
		}
	})
}

func TestRoomStore_GetRoomNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		for _, id := range []string{nonExistentUUID, "not-a-uuid"} {
			_, err := f.rooms.GetRoom(context.Background(), id)
			if !errors.Is(err, ErrRoomNotFound) {
				t.Errorf("Expected ErrRoomNotFound for %q, got %v", id, err)
			}
		}
	})
}

func TestRoomStore_InRoomTxCommit(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		room, _ := createTestRoom(t, f, "commit")
		ctx := context.Background()

		viewer := addTestMember(t, f, room.ID, f.prefix+"_viewer", model.MemberRoleAudience)
		if viewer.ID == "" {
			t.Error("Expected member ID to be set")
		}

		count, err := f.rooms.CountJoined(ctx, room.ID)
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if count != 2 {
			t.Errorf("Expected 2 joined members, got %d", count)
		}

		err = f.rooms.InRoomTx(ctx, room.ID, func(tx RoomTx) error {
			m, err := tx.GetMember(ctx, viewer.UserID)
			if err != nil {
				return err
			}
			m.Role = model.MemberRoleGuest
			m.IsMuted = true
			if err := tx.UpdateMember(ctx, m); err != nil {
				return err
			}
			guests, err := tx.CountMembers(ctx, model.MemberRoleGuest, model.MemberStatusJoined)
			if err != nil {
				return err
			}
			if guests != 1 {
				return fmt.Errorf("expected 1 guest inside tx, got %d", guests)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Transaction failed: %v", err)
		}

		updated, _ := f.rooms.GetMember(ctx, room.ID, viewer.UserID)
		if !updated.IsGuest() || !updated.IsMuted {
			t.Errorf("Expected muted guest, got role=%s muted=%v", updated.Role, updated.IsMuted)
		}
	})
}

func TestRoomStore_InRoomTxRollback(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		room, _ := createTestRoom(t, f, "rollback")
		ctx := context.Background()
		boom := errors.New("boom")

		err := f.rooms.InRoomTx(ctx, room.ID, func(tx RoomTx) error {
			if err := tx.InsertMember(ctx, &model.RoomMember{
				UserID: f.prefix + "_ghost",
				Role:   model.MemberRoleAudience,
				Status: model.MemberStatusJoined,
			}); err != nil {
				return err
			}
			r := tx.Room()
			r.Status = model.RoomStatusEnded
			if err := tx.UpdateRoom(ctx, r); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Expected boom, got %v", err)
		}

		if _, err := f.rooms.GetMember(ctx, room.ID, f.prefix+"_ghost"); !errors.Is(err, ErrMemberNotFound) {
			t.Errorf("Expected rolled back member to be missing, got %v", err)
		}
		found, _ := f.rooms.GetRoom(ctx, room.ID)
		if !found.IsActive() {
			t.Errorf("Expected room to stay ACTIVE, got %s", found.Status)
		}
	})
}

func TestRoomStore_InRoomTxRoomNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		called := false
		err := f.rooms.InRoomTx(context.Background(), nonExistentUUID, func(tx RoomTx) error {
			called = true
			return nil
		})
		if !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected ErrRoomNotFound, got %v", err)
		}
		if called {
			t.Error("Expected callback not to run")
		}
	})
}

func TestRoomStore_InsertMemberDuplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		room, host := createTestRoom(t, f, "dupmember")

		err := f.rooms.InRoomTx(context.Background(), room.ID, func(tx RoomTx) error {
			return tx.InsertMember(context.Background(), &model.RoomMember{
				UserID: host.UserID,
				Role:   model.MemberRoleAudience,
				Status: model.MemberStatusJoined,
			})
		})
		if !errors.Is(err, ErrMemberExists) {
			t.Errorf("Expected ErrMemberExists, got %v", err)
		}
	})
}

func TestRoomStore_LeaveAll(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		room, host := createTestRoom(t, f, "leaveall")
		ctx := context.Background()
		addTestMember(t, f, room.ID, f.prefix+"_a", model.MemberRoleAudience)
		addTestMember(t, f, room.ID, f.prefix+"_b", model.MemberRoleGuest)

		var released int
		err := f.rooms.InRoomTx(ctx, room.ID, func(tx RoomTx) error {
			r := tx.Room()
			r.Status = model.RoomStatusEnded
			if err := tx.UpdateRoom(ctx, r); err != nil {
				return err
			}
			n, err := tx.LeaveAll(ctx, time.Now().UTC())
			released = n
			return err
		})
		if err != nil {
			t.Fatalf("Transaction failed: %v", err)
		}
		if released != 3 {
			t.Errorf("Expected 3 released members, got %d", released)
		}

		members, _ := f.rooms.ListJoinedMembers(ctx, room.ID)
		if len(members) != 0 {
			t.Errorf("Expected no joined members, got %d", len(members))
		}
		m, _ := f.rooms.GetMember(ctx, room.ID, host.UserID)
		if m.Status != model.MemberStatusLeft || !m.LeftAt.Valid {
			t.Errorf("Expected host LEFT with left_at, got %s", m.Status)
		}
	})
}

func TestRoomStore_ListActive(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		ctx := context.Background()
		live, _ := createTestRoom(t, f, "live")
		ended, _ := createTestRoom(t, f, "ended")
		addTestMember(t, f, live.ID, f.prefix+"_viewer", model.MemberRoleAudience)

		_ = f.rooms.InRoomTx(ctx, ended.ID, func(tx RoomTx) error {
			r := tx.Room()
			r.Status = model.RoomStatusEnded
			return tx.UpdateRoom(ctx, r)
		})

		rooms, err := f.rooms.ListActive(ctx, 1000, 0)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}

		var sawLive bool
		for _, r := range rooms {
			if r.ID == ended.ID {
				t.Error("Expected ended room to be excluded")
			}
			if r.ID == live.ID {
				sawLive = true
				if r.ViewerCount != 2 {
					t.Errorf("Expected viewer count 2, got %d", r.ViewerCount)
				}
			}
		}
		if !sawLive {
			t.Error("Expected live room to be listed")
		}

		ids, err := f.rooms.ListActiveIDs(ctx)
		if err != nil {
			t.Fatalf("Failed to list ids: %v", err)
		}
		var idSeen bool
		for _, id := range ids {
			if id == ended.ID {
				t.Error("Expected ended room id to be excluded")
			}
			if id == live.ID {
				idSeen = true
			}
		}
		if !idSeen {
			t.Error("Expected live room id to be listed")
		}
	})
}

func TestRoomStore_ListJoinedMembersOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		room, host := createTestRoom(t, f, "order")
		addTestMember(t, f, room.ID, f.prefix+"_aud", model.MemberRoleAudience)
		addTestMember(t, f, room.ID, f.prefix+"_guest", model.MemberRoleGuest)

		members, err := f.rooms.ListJoinedMembers(context.Background(), room.ID)
		if err != nil {
			t.Fatalf("Failed to list members: %v", err)
		}
		if len(members) != 3 {
			t.Fatalf("Expected 3 members, got %d", len(members))
		}
		if members[0].UserID != host.UserID {
			t.Errorf("Expected host first, got %s", members[0].UserID)
		}
		if members[1].Role != model.MemberRoleGuest {
			t.Errorf("Expected guest second, got %s", members[1].Role)
		}
	})
}

func TestRoomStore_DeleteRoom(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		room, host := createTestRoom(t, f, "delete")
		ctx := context.Background()

		if err := f.rooms.DeleteRoom(ctx, room.ID); err != nil {
			t.Fatalf("Failed to delete room: %v", err)
		}
		if _, err := f.rooms.GetRoom(ctx, room.ID); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected ErrRoomNotFound, got %v", err)
		}
		if _, err := f.rooms.GetMember(ctx, room.ID, host.UserID); !errors.Is(err, ErrMemberNotFound) {
			t.Errorf("Expected memberships to be removed, got %v", err)
		}
		if err := f.rooms.DeleteRoom(ctx, room.ID); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected ErrRoomNotFound on second delete, got %v", err)
		}
	})
}

func TestRoomStore_ConcurrentTxSerialized(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		room, _ := createTestRoom(t, f, "race")
		ctx := context.Background()

		const workers = 10
		var wg sync.WaitGroup
		var mu sync.Mutex
		admitted := 0

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := f.rooms.InRoomTx(ctx, room.ID, func(tx RoomTx) error {
					guests, err := tx.CountMembers(ctx, model.MemberRoleGuest, model.MemberStatusJoined)
					if err != nil {
						return err
					}
					if guests >= model.MaxGuests {
						return errors.New("full")
					}
					return tx.InsertMember(ctx, &model.RoomMember{
						UserID: fmt.Sprintf("%s_g%d", f.prefix, i),
						Role:   model.MemberRoleGuest,
						Status: model.MemberStatusJoined,
					})
				})
				if err == nil {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		if admitted != model.MaxGuests {
			t.Errorf("Expected %d admitted guests, got %d", model.MaxGuests, admitted)
		}
	})
}

func TestMessageStore_Lifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		room, host := createTestRoom(t, f, "chat")
		ctx := context.Background()

		first := &model.Message{RoomID: room.ID, SenderID: host.UserID, Text: "hello"}
		second := &model.Message{RoomID: room.ID, SenderID: host.UserID, Text: "world"}
		if err := f.messages.Create(ctx, first); err != nil {
			t.Fatalf("Failed to create message: %v", err)
		}
		if err := f.messages.Create(ctx, second); err != nil {
			t.Fatalf("Failed to create message: %v", err)
		}
		if first.ID == "" || second.Seq <= first.Seq {
			t.Errorf("Expected ids and increasing seq, got %d then %d", first.Seq, second.Seq)
		}

		edited, err := f.messages.Edit(ctx, first.ID, "hello there")
		if err != nil {
			t.Fatalf("Failed to edit: %v", err)
		}
		if edited.Text != "hello there" || !edited.IsEdited {
			t.Errorf("Expected edited text, got %q edited=%v", edited.Text, edited.IsEdited)
		}

		deleted, err := f.messages.SoftDelete(ctx, second.ID)
		if err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		if !deleted.IsDeleted {
			t.Error("Expected message to be flagged deleted")
		}
		if _, err := f.messages.Edit(ctx, second.ID, "nope"); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("Expected editing a deleted message to fail, got %v", err)
		}

		history, err := f.messages.ListByRoomID(ctx, room.ID)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("Expected 2 messages, got %d", len(history))
		}
		if history[0].ID != first.ID || history[1].ID != second.ID {
			t.Error("Expected history in creation order")
		}
		if !history[1].IsDeleted {
			t.Error("Expected deleted message to stay in history")
		}
	})
}

func TestMessageStore_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *storeFixture) {
		ctx := context.Background()
		if _, err := f.messages.GetByID(ctx, nonExistentUUID); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("Expected ErrMessageNotFound, got %v", err)
		}
		if _, err := f.messages.Edit(ctx, nonExistentUUID, "x"); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("Expected ErrMessageNotFound on edit, got %v", err)
		}
		if _, err := f.messages.SoftDelete(ctx, "not-a-uuid"); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("Expected ErrMessageNotFound on delete, got %v", err)
		}
	})
}

func TestMemoryRoomStore_ReleasesRoomLocks(t *testing.T) {
	f := memoryFixture(t)
	store := f.rooms.(*MemoryRoomStore)
	ctx := context.Background()

	room, _ := createTestRoom(t, f, "locks")
	addTestMember(t, f, room.ID, f.prefix+"_viewer", model.MemberRoleAudience)

	if n := store.locks.Len(); n != 0 {
		t.Errorf("Expected no lock entries after the transaction, got %d", n)
	}

	if err := store.DeleteRoom(ctx, room.ID); err != nil {
		t.Fatalf("Failed to delete room: %v", err)
	}
	if err := store.InRoomTx(ctx, room.ID, func(tx RoomTx) error { return nil }); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}
	if n := store.locks.Len(); n != 0 {
		t.Errorf("Expected no lock entries after delete, got %d", n)
	}
}
