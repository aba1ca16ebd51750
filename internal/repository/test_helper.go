package repository

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-demo/liveroom/internal/model"
	"github.com/go-demo/liveroom/internal/pkg/database"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// 全域計數器確保唯一性
var testCounter int64

const nonExistentUUID = "00000000-0000-0000-0000-000000000000"

// GenerateUniquePrefix 生成唯一的測試前綴
// 使用 UUID 確保並行測試不會衝突
func GenerateUniquePrefix() string {
	count := atomic.AddInt64(&testCounter, 1)
	return uuid.New().String()[:8] + "_" + time.Now().Format("150405") + "_" + string(rune(count%26+'a'))
}

// SetupIsolatedTestDB 建立隔離的測試資料庫連線並套用 schema
func SetupIsolatedTestDB(t *testing.T) (*sqlx.DB, string) {
	t.Helper()

	dsn := "host=localhost port=5432 user=postgres password=postgres dbname=liveroom_test sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("Skipping test, could not connect to test database: %v", err)
	}

	if err := database.Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db, GenerateUniquePrefix()
}

// CleanupTestDataByPrefix 清理特定前綴的測試資料
// rooms 刪除時 room_members 與 messages 會連帶刪除
func CleanupTestDataByPrefix(t *testing.T, db *sqlx.DB, prefix string) {
	t.Helper()

	_, _ = db.ExecContext(context.Background(), "DELETE FROM rooms WHERE host_id LIKE $1", prefix+"%")
}

// storeFixture gives a contract test a fresh store pair and a prefix for
// user IDs and channel names
type storeFixture struct {
	rooms    RoomStore
	messages MessageStore
	prefix   string
}

func memoryFixture(t *testing.T) *storeFixture {
	t.Helper()
	return &storeFixture{
		rooms:    NewMemoryRoomStore(),
		messages: NewMemoryMessageStore(),
		prefix:   GenerateUniquePrefix(),
	}
}

func postgresFixture(t *testing.T) *storeFixture {
	t.Helper()

	db, prefix := SetupIsolatedTestDB(t)
	t.Cleanup(func() {
		CleanupTestDataByPrefix(t, db, prefix)
		db.Close()
	})

	return &storeFixture{
		rooms:    NewRoomRepository(db),
		messages: NewMessageRepository(db),
		prefix:   prefix,
	}
}

// createTestRoom 建立測試房間與其 host
func createTestRoom(t *testing.T, f *storeFixture, name string) (*model.Room, *model.RoomMember) {
	t.Helper()

	hostID := f.prefix + "_" + name + "_host"
	room := &model.Room{
		ChannelName: f.prefix + "_" + name,
		Name:        name,
		HostID:      hostID,
		Status:      model.RoomStatusActive,
		Settings:    model.DefaultRoomSettings(),
	}
	host := &model.RoomMember{
		UserID: hostID,
		Role:   model.MemberRoleHost,
		Status: model.MemberStatusJoined,
	}

	if err := f.rooms.CreateRoom(context.Background(), room, host); err != nil {
		t.Fatalf("Failed to create test room: %v", err)
	}

	return room, host
}

// addTestMember 在房間交易中新增成員
func addTestMember(t *testing.T, f *storeFixture, roomID, userID string, role model.MemberRole) *model.RoomMember {
	t.Helper()

	member := &model.RoomMember{
		UserID: userID,
		Role:   role,
		Status: model.MemberStatusJoined,
	}
	err := f.rooms.InRoomTx(context.Background(), roomID, func(tx RoomTx) error {
		return tx.InsertMember(context.Background(), member)
	})
	if err != nil {
		t.Fatalf("Failed to add test member: %v", err)
	}

	return member
}
