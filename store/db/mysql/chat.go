package mysql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/useparley/parley/store"
)

func (d *DB) CreateRoom(ctx context.Context, create *store.Room) (*store.Room, error) {
	now := time.Now().Unix()
	if create.Tier == "" {
		create.Tier = "free"
	}
	stmt := "INSERT INTO room (uid, title, tier, created_ts, updated_ts) VALUES (?, ?, ?, ?, ?)"
	if _, err := d.db.ExecContext(ctx, stmt, create.UID, create.Title, create.Tier, now, now); err != nil {
		return nil, err
	}
	return d.GetRoom(ctx, &store.FindRoom{UID: &create.UID})
}

func (d *DB) ListRooms(ctx context.Context, find *store.FindRoom) ([]*store.Room, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = ?"), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "uid = ?"), append(args, *v)
	}
	query := fmt.Sprintf(
		"SELECT id, uid, title, tier, created_ts, updated_ts FROM room WHERE %s ORDER BY updated_ts DESC",
		strings.Join(where, " AND "),
	)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Room
	for rows.Next() {
		r := &store.Room{}
		if err := rows.Scan(&r.ID, &r.UID, &r.Title, &r.Tier, &r.CreatedTs, &r.UpdatedTs); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func (d *DB) GetRoom(ctx context.Context, find *store.FindRoom) (*store.Room, error) {
	list, err := d.ListRooms(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (d *DB) UpdateRoom(ctx context.Context, update *store.UpdateRoom) (*store.Room, error) {
	set, args := []string{"updated_ts = ?"}, []any{time.Now().Unix()}
	if v := update.Title; v != nil {
		set, args = append(set, "title = ?"), append(args, *v)
	}
	if v := update.Tier; v != nil {
		set, args = append(set, "tier = ?"), append(args, *v)
	}
	args = append(args, update.UID)
	stmt := fmt.Sprintf("UPDATE room SET %s WHERE uid = ?", strings.Join(set, ", "))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, err
	}
	return d.GetRoom(ctx, &store.FindRoom{UID: &update.UID})
}

func (d *DB) DeleteRoom(ctx context.Context, uid string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM room WHERE uid = ?", uid)
	return err
}

func (d *DB) CreateThread(ctx context.Context, create *store.Thread) (*store.Thread, error) {
	now := time.Now().Unix()
	stmt := "INSERT INTO thread (uid, room_id, title, created_ts, updated_ts) VALUES (?, ?, ?, ?, ?)"
	if _, err := d.db.ExecContext(ctx, stmt, create.UID, create.RoomID, create.Title, now, now); err != nil {
		return nil, err
	}
	return d.GetThread(ctx, &store.FindThread{UID: &create.UID})
}

func (d *DB) ListThreads(ctx context.Context, find *store.FindThread) ([]*store.Thread, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = ?"), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "uid = ?"), append(args, *v)
	}
	if v := find.RoomID; v != nil {
		where, args = append(where, "room_id = ?"), append(args, *v)
	}
	query := fmt.Sprintf(
		"SELECT id, uid, room_id, title, created_ts, updated_ts FROM thread WHERE %s ORDER BY updated_ts DESC",
		strings.Join(where, " AND "),
	)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Thread
	for rows.Next() {
		t := &store.Thread{}
		if err := rows.Scan(&t.ID, &t.UID, &t.RoomID, &t.Title, &t.CreatedTs, &t.UpdatedTs); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (d *DB) GetThread(ctx context.Context, find *store.FindThread) (*store.Thread, error) {
	list, err := d.ListThreads(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (d *DB) DeleteThread(ctx context.Context, uid string) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM thread WHERE uid = ?", uid)
	return err
}

func (d *DB) CreateMessage(ctx context.Context, create *store.CreateMessage) (*store.Message, error) {
	now := time.Now().Unix()
	stmt := `INSERT INTO message (thread_id, sender_id, role, content, model, token_count, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	result, err := d.db.ExecContext(ctx, stmt,
		create.ThreadID, create.SenderID, create.Role, create.Content, create.Model, create.TokenCount, now)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &store.Message{
		ID:         int32(id),
		ThreadID:   create.ThreadID,
		SenderID:   create.SenderID,
		Role:       create.Role,
		Content:    create.Content,
		Model:      create.Model,
		TokenCount: create.TokenCount,
		CreatedTs:  now,
	}, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	query := `SELECT id, thread_id, sender_id, role, content, model, token_count, created_ts
		FROM message WHERE thread_id = ? ORDER BY id ASC`
	args := []any{find.ThreadID}
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Message
	for rows.Next() {
		m := &store.Message{}
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.Role, &m.Content, &m.Model, &m.TokenCount, &m.CreatedTs); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (d *DB) CountThreadMessages(ctx context.Context, threadID int32) (int32, error) {
	var count int32
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM message WHERE thread_id = ?", threadID).Scan(&count)
	return count, err
}
